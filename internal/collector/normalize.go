package collector

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// GenerateID 对 url 做 sha1，url 为空时退回到标题；相同输入总是得到相同 ID
func GenerateID(url, title string) string {
	key := strings.TrimSpace(url)
	if key == "" {
		key = strings.TrimSpace(title)
	}
	h := sha1.New()
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize 把策略返回的 RawItem 转成 Item：
// ID 总是 url（没有 url 时用标题）的哈希，提供方自带的 id 放到 Extra["source_id"]；
// 缺排名用列表中的位置（从 1 开始），缺发布时间用 now。
// 没有标题的条目会被丢弃，dropped 返回丢弃的条数。
func Normalize(d Descriptor, raws []RawItem, now time.Time) (out []Item, dropped int) {
	out = make([]Item, 0, len(raws))
	for i, r := range raws {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			dropped++
			continue
		}
		link := strings.TrimSpace(r.URL)

		extra := r.Extra
		if r.ID != "" {
			extra = make(map[string]any, len(r.Extra)+1)
			for k, v := range r.Extra {
				extra[k] = v
			}
			extra["source_id"] = r.ID
		}
		rank := r.Rank
		if rank <= 0 {
			rank = i + 1
		}
		pub := r.PubDate
		if pub.IsZero() {
			pub = now
		}

		out = append(out, Item{
			ID:          GenerateID(link, title),
			Source:      d.Name,
			Platform:    d.Platform,
			Category:    d.Category,
			Title:       title,
			URL:         link,
			PubDate:     pub,
			Description: strings.TrimSpace(r.Description),
			Rank:        rank,
			HotScore:    r.HotScore,
			CrawledAt:   now,
			Extra:       extra,
		})
		if d.MaxItems > 0 && len(out) >= d.MaxItems {
			break
		}
	}
	return out, dropped
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime 解析常见的时间字符串和 unix 秒/毫秒，无法解析时返回零值
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unixAuto(n)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func unixAuto(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	// 13 位按毫秒处理
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

// parseHeat 解析“123万”“1,234”“12.3k”之类的热度文本
func parseHeat(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}
	end := 0
	for ; end < len(s); end++ {
		if (s[end] < '0' || s[end] > '9') && s[end] != '.' {
			break
		}
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	rest := strings.TrimSpace(s[end:])
	switch {
	case strings.HasPrefix(rest, "亿"):
		f *= 1e8
	case strings.HasPrefix(rest, "万"), strings.HasPrefix(rest, "w"), strings.HasPrefix(rest, "W"):
		f *= 1e4
	case strings.HasPrefix(rest, "k"), strings.HasPrefix(rest, "K"):
		f *= 1e3
	}
	return f
}
