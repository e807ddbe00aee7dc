// Package processor 把各数据源的热榜条目转成统一的文章结构，并与已有文章去重合并
package processor

import (
	"sort"
	"strings"
	"time"

	"github.com/LJTian/HotlistHub/internal/collector"
)

// descriptionMaxRunes 介绍文案的最大长度，超出按 rune 截断并加省略号
const descriptionMaxRunes = 200

// Article 是下游（检索、展示）统一读取的结构，热榜条目和普通文章共用
type Article struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Platform    string         `json:"platform"`
	Category    string         `json:"category"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	PubDate     time.Time      `json:"pubDate"`
	Description string         `json:"description"`
	// 热榜通常没有全文，Text 与 Description 相同
	Text      string         `json:"text"`
	IsHotlist bool           `json:"isHotlist"`
	Rank      int            `json:"rank,omitempty"`
	HotScore  float64        `json:"hotScore,omitempty"`
	CrawledAt time.Time      `json:"crawledAt"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Key 是去重键：url，url 为空时用标题
func (a Article) Key() string {
	if u := strings.TrimSpace(a.URL); u != "" {
		return u
	}
	return strings.TrimSpace(a.Title)
}

// Merger 去重合并新抓取和已有的文章
type Merger struct {
	now func() time.Time
}

func NewMerger() *Merger {
	return &Merger{now: time.Now}
}

// WithClock 替换取当前时间的函数，用于无法解析发布时间的条目排序
func (m *Merger) WithClock(now func() time.Time) *Merger {
	return &Merger{now: now}
}

// ToArticle 把一条热榜条目转成文章结构
func ToArticle(it collector.Item) Article {
	desc := truncateRunes(strings.ToValidUTF8(it.Description, "\uFFFD"), descriptionMaxRunes)
	return Article{
		ID:          it.ID,
		Source:      it.Source,
		Platform:    it.Platform,
		Category:    it.Category,
		Title:       strings.TrimSpace(it.Title),
		URL:         it.URL,
		PubDate:     it.PubDate,
		Description: desc,
		Text:        desc,
		IsHotlist:   true,
		Rank:        it.Rank,
		HotScore:    it.HotScore,
		CrawledAt:   it.CrawledAt,
		Extra:       it.Extra,
	}
}

func HotlistToArticles(items []collector.Item) []Article {
	out := make([]Article, 0, len(items))
	for _, it := range items {
		out = append(out, ToArticle(it))
	}
	return out
}

// DedupAndMerge 新条目排在已有条目之前，按 Key 去重时保留第一次出现的条目，
// 因此新抓取的重复项会覆盖旧的。结果按发布时间倒序，发布时间缺失的按当前时间排序。
func (m *Merger) DedupAndMerge(newItems, prior []Article) []Article {
	seen := make(map[string]struct{}, len(newItems)+len(prior))
	out := make([]Article, 0, len(newItems)+len(prior))
	for _, list := range [][]Article{newItems, prior} {
		for _, a := range list {
			key := a.Key()
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, a)
		}
	}

	now := m.now()
	sortTime := func(a Article) time.Time {
		if a.PubDate.IsZero() {
			return now
		}
		return a.PubDate
	}
	sort.SliceStable(out, func(i, j int) bool {
		return sortTime(out[i]).After(sortTime(out[j]))
	})
	return out
}

// truncateRunes 按 rune 截断，超出时追加省略号
func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if limit <= 0 || len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}
