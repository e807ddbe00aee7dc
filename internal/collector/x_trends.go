package collector

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
)

const (
	xTrendDescription = "X (Twitter) 热搜话题，点击在 X 上搜索。"
	// 话题标题的最大字符数（按 rune 计）
	xTrendMaxTitleRunes = 200
)

var (
	// <a href="https://twitter.com/search?q=..." ...>标题</a>（class 可有可无、顺序任意）
	xTrendLinkPattern = regexp.MustCompile(`<a\s+[^>]*href="(https://twitter\.com/search\?q=[^"]+)"[^>]*>([^<]+)</a>`)
	// 仅有 href，用 q= 后的值解码作为标题
	xTrendHrefPattern = regexp.MustCompile(`href="(https://twitter\.com/search\?q=([^"]+))"`)
	// getdaytrends.com 的链接形如 /trend/话题名/
	getDayTrendsPattern = regexp.MustCompile(`<a\s+href="(?:https://getdaytrends\.com)?/trend/([^"]+?)/?"[^>]*>([^<]+)</a>`)
)

// trends24Parser 解析 trends24.in 的 X (Twitter) 热搜
var trends24Parser = htmlParser{
	selector: "a.trend-link[href*='twitter.com/search'], a[href*='twitter.com/search']",
	element:  parseTrendLink,
	fallback: parseTrendLinks,
}

// getDayTrendsParser 只有正则解析，页面不稳定，不依赖 DOM 结构
var getDayTrendsParser = htmlParser{
	fallback: parseGetDayTrends,
}

func parseTrendLink(e *colly.HTMLElement) (RawItem, bool) {
	href := strings.TrimSpace(e.Attr("href"))
	title := strings.TrimSpace(e.DOM.Text())
	if href == "" || title == "" {
		return RawItem{}, false
	}
	return xTrend(title, toXSearchURL(href)), true
}

func xTrend(title, link string) RawItem {
	return RawItem{Title: title, URL: link, Description: xTrendDescription}
}

// parseTrendLinks 从 HTML 中解析出所有 twitter.com/search 链接及标题（多种格式兼容）
func parseTrendLinks(html string) []RawItem {
	seen := make(map[string]bool)
	var list []RawItem

	for _, m := range xTrendLinkPattern.FindAllStringSubmatch(html, -1) {
		href := m[1]
		title := strings.TrimSpace(m[2])
		if title == "" || utf8.RuneCountInString(title) > xTrendMaxTitleRunes || seen[href] {
			continue
		}
		seen[href] = true
		list = append(list, xTrend(title, toXSearchURL(href)))
	}

	if len(list) == 0 {
		for _, m := range xTrendHrefPattern.FindAllStringSubmatch(html, -1) {
			if seen[m[1]] {
				continue
			}
			seen[m[1]] = true
			title := m[2]
			if dec, err := url.QueryUnescape(title); err == nil && dec != "" {
				title = dec
			}
			title = clipRunes(title, xTrendMaxTitleRunes)
			list = append(list, xTrend(title, toXSearchURL(m[1])))
		}
	}
	return list
}

// clipRunes 按 rune 截断，不会切开多字节字符
func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func toXSearchURL(twitterSearchURL string) string {
	if strings.Contains(twitterSearchURL, "twitter.com") {
		return "https://x.com/search?" + strings.TrimPrefix(twitterSearchURL, "https://twitter.com/search?")
	}
	return twitterSearchURL
}

func parseGetDayTrends(html string) []RawItem {
	seen := make(map[string]bool)
	var list []RawItem
	for _, m := range getDayTrendsPattern.FindAllStringSubmatch(html, -1) {
		linkText := strings.TrimSpace(m[2])
		if linkText == "" || utf8.RuneCountInString(linkText) > xTrendMaxTitleRunes {
			continue
		}
		title := linkText
		if dec, err := url.PathUnescape(m[1]); err == nil && dec != "" {
			title = dec
		}
		if seen[title] {
			continue
		}
		seen[title] = true
		list = append(list, xTrend(title, "https://x.com/search?q="+url.QueryEscape(title)))
	}
	return list
}
