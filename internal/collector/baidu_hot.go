package collector

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// baiduBoardParser 解析百度实时热搜榜页面，是 board 接口之外的备用策略
var baiduBoardParser = htmlParser{
	selector: "div.category-wrap_iQLoo",
	element:  parseBaiduBoardEntry,
}

// 页面结构可能调整，依次尝试这些介绍段落的 selector
var baiduDescSelectors = []string{
	"div[class*='content']",
	"div[class*='Content']",
	"div[class*='desc']",
	"div[class*='abstract']",
	"div[class*='intro']",
	"div[class*='summary']",
	"p",
	"span[class*='desc']",
}

func parseBaiduBoardEntry(e *colly.HTMLElement) (RawItem, bool) {
	title := strings.TrimSpace(e.ChildText("div.c-single-text-ellipsis"))
	if title == "" {
		return RawItem{}, false
	}

	link := e.Request.AbsoluteURL("/board?tab=realtime")
	if href := e.ChildAttr("a", "href"); href != "" {
		link = e.Request.AbsoluteURL(href)
	}

	heatText := strings.TrimSpace(e.ChildText("div.hot-index_1Bl1a"))

	var desc string
	for _, sel := range baiduDescSelectors {
		if desc = strings.TrimSpace(e.ChildText(sel)); desc != "" {
			break
		}
	}
	if desc == "" {
		desc = fallbackBaiduDesc(e, title, heatText)
	}

	return RawItem{
		Title:       title,
		URL:         link,
		Description: cleanBaiduDesc(desc),
		HotScore:    parseHeat(heatText),
		Extra:       map[string]any{"heat": heatText},
	}, true
}

// cleanBaiduDesc 去掉简介中的“查看更多”等链接文案，只保留正文
func cleanBaiduDesc(s string) string {
	s = strings.TrimSpace(s)
	for _, cut := range []string{"[查看更多>]", "[查看更多&gt;]", "查看更多"} {
		if idx := strings.Index(s, cut); idx != -1 {
			s = strings.TrimSpace(s[:idx])
		}
	}
	return s
}

// fallbackBaiduDesc 从当前条目内找非标题、非热度的最长段落
func fallbackBaiduDesc(e *colly.HTMLElement, title, heatText string) string {
	var best string
	const minLen = 20

	e.DOM.Find("div, p, span").Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if t == "" || t == title || t == heatText || len(t) < minLen {
			return
		}
		// 排除纯数字（热度）
		if _, err := strconv.Atoi(strings.ReplaceAll(t, ",", "")); err == nil && len(t) < 30 {
			return
		}
		if len(t) > len(best) {
			best = t
		}
	})
	return best
}
