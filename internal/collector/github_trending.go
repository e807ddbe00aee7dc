package collector

import (
	"strconv"
	"strings"

	"github.com/gocolly/colly/v2"
)

// githubTrendingParser 解析 GitHub Trending 页，仓库介绍取 p 标签
var githubTrendingParser = htmlParser{
	selector: "article.Box-row",
	element:  parseGitHubTrendingRow,
}

func parseGitHubTrendingRow(e *colly.HTMLElement) (RawItem, bool) {
	titleSel := e.DOM.Find("h2 a")
	if titleSel.Length() == 0 {
		return RawItem{}, false
	}
	href, exists := titleSel.Attr("href")
	if !exists {
		return RawItem{}, false
	}
	// "owner /\n   repo" 压成 "owner/repo"
	repoName := strings.Join(strings.Fields(titleSel.Text()), "")
	if repoName == "" {
		return RawItem{}, false
	}

	starsText := strings.TrimSpace(e.ChildText(`a[href$="/stargazers"]`))
	stars := parseStars(starsText)
	lang := strings.TrimSpace(e.ChildText(`span[itemprop="programmingLanguage"]`))

	return RawItem{
		Title:       repoName,
		URL:         e.Request.AbsoluteURL(strings.TrimSpace(href)),
		Description: strings.TrimSpace(e.ChildText("p")),
		HotScore:    float64(stars),
		Extra: map[string]any{
			"stars":    stars,
			"language": lang,
		},
	}, true
}

// parseStars 将 GitHub Trending 中“12.3k”之类的文本解析为整数
func parseStars(text string) int {
	text = strings.ReplaceAll(text, ",", "")
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	multiplier := 1.0
	if strings.HasSuffix(text, "k") || strings.HasSuffix(text, "K") {
		multiplier = 1000
		text = strings.TrimSuffix(strings.TrimSuffix(text, "k"), "K")
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0
	}
	return int(f * multiplier)
}
