package collector

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// fetchFeed 解析 RSS/Atom，只使用几乎所有订阅格式都有的字段：标题、链接、摘要、发布时间
func (c *Crawler) fetchFeed(ctx context.Context, s Strategy) ([]RawItem, error) {
	body, err := c.get(ctx, s.URL, s.Headers)
	if err != nil {
		return nil, err
	}
	return parseFeed(string(body))
}

func parseFeed(body string) ([]RawItem, error) {
	parsed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	out := make([]RawItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		link := extractLink(entry)
		raw := RawItem{
			Title:       entry.Title,
			URL:         link,
			Description: plainText(firstNonEmpty(entry.Description, entry.Content)),
		}
		if entry.PublishedParsed != nil {
			raw.PubDate = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			raw.PubDate = *entry.UpdatedParsed
		}
		if entry.Author != nil && entry.Author.Name != "" {
			raw.Extra = map[string]any{"author": entry.Author.Name}
		}
		out = append(out, raw)
	}
	return out, nil
}

// extractLink 优先用 Link，没有时用看起来像 URL 的 GUID
func extractLink(entry *gofeed.Item) string {
	if entry.Link != "" {
		return entry.Link
	}
	if strings.HasPrefix(entry.GUID, "http") {
		return entry.GUID
	}
	return ""
}

// plainText 去掉 HTML 标签，类似 contentSnippet
func plainText(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
