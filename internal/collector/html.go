package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

// htmlParser 描述一种页面结构：selector 命中的每个元素交给 element 解析；
// 页面结构变化导致 selector 一条都没命中时，用 fallback 在原始 HTML 上做正则兜底。
type htmlParser struct {
	selector string
	element  func(e *colly.HTMLElement) (RawItem, bool)
	fallback func(body string) []RawItem
}

var htmlParsers = map[Shape]htmlParser{
	ShapeGitHubTrending: githubTrendingParser,
	ShapeTrends24:       trends24Parser,
	ShapeGetDayTrends:   getDayTrendsParser,
	ShapeBaiduBoard:     baiduBoardParser,
}

func (c *Crawler) fetchHTML(ctx context.Context, s Strategy) ([]RawItem, error) {
	p, ok := htmlParsers[s.Shape]
	if !ok {
		return nil, fmt.Errorf("%w: html %q", ErrUnknownShape, s.Shape)
	}

	col := colly.NewCollector(colly.UserAgent(defaultUserAgent))
	if c.client.Transport != nil {
		col.WithTransport(c.client.Transport)
	}
	if dl, ok := ctx.Deadline(); ok {
		col.SetRequestTimeout(time.Until(dl))
	}

	var (
		items []RawItem
		body  []byte
		seen  = make(map[string]bool)
	)
	col.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for k, v := range s.Headers {
			r.Headers.Set(k, v)
		}
	})
	col.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	if p.selector != "" && p.element != nil {
		col.OnHTML(p.selector, func(e *colly.HTMLElement) {
			it, ok := p.element(e)
			if !ok || seen[it.URL] {
				return
			}
			seen[it.URL] = true
			items = append(items, it)
		})
	}

	if err := col.Visit(s.URL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", s.URL, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 && p.fallback != nil && len(body) > 0 {
		items = p.fallback(string(body))
	}
	return items, nil
}
