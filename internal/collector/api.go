package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	maxResponseBytes = 4 << 20 // 4MB
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	hnMaxItems    = 30
	hnConcurrency = 10
)

// get 发起 GET 请求并读取响应体，非 2xx 返回 ErrHTTPStatus
func (c *Crawler) get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json, text/html, application/xml;q=0.9, */*;q=0.8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: HTTP %d", ErrHTTPStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *Crawler) fetchAPI(ctx context.Context, s Strategy) ([]RawItem, error) {
	body, err := c.get(ctx, s.URL, s.Headers)
	if err != nil {
		return nil, err
	}
	if s.Shape == ShapeHackerNews {
		return c.fetchHackerNews(ctx, s, body)
	}
	items, variantName, err := decodeShape(s.Shape, body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("api response decoded",
		zap.String("platform", c.desc.Platform),
		zap.String("strategy", s.Name),
		zap.String("variant", variantName),
		zap.Int("count", len(items)),
	)
	return items, nil
}

type hnItem struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Type        string `json:"type"`
}

// fetchHackerNews 官方 Firebase API 先返回 id 列表，再并发取每条详情；排名按 id 列表中的位置
func (c *Crawler) fetchHackerNews(ctx context.Context, s Strategy, body []byte) ([]RawItem, error) {
	var ids []int
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("%w: hackernews id list: %v", ErrUnknownShape, err)
	}
	if len(ids) > hnMaxItems {
		ids = ids[:hnMaxItems]
	}
	base := s.URL
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[:i]
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		sem   = make(chan struct{}, hnConcurrency)
		found = make(map[int]hnItem, len(ids))
	)
	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(id int) {
			defer wg.Done()
			defer func() { <-sem }()

			// 每条详情都是一次出站请求，单独计入 api 限流
			if c.limiter != nil {
				if err := c.limiter.Acquire(ctx, string(StrategyAPI)); err != nil {
					return
				}
			}
			data, err := c.get(ctx, fmt.Sprintf("%s/item/%d.json", base, id), s.Headers)
			if err != nil {
				c.logger.Debug("hackernews item fetch failed", zap.Int("id", id), zap.Error(err))
				return
			}
			var it hnItem
			if err := json.Unmarshal(data, &it); err != nil || it.Title == "" || it.Type != "story" {
				return
			}
			mu.Lock()
			found[id] = it
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	out := make([]RawItem, 0, len(found))
	for rank, id := range ids {
		it, ok := found[id]
		if !ok {
			continue
		}
		link := it.URL
		if link == "" {
			link = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", it.ID)
		}
		out = append(out, RawItem{
			ID:       fmt.Sprint(it.ID),
			Title:    it.Title,
			URL:      link,
			Rank:     rank + 1,
			HotScore: float64(it.Score),
			PubDate:  time.Unix(it.Time, 0),
			Extra: map[string]any{
				"author":   it.By,
				"comments": it.Descendants,
				"score":    it.Score,
			},
		})
	}
	return out, nil
}
