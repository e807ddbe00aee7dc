package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/HotlistHub/internal/cache"
	"github.com/LJTian/HotlistHub/internal/ratelimit"
	"github.com/LJTian/HotlistHub/internal/retry"
)

var fixedNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func noWaitRetry() *retry.Executor {
	return retry.New(retry.DefaultConfig()).WithSleep(func(context.Context, time.Duration) error { return nil })
}

func newTestCrawler(t *testing.T, desc Descriptor, store *cache.Store[[]Item]) *Crawler {
	t.Helper()
	c, err := NewCrawler(desc, Deps{
		Cache: store,
		Retry: noWaitRetry(),
		Now:   func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return c
}

func TestFetchFallsBackToNextStrategy(t *testing.T) {
	var primaryCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/primary", func(w http.ResponseWriter, _ *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/secondary", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"title":"A","url":"http://x"}]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := cache.New[[]Item](nil, cache.Options{})
	c := newTestCrawler(t, Descriptor{
		Name:     "测试源",
		Platform: "test",
		Category: "tech",
		Enabled:  true,
		Retry:    2,
		Strategies: []Strategy{
			{Name: "secondary", Priority: 2, Type: StrategyAPI, URL: srv.URL + "/secondary", Shape: ShapeList},
			{Name: "primary", Priority: 1, Type: StrategyAPI, URL: srv.URL + "/primary", Shape: ShapeList},
		},
	}, store)

	res, err := c.Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "secondary", res.Strategy)
	assert.False(t, res.FromCache)
	assert.EqualValues(t, 2, primaryCalls.Load(), "primary should be retried up to the retry count")

	it := res.Items[0]
	assert.Equal(t, "A", it.Title)
	assert.Equal(t, "http://x", it.URL)
	assert.Equal(t, 1, it.Rank)
	assert.Equal(t, GenerateID("http://x", "A"), it.ID)
	assert.Equal(t, "test", it.Platform)
	assert.Equal(t, "测试源", it.Source)
	assert.Equal(t, fixedNow, it.PubDate)

	cached, ok := store.Get(context.Background(), c.CacheKey(), time.Minute)
	require.True(t, ok)
	assert.Equal(t, res.Items, cached)
}

func TestFetchAllStrategiesFailDoesNotCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			fmt.Fprint(w, `[]`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := cache.New[[]Item](nil, cache.Options{})
	c := newTestCrawler(t, Descriptor{
		Name:     "坏源",
		Platform: "broken",
		Retry:    1,
		Strategies: []Strategy{
			{Name: "down", Priority: 1, Type: StrategyAPI, URL: srv.URL + "/down"},
			{Name: "empty", Priority: 2, Type: StrategyAPI, URL: srv.URL + "/empty", Shape: ShapeList},
		},
	}, store)

	_, err := c.Fetch(context.Background(), FetchOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllStrategiesFailed)
	assert.ErrorIs(t, err, ErrHTTPStatus)

	_, ok := store.Get(context.Background(), c.CacheKey(), time.Minute)
	assert.False(t, ok)
	assert.EqualValues(t, 0, store.Stats().Sets)
}

func TestFetchUsesCacheUnlessSkipped(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"data":{"realtime":[{"word":"热搜一","num":100},{"word":"热搜二","word_scheme":"#热搜二#","num":90}]}}`)
	}))
	defer srv.Close()

	store := cache.New[[]Item](nil, cache.Options{})
	c := newTestCrawler(t, Descriptor{
		Name:       "微博热搜",
		Platform:   "weibo",
		Strategies: []Strategy{{Name: "official-api", Priority: 1, Type: StrategyAPI, URL: srv.URL, Shape: ShapeWeibo}},
	}, store)
	ctx := context.Background()

	first, err := c.Fetch(ctx, FetchOptions{})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, 2, first.Items[1].Rank)

	second, err := c.Fetch(ctx, FetchOptions{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "cache", second.Strategy)
	assert.EqualValues(t, 1, calls.Load())

	_, err = c.Fetch(ctx, FetchOptions{SkipCache: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetchFeedStrategy(t *testing.T) {
	const rss = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>V2EX</title>
<item><title>第一个话题</title><link>https://www.v2ex.com/t/1</link><description>&lt;p&gt;内容 &lt;b&gt;一&lt;/b&gt;&lt;/p&gt;</description><pubDate>Mon, 03 Jun 2024 10:00:00 +0000</pubDate></item>
<item><title>第二个话题</title><guid>https://www.v2ex.com/t/2</guid></item>
</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rss)
	}))
	defer srv.Close()

	c := newTestCrawler(t, Descriptor{
		Name:       "V2EX",
		Platform:   "v2ex",
		Strategies: []Strategy{{Name: "rsshub", Priority: 1, Type: StrategyRSS, URL: srv.URL}},
	}, nil)

	res, err := c.Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "内容 一", res.Items[0].Description)
	assert.Equal(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC), res.Items[0].PubDate.UTC())
	assert.Equal(t, "https://www.v2ex.com/t/2", res.Items[1].URL)
	assert.Equal(t, fixedNow, res.Items[1].PubDate)
}

func TestFetchHTMLGitHubTrending(t *testing.T) {
	const page = `<html><body>
<article class="Box-row"><h2><a href="/golang/go"> golang /
   go </a></h2><p>The Go programming language</p><a href="/golang/go/stargazers">12.3k</a></article>
<article class="Box-row"><h2><a href="/redis/go-redis">redis / go-redis</a></h2><p></p><a href="/redis/go-redis/stargazers">1,024</a></article>
</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	c := newTestCrawler(t, Descriptor{
		Name:       "GitHub Trending",
		Platform:   "github",
		Strategies: []Strategy{{Name: "trending-page", Priority: 1, Type: StrategyHTML, URL: srv.URL + "/trending", Shape: ShapeGitHubTrending}},
	}, nil)

	res, err := c.Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "golang/go", res.Items[0].Title)
	assert.Equal(t, srv.URL+"/golang/go", res.Items[0].URL)
	assert.Equal(t, 12300.0, res.Items[0].HotScore)
	assert.Equal(t, "The Go programming language", res.Items[0].Description)
	assert.Equal(t, 1024.0, res.Items[1].HotScore)
}

func TestFetchHTMLRegexpFallback(t *testing.T) {
	// 没有 <a> 标签文本，只能从 href 中解出标题
	const page = `<html><body><div data-x='1' href="https://twitter.com/search?q=%23GoLang"></div></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, page)
	}))
	defer srv.Close()

	c := newTestCrawler(t, Descriptor{
		Name:       "X 趋势",
		Platform:   "x",
		Strategies: []Strategy{{Name: "trends24", Priority: 1, Type: StrategyHTML, URL: srv.URL, Shape: ShapeTrends24}},
	}, nil)

	res, err := c.Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "#GoLang", res.Items[0].Title)
	assert.Equal(t, "https://x.com/search?q=%23GoLang", res.Items[0].URL)
}

func TestFetchHackerNews(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v0/topstories.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[2, 1, 3]`)
	})
	mux.HandleFunc("/v0/item/1.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":1,"title":"Show HN: one","url":"https://one.example","score":50,"by":"a","time":1700000000,"type":"story"}`)
	})
	mux.HandleFunc("/v0/item/2.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":2,"title":"Ask HN: two","score":80,"by":"b","time":1700000100,"type":"story"}`)
	})
	mux.HandleFunc("/v0/item/3.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":3,"title":"a job","type":"job"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestCrawler(t, Descriptor{
		Name:       "Hacker News",
		Platform:   "hackernews",
		Strategies: []Strategy{{Name: "firebase", Priority: 1, Type: StrategyAPI, URL: srv.URL + "/v0/topstories.json", Shape: ShapeHackerNews}},
	}, nil)

	res, err := c.Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Ask HN: two", res.Items[0].Title)
	assert.Equal(t, 1, res.Items[0].Rank)
	assert.Equal(t, "https://news.ycombinator.com/item?id=2", res.Items[0].URL)
	assert.Equal(t, 2, res.Items[1].Rank)
	assert.Equal(t, time.Unix(1700000000, 0), res.Items[1].PubDate)
}

func TestFetchHackerNewsCountsEveryRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v0/topstories.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[1, 2, 3]`)
	})
	mux.HandleFunc("/v0/item/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":1,"title":"story %s","type":"story"}`, r.URL.Path)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	limiter := ratelimit.NewGroup(100, time.Minute)
	c, err := NewCrawler(Descriptor{
		Name:       "Hacker News",
		Platform:   "hackernews",
		Strategies: []Strategy{{Name: "firebase", Priority: 1, Type: StrategyAPI, URL: srv.URL + "/v0/topstories.json", Shape: ShapeHackerNews}},
	}, Deps{Retry: noWaitRetry(), Limiter: limiter})
	require.NoError(t, err)

	res, err := c.Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	// id 列表 1 次 + 详情 3 次
	assert.Equal(t, 4, limiter.Status()["api"].Current)
}

func TestFetchTranslatesTitles(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"title":"Hello world","url":"https://a.example"},{"title":"已经是中文","url":"https://b.example"}]`)
	}))
	defer api.Close()
	google := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Hello world", r.URL.Query().Get("q"))
		fmt.Fprint(w, `[[["你好世界","Hello world",null,null]],null,"en"]`)
	}))
	defer google.Close()

	c, err := NewCrawler(Descriptor{
		Name:       "HN",
		Platform:   "hn",
		Translate:  TranslateTitle,
		Strategies: []Strategy{{Name: "api", Priority: 1, Type: StrategyAPI, URL: api.URL, Shape: ShapeList}},
	}, Deps{
		Retry:      noWaitRetry(),
		Translator: NewTranslator(nil, nil, WithEndpoints(google.URL, google.URL)),
	})
	require.NoError(t, err)

	res, err := c.Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "你好世界", res.Items[0].Title)
	assert.Equal(t, "Hello world", res.Items[0].Extra["original_title"])
	// 翻译不改变 ID
	assert.Equal(t, GenerateID("https://a.example", "Hello world"), res.Items[0].ID)
	assert.Equal(t, "已经是中文", res.Items[1].Title)
	assert.Nil(t, res.Items[1].Extra)
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"title":"A","url":"http://x"}]`)
	}))
	defer srv.Close()

	c := newTestCrawler(t, Descriptor{
		Name:       "t",
		Platform:   "t",
		Strategies: []Strategy{{Name: "api", Priority: 1, Type: StrategyAPI, URL: srv.URL, Shape: ShapeList}},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Fetch(ctx, FetchOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewCrawlerRejectsInvalidDescriptor(t *testing.T) {
	cases := []Descriptor{
		{Name: "x"},
		{Platform: "p", Name: "x"},
		{Platform: "p", Name: "x", Strategies: []Strategy{{Name: "s", URL: "http://x", Type: "ftp"}}},
		{Platform: "p", Name: "x", Strategies: []Strategy{{Name: "s", URL: "http://x", Type: StrategyHTML, Shape: "nope"}}},
		{Platform: "p", Name: "x", Strategies: []Strategy{{Name: "s", URL: "http://x", Type: StrategyAPI, Shape: "nope"}}},
		{Platform: "p", Name: "x", Translate: "body", Strategies: []Strategy{{Name: "s", URL: "http://x", Type: StrategyRSS}}},
	}
	for i, d := range cases {
		_, err := NewCrawler(d, Deps{})
		assert.ErrorIs(t, err, ErrInvalidSource, "case %d", i)
	}
}
