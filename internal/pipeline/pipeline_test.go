package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/HotlistHub/internal/collector"
	"github.com/LJTian/HotlistHub/internal/manager"
	"github.com/LJTian/HotlistHub/internal/processor"
	"github.com/LJTian/HotlistHub/internal/storage"
)

type stubCrawler struct {
	run    *manager.RunResult
	calls  int
	opts   manager.CrawlOptions
	plats  []string
	during func(ctx context.Context)
}

func (s *stubCrawler) CrawlAll(ctx context.Context, platforms []string, opts manager.CrawlOptions) *manager.RunResult {
	s.calls++
	s.opts = opts
	s.plats = platforms
	if s.during != nil {
		s.during(ctx)
	}
	return s.run
}

type recordingArchiver struct {
	snaps []storage.Snapshot
	err   error
}

func (a *recordingArchiver) Archive(_ context.Context, snap storage.Snapshot) error {
	a.snaps = append(a.snaps, snap)
	return a.err
}

type failingSnapshots struct{}

func (failingSnapshots) Write(context.Context, storage.Snapshot) error { return errors.New("redis down") }
func (failingSnapshots) Prior(context.Context, time.Time) (*storage.Snapshot, error) {
	return nil, storage.ErrNotFound
}

var fixedNow = time.Date(2025, 2, 3, 4, 0, 0, 0, time.UTC)

func setup(t *testing.T, run *manager.RunResult, opts ...Option) (*Pipeline, *stubCrawler, *miniredis.Miniredis, *storage.SnapshotWriter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	crawler := &stubCrawler{run: run}
	snaps := storage.NewSnapshotWriter(storage.NewRedisKV(client), storage.WithSnapshotClock(func() time.Time { return fixedNow }))
	kv := storage.NewRedisKV(client)
	newLock := func() Locker { return storage.NewDistributedLock(kv, storage.CrawlLockKey, 0) }
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(crawler, newLock, snaps, nil, opts...), crawler, mr, snaps
}

func item(platform, title, url string, pub time.Time) collector.Item {
	return collector.Item{
		ID:       collector.GenerateID(url, title),
		Platform: platform,
		Title:    title,
		URL:      url,
		PubDate:  pub,
	}
}

func partialRun() *manager.RunResult {
	return &manager.RunResult{
		ID: "run-42",
		Outcomes: []manager.Outcome{
			{Platform: "weibo", Name: "微博热搜", Category: "social", Success: true, Count: 2, Strategy: "official",
				Items: []collector.Item{
					item("weibo", "w1", "https://weibo/1", fixedNow.Add(-time.Minute)),
					item("weibo", "w2", "https://weibo/2", fixedNow.Add(-2*time.Minute)),
				}},
			{Platform: "zhihu", Name: "知乎热榜", Category: "social", Error: "all strategies failed"},
			{Platform: "toutiao", Name: "头条", Category: "news", Skipped: true},
		},
	}
}

func TestRunPublishesSnapshotOnPartialFailure(t *testing.T) {
	archiver := &recordingArchiver{}
	p, crawler, mr, snaps := setup(t, partialRun(), WithArchiver(archiver), WithInterSourceDelay(2*time.Second))

	out, err := p.Run(context.Background(), Request{Platforms: []string{"weibo", "zhihu"}, SkipCache: true})
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Equal(t, 2, out.Articles)
	assert.Equal(t, 1, crawler.calls)
	assert.Equal(t, manager.CrawlOptions{InterSourceDelay: 2 * time.Second, SkipCache: true}, crawler.opts)
	assert.Equal(t, []string{"weibo", "zhihu"}, crawler.plats)

	// 锁在运行结束后释放
	assert.False(t, mr.Exists(storage.CrawlLockKey))

	latest, err := snaps.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-42", latest.RunID)
	require.Len(t, latest.Hotlists, 2, "skipped platforms are left out")
	assert.Equal(t, "weibo", latest.Hotlists[0].Platform)
	assert.Empty(t, latest.Hotlists[1].Items)

	st := latest.Stats
	assert.Equal(t, 2, st.TotalPlatforms)
	assert.Equal(t, 2, st.TotalItems)
	assert.Equal(t, 1, st.Succeeded)
	assert.Equal(t, 1, st.Failed)
	require.Len(t, st.Platforms, 2)
	assert.Equal(t, "official", st.Platforms[0].Method)
	assert.Equal(t, "all strategies failed", st.Platforms[1].Error)

	assert.True(t, mr.Exists("hotlist:2025-02-03"))
	require.Len(t, archiver.snaps, 1)
	assert.Equal(t, "run-42", archiver.snaps[0].RunID)
}

func TestRunSkipsWhenLocked(t *testing.T) {
	p, crawler, mr, _ := setup(t, partialRun())
	require.NoError(t, mr.Set(storage.CrawlLockKey, "someone-else"))

	out, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Nil(t, out.Run)
	assert.Zero(t, crawler.calls)
	assert.False(t, mr.Exists(storage.LatestSnapshotKey))

	// 别人的锁不能被释放
	got, err := mr.Get(storage.CrawlLockKey)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRunMergesWithPriorSnapshot(t *testing.T) {
	p, _, _, snaps := setup(t, &manager.RunResult{
		ID: "run-2",
		Outcomes: []manager.Outcome{{
			Platform: "weibo", Success: true, Count: 1,
			Items: []collector.Item{item("weibo", "w1 updated", "https://weibo/1", fixedNow.Add(-time.Minute))},
		}},
	})
	prior := storage.Snapshot{
		RunID: "run-1",
		Articles: []processor.Article{
			{Platform: "weibo", Title: "w1", URL: "https://weibo/1", PubDate: fixedNow.Add(-time.Hour)},
			{Platform: "rss", Title: "blog", URL: "https://blog/1", PubDate: fixedNow.Add(-30 * time.Minute)},
		},
		Stats: storage.SnapshotStats{UpdatedAt: fixedNow.Add(-time.Hour)},
	}
	require.NoError(t, snaps.Write(context.Background(), prior))

	out, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 2, out.Articles)

	latest, err := snaps.Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, latest.Articles, 2)
	assert.Equal(t, "w1 updated", latest.Articles[0].Title, "current run wins on the same url")
	assert.True(t, latest.Articles[0].IsHotlist)
	assert.Equal(t, "blog", latest.Articles[1].Title)
}

func TestRunIsIdempotentAcrossRepeats(t *testing.T) {
	p, _, _, snaps := setup(t, partialRun())
	ctx := context.Background()

	_, err := p.Run(ctx, Request{})
	require.NoError(t, err)
	first, err := snaps.Latest(ctx)
	require.NoError(t, err)

	_, err = p.Run(ctx, Request{})
	require.NoError(t, err)
	second, err := snaps.Latest(ctx)
	require.NoError(t, err)

	require.Len(t, second.Articles, len(first.Articles))
	for i := range first.Articles {
		assert.Equal(t, first.Articles[i].Key(), second.Articles[i].Key())
	}
}

func TestRunReportsSnapshotWriteFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	archiver := &recordingArchiver{}
	p := New(&stubCrawler{run: partialRun()},
		func() Locker { return storage.NewDistributedLock(storage.NewRedisKV(client), storage.CrawlLockKey, 0) },
		failingSnapshots{}, nil, WithArchiver(archiver))

	out, err := p.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.NotNil(t, out.Run)
	assert.Empty(t, archiver.snaps)
	assert.False(t, mr.Exists(storage.CrawlLockKey))
}

func TestRunArchiveFailureIsNotFatal(t *testing.T) {
	p, _, _, _ := setup(t, partialRun(), WithArchiver(&recordingArchiver{err: errors.New("pg down")}))
	out, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Articles)
}

func TestRunPublishesWhenCancelledMidRun(t *testing.T) {
	p, crawler, mr, snaps := setup(t, partialRun(), WithArchiver(&recordingArchiver{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 抓取途中触发超时或停机
	crawler.during = func(context.Context) { cancel() }

	out, err := p.Run(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Articles)

	latest, err := snaps.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-42", latest.RunID)
	assert.True(t, mr.Exists("hotlist:2025-02-03"))
	assert.False(t, mr.Exists(storage.CrawlLockKey))
}

type heartbeatLock struct {
	mu       sync.Mutex
	extends  int
	extended chan struct{}
	unlocked bool
}

func (l *heartbeatLock) TryLock(context.Context) (bool, error) { return true, nil }
func (l *heartbeatLock) TTL() time.Duration                    { return 30 * time.Millisecond }

func (l *heartbeatLock) Unlock(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked = true
	return nil
}

func (l *heartbeatLock) Extend(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	if l.unlocked {
		return errors.New("extended after unlock")
	}
	select {
	case l.extended <- struct{}{}:
	default:
	}
	return nil
}

func (l *heartbeatLock) state() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extends, l.unlocked
}

func TestRunExtendsLockWhileCrawling(t *testing.T) {
	lock := &heartbeatLock{extended: make(chan struct{}, 1)}
	crawler := &stubCrawler{run: partialRun()}
	crawler.during = func(context.Context) {
		for i := 0; i < 2; i++ {
			select {
			case <-lock.extended:
			case <-time.After(2 * time.Second):
				t.Error("lock was not extended during the crawl")
				return
			}
		}
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	snaps := storage.NewSnapshotWriter(storage.NewRedisKV(client))
	p := New(crawler, func() Locker { return lock }, snaps, nil)

	_, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)

	n, unlocked := lock.state()
	assert.GreaterOrEqual(t, n, 2)
	assert.True(t, unlocked)
	// 运行结束后不再续期
	time.Sleep(100 * time.Millisecond)
	after, _ := lock.state()
	assert.Equal(t, n, after)
}

func TestRunStartsFreshDatasetOnNewDay(t *testing.T) {
	now := fixedNow
	p, crawler, mr, snaps := setup(t, &manager.RunResult{
		ID: "day-1",
		Outcomes: []manager.Outcome{{
			Platform: "weibo", Success: true, Count: 1,
			Items: []collector.Item{item("weibo", "yesterday", "https://weibo/1", fixedNow)},
		}},
	}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := p.Run(ctx, Request{})
	require.NoError(t, err)

	now = fixedNow.Add(24 * time.Hour)
	crawler.run = &manager.RunResult{
		ID: "day-2",
		Outcomes: []manager.Outcome{{
			Platform: "weibo", Success: true, Count: 1,
			Items: []collector.Item{item("weibo", "today", "https://weibo/2", now)},
		}},
	}
	out, err := p.Run(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Articles)

	latest, err := snaps.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest.Articles, 1)
	assert.Equal(t, "today", latest.Articles[0].Title)

	first, err := snaps.ByDate(ctx, "2025-02-03")
	require.NoError(t, err)
	require.Len(t, first.Articles, 1)
	assert.Equal(t, "yesterday", first.Articles[0].Title)
	assert.True(t, mr.Exists("hotlist:2025-02-04"))
}

func TestBuildSnapshotEmptyRun(t *testing.T) {
	snap := BuildSnapshot(&manager.RunResult{ID: "r"}, nil, fixedNow)
	assert.Zero(t, snap.Stats.TotalPlatforms)
	assert.Zero(t, snap.Stats.TotalItems)
	assert.True(t, snap.Stats.UpdatedAt.Equal(fixedNow))
}
