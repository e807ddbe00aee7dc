package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/HotlistHub/internal/collector"
	"github.com/LJTian/HotlistHub/internal/processor"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisKV(t *testing.T) {
	mr, client := newRedis(t)
	kv := NewRedisKV(client)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "a", []byte("1"), time.Minute))
	got, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
	assert.Equal(t, time.Minute, mr.TTL("a"))

	require.NoError(t, kv.Set(ctx, "forever", []byte("x"), 0))
	assert.Zero(t, mr.TTL("forever"))

	ok, err := kv.SetIfAbsent(ctx, "a", []byte("2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = kv.SetIfAbsent(ctx, "b", []byte("2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, kv.Delete(ctx, "a", "b"))
	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("b"))
	require.NoError(t, kv.Delete(ctx))
}

func TestDistributedLockExclusive(t *testing.T) {
	mr, client := newRedis(t)
	kv := NewRedisKV(client)
	ctx := context.Background()

	first := NewDistributedLock(kv, CrawlLockKey, 0)
	second := NewDistributedLock(kv, CrawlLockKey, 0)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, DefaultLockTTL, mr.TTL(CrawlLockKey))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// 非持有者不能释放或续期
	assert.ErrorIs(t, second.Unlock(ctx), ErrLockNotHeld)
	assert.ErrorIs(t, second.Extend(ctx), ErrLockNotHeld)
	assert.True(t, mr.Exists(CrawlLockKey))

	require.NoError(t, first.Unlock(ctx))
	assert.False(t, mr.Exists(CrawlLockKey))
	assert.ErrorIs(t, first.Unlock(ctx), ErrLockNotHeld)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLockExtendResetsTTL(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	l := NewDistributedLock(NewRedisKV(client), "lock:test", time.Minute)
	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(50 * time.Second)
	require.NoError(t, l.Extend(ctx))
	assert.Equal(t, time.Minute, mr.TTL("lock:test"))

	// 续期后超过最初的 TTL 仍然持有
	mr.FastForward(50 * time.Second)
	assert.True(t, mr.Exists("lock:test"))
}

func TestDistributedLockExpires(t *testing.T) {
	mr, client := newRedis(t)
	kv := NewRedisKV(client)
	ctx := context.Background()

	stale := NewDistributedLock(kv, "lock:test", time.Second)
	ok, err := stale.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Second)

	fresh := NewDistributedLock(kv, "lock:test", time.Second)
	ok, err = fresh.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	// 过期的旧持有者不能删掉或续期新锁
	assert.ErrorIs(t, stale.Unlock(ctx), ErrLockNotHeld)
	assert.ErrorIs(t, stale.Extend(ctx), ErrLockNotHeld)
	assert.True(t, mr.Exists("lock:test"))
}

func sampleSnapshot(updated time.Time) Snapshot {
	return Snapshot{
		RunID: "run-1",
		Hotlists: []PlatformHotlist{
			{Platform: "weibo", Name: "微博热搜", Items: []collector.Item{{Title: "w1", URL: "https://w/1"}}},
			{Platform: "zhihu", Name: "知乎热榜", Items: []collector.Item{{Title: "z1", URL: "https://z/1"}}},
		},
		Articles: []processor.Article{
			{Platform: "weibo", Title: "w1", URL: "https://w/1"},
			{Platform: "zhihu", Title: "z1", URL: "https://z/1"},
		},
		Stats: SnapshotStats{TotalPlatforms: 2, TotalItems: 2, Succeeded: 2, UpdatedAt: updated},
	}
}

func TestSnapshotWriteAndRead(t *testing.T) {
	mr, client := newRedis(t)
	w := NewSnapshotWriter(NewRedisKV(client))
	ctx := context.Background()

	// UTC 20 点已经是东八区的第二天
	updated := time.Date(2025, 1, 2, 20, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write(ctx, sampleSnapshot(updated)))

	assert.Equal(t, DefaultSnapshotTTL, mr.TTL(LatestSnapshotKey))
	assert.True(t, mr.Exists("hotlist:2025-01-03"))
	assert.Zero(t, mr.TTL("hotlist:2025-01-03"))

	latest, err := w.Read(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest.RunID)
	assert.Len(t, latest.Hotlists, 2)
	assert.True(t, latest.Stats.UpdatedAt.Equal(updated))

	dated, err := w.Read(ctx, "2025-01-03")
	require.NoError(t, err)
	assert.Equal(t, latest.RunID, dated.RunID)

	_, err = w.Read(ctx, "2025-01-04")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = w.Read(ctx, "20250103")
	assert.ErrorIs(t, err, ErrInvalidDate)

	var raw map[string]any
	bs, err := mr.Get(LatestSnapshotKey)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(bs), &raw))
	stats := raw["stats"].(map[string]any)
	assert.EqualValues(t, 2, stats["totalPlatforms"])
	assert.Contains(t, stats, "updatedAt")
}

func TestSnapshotPriorReadsSameDayOnly(t *testing.T) {
	mr, client := newRedis(t)
	now := time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)
	w := NewSnapshotWriter(NewRedisKV(client), WithSnapshotTTL(time.Minute))
	ctx := context.Background()

	_, err := w.Prior(ctx, now)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Write(ctx, sampleSnapshot(now)))
	// latest 过期后仍能从当天归档读到
	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(LatestSnapshotKey))

	prior, err := w.Prior(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "run-1", prior.RunID)

	// 东八区第二天不再读到前一天的快照
	_, err = w.Prior(ctx, now.Add(20*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotCorrupt(t *testing.T) {
	mr, client := newRedis(t)
	w := NewSnapshotWriter(NewRedisKV(client))
	require.NoError(t, mr.Set(LatestSnapshotKey, "{not json"))

	_, err := w.Latest(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestSnapshotFilterPlatform(t *testing.T) {
	snap := sampleSnapshot(time.Now())
	assert.Same(t, &snap, snap.FilterPlatform(""))

	only := snap.FilterPlatform("zhihu")
	require.Len(t, only.Hotlists, 1)
	assert.Equal(t, "zhihu", only.Hotlists[0].Platform)
	require.Len(t, only.Articles, 1)
	assert.Equal(t, "z1", only.Articles[0].Title)
	assert.Equal(t, snap.Stats.TotalPlatforms, only.Stats.TotalPlatforms)

	assert.Empty(t, snap.FilterPlatform("douyin").Hotlists)
}

func TestNewsFromArticle(t *testing.T) {
	pub := time.Date(2025, 5, 1, 18, 30, 0, 0, time.UTC)
	a := processor.Article{
		ID:          "abc",
		Platform:    "github",
		Category:    "tech",
		Title:       "  repo \xff ",
		URL:         "https://github.com/a/b",
		PubDate:     pub,
		Description: strings.Repeat("长", 700),
		Rank:        3,
		HotScore:    12,
		IsHotlist:   true,
		Extra:       map[string]any{"stars": 10},
	}
	n := newsFromArticle(a)
	assert.Equal(t, "github", n.Source)
	assert.Equal(t, "repo \uFFFD", n.Title)
	assert.Equal(t, "2025-05-02", n.PublishedDate)
	assert.Len(t, []rune(n.Description), 600)
	assert.Equal(t, 3, n.Rank)
	assert.EqualValues(t, 10, n.ExtraData["stars"])
}

func TestSnapshotRecord(t *testing.T) {
	snap := sampleSnapshot(time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC))
	snap.Stats.Platforms = []PlatformStat{{Platform: "weibo", Count: 1, Success: true}}
	rec, err := snapshotRecord(snap)
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "2025-01-01", rec.Day)
	assert.Equal(t, 2, rec.Articles)
	assert.Contains(t, string(rec.Platforms), `"platform":"weibo"`)
}

func TestTruncateRunesDB(t *testing.T) {
	assert.Equal(t, "", truncateRunesDB("abc", 0))
	assert.Equal(t, "", truncateRunesDB("   ", 5))
	assert.Equal(t, "ab", truncateRunesDB(" abc ", 2))
	assert.Equal(t, "热榜", truncateRunesDB("热榜数据", 2))
}

func TestListNewsServedFromCache(t *testing.T) {
	_, client := newRedis(t)
	kv := NewRedisKV(client)
	ctx := context.Background()
	cached := []News{{ID: "1", Title: "cached", Source: "weibo"}}
	bs, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "news:list:weibo:hot:10:", bs, time.Minute))

	// DB 为 nil：命中缓存时不会访问数据库
	s := &Store{KV: kv}
	list, err := s.ListNews(ctx, "weibo", "hot", 10, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cached", list[0].Title)
}
