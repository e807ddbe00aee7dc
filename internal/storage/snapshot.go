package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LJTian/HotlistHub/internal/collector"
	"github.com/LJTian/HotlistHub/internal/processor"
)

const (
	LatestSnapshotKey  = "hotlist:latest"
	DefaultSnapshotTTL = time.Hour
	dateLayout         = "2006-01-02"
)

var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// DatedSnapshotKey 返回某天归档快照的 key，例如 hotlist:2025-01-02
func DatedSnapshotKey(day string) string { return "hotlist:" + day }

// PlatformHotlist 是某个平台本轮抓到的热榜
type PlatformHotlist struct {
	Platform  string           `json:"platform"`
	Name      string           `json:"name"`
	Category  string           `json:"category"`
	Items     []collector.Item `json:"items"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type PlatformStat struct {
	Platform string `json:"platform"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Count    int    `json:"count"`
	Success  bool   `json:"success"`
	Skipped  bool   `json:"skipped,omitempty"`
	Method   string `json:"method,omitempty"`
	Error    string `json:"error,omitempty"`
}

type SnapshotStats struct {
	TotalPlatforms int            `json:"totalPlatforms"`
	TotalItems     int            `json:"totalItems"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	Platforms      []PlatformStat `json:"platforms"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Snapshot 是一轮抓取发布给下游的数据：按平台分组的热榜、合并去重后的文章以及统计
type Snapshot struct {
	RunID    string              `json:"runId"`
	Hotlists []PlatformHotlist   `json:"hotlists"`
	Articles []processor.Article `json:"articles"`
	Stats    SnapshotStats       `json:"stats"`
}

// FilterPlatform 返回只包含 platform 的副本；platform 为空时原样返回
func (s *Snapshot) FilterPlatform(platform string) *Snapshot {
	if platform == "" {
		return s
	}
	out := &Snapshot{RunID: s.RunID, Stats: s.Stats}
	for _, h := range s.Hotlists {
		if h.Platform == platform {
			out.Hotlists = append(out.Hotlists, h)
		}
	}
	for _, a := range s.Articles {
		if a.Platform == platform {
			out.Articles = append(out.Articles, a)
		}
	}
	return out
}

type SnapshotOption func(*SnapshotWriter)

// WithSnapshotTTL 设置 latest 的过期时间，按日期归档的 key 不过期
func WithSnapshotTTL(ttl time.Duration) SnapshotOption {
	return func(w *SnapshotWriter) {
		if ttl > 0 {
			w.ttl = ttl
		}
	}
}

func WithLocation(loc *time.Location) SnapshotOption {
	return func(w *SnapshotWriter) {
		if loc != nil {
			w.loc = loc
		}
	}
}

func WithSnapshotClock(now func() time.Time) SnapshotOption {
	return func(w *SnapshotWriter) { w.now = now }
}

// SnapshotWriter 读写 Redis 中的 hotlist:latest 与 hotlist:YYYY-MM-DD
type SnapshotWriter struct {
	kv  KV
	ttl time.Duration
	loc *time.Location
	now func() time.Time
}

func NewSnapshotWriter(kv KV, opts ...SnapshotOption) *SnapshotWriter {
	w := &SnapshotWriter{
		kv:  kv,
		ttl: DefaultSnapshotTTL,
		loc: locEast8,
		now: time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Day 返回快照归档使用的日期（按 writer 的时区）
func (w *SnapshotWriter) Day(t time.Time) string {
	if t.IsZero() {
		t = w.now()
	}
	return t.In(w.loc).Format(dateLayout)
}

// Write 同时写 latest（带 TTL）和当天的归档 key（不过期）
func (w *SnapshotWriter) Write(ctx context.Context, snap Snapshot) error {
	if snap.Stats.UpdatedAt.IsZero() {
		snap.Stats.UpdatedAt = w.now()
	}
	bs, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := w.kv.Set(ctx, LatestSnapshotKey, bs, w.ttl); err != nil {
		return err
	}
	return w.kv.Set(ctx, DatedSnapshotKey(w.Day(snap.Stats.UpdatedAt)), bs, 0)
}

func (w *SnapshotWriter) Latest(ctx context.Context) (*Snapshot, error) {
	return w.load(ctx, LatestSnapshotKey)
}

func (w *SnapshotWriter) ByDate(ctx context.Context, day string) (*Snapshot, error) {
	if _, err := time.Parse(dateLayout, day); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, day)
	}
	return w.load(ctx, DatedSnapshotKey(day))
}

// Read 在 day 为空时读 latest，否则读对应日期的归档
func (w *SnapshotWriter) Read(ctx context.Context, day string) (*Snapshot, error) {
	if day == "" {
		return w.Latest(ctx)
	}
	return w.ByDate(ctx, day)
}

// Prior 返回 at 当天已发布的快照，用于和本轮结果合并。
// 只读当天的归档 key，跨天后从空集开始，归档不会累积前几天的内容。
func (w *SnapshotWriter) Prior(ctx context.Context, at time.Time) (*Snapshot, error) {
	return w.load(ctx, DatedSnapshotKey(w.Day(at)))
}

func (w *SnapshotWriter) load(ctx context.Context, key string) (*Snapshot, error) {
	bs, err := w.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(bs, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}
