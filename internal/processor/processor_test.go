package processor

import (
	"testing"
	"time"

	"github.com/LJTian/HotlistHub/internal/collector"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func urls(list []Article) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Key())
	}
	return out
}

func TestDedupAndMergeNewSupersedesPrior(t *testing.T) {
	m := NewMerger()
	prior := []Article{{URL: "u1", PubDate: day("2024-01-01")}}
	fresh := []Article{
		{URL: "u1", PubDate: day("2024-06-01")},
		{URL: "u2", PubDate: day("2024-05-01")},
	}

	out := m.DedupAndMerge(fresh, prior)
	if len(out) != 2 {
		t.Fatalf("expected 2 articles, got %d: %v", len(out), urls(out))
	}
	if out[0].URL != "u1" || !out[0].PubDate.Equal(day("2024-06-01")) {
		t.Fatalf("fresh u1 should win and sort first, got %+v", out[0])
	}
	if out[1].URL != "u2" || !out[1].PubDate.Equal(day("2024-05-01")) {
		t.Fatalf("unexpected second article %+v", out[1])
	}
}

func TestDedupAndMergeFallsBackToTitle(t *testing.T) {
	m := NewMerger()
	out := m.DedupAndMerge(
		[]Article{{Title: "无链接话题", Source: "new", PubDate: day("2024-03-01")}},
		[]Article{{Title: "无链接话题", Source: "old", PubDate: day("2024-04-01")}},
	)
	if len(out) != 1 || out[0].Source != "new" {
		t.Fatalf("title key should dedupe and keep the first occurrence: %+v", out)
	}
}

func TestDedupAndMergeIsIdempotent(t *testing.T) {
	now := day("2024-07-01")
	m := NewMerger().WithClock(func() time.Time { return now })
	a := []Article{
		{URL: "a", PubDate: day("2024-02-01")},
		{URL: "b"},
		{URL: "a", PubDate: day("2024-03-01")},
	}
	b := []Article{
		{URL: "c", PubDate: day("2024-01-15")},
		{URL: "b", PubDate: day("2023-12-01")},
	}

	once := m.DedupAndMerge(a, b)
	twice := m.DedupAndMerge(once, nil)
	if len(once) != len(twice) {
		t.Fatalf("merge not idempotent: %v vs %v", urls(once), urls(twice))
	}
	for i := range once {
		if once[i].Key() != twice[i].Key() || !once[i].PubDate.Equal(twice[i].PubDate) {
			t.Fatalf("merge not idempotent at %d: %v vs %v", i, urls(once), urls(twice))
		}
	}
	// 缺少发布时间的 b 按当前时间排在最前
	if once[0].URL != "b" {
		t.Fatalf("undated article should sort as now, got order %v", urls(once))
	}
}

func TestToArticleMarksHotlist(t *testing.T) {
	pub := day("2024-05-01")
	it := collector.Item{
		ID:          collector.GenerateID("https://weibo.example/1", "热搜"),
		Source:      "微博热搜",
		Platform:    "weibo",
		Category:    "social",
		Title:       " 热搜 ",
		URL:         "https://weibo.example/1",
		PubDate:     pub,
		Description: "一段介绍",
		Rank:        3,
		HotScore:    1000,
	}
	a := ToArticle(it)
	if !a.IsHotlist {
		t.Fatalf("hotlist item should be marked")
	}
	if a.Text != "一段介绍" || a.Description != "一段介绍" {
		t.Fatalf("text should mirror description: %+v", a)
	}
	if a.Title != "热搜" || a.Rank != 3 || a.Platform != "weibo" || a.ID != it.ID {
		t.Fatalf("fields not copied: %+v", a)
	}
	if got := HotlistToArticles([]collector.Item{it, it}); len(got) != 2 {
		t.Fatalf("HotlistToArticles should convert every item, got %d", len(got))
	}
}

func TestTruncateRunesHandlesChineseAndEllipsis(t *testing.T) {
	s := "你好，世界，这是一个很长的中文句子，用来测试截断逻辑。"
	out := truncateRunes(s, 5)
	if len([]rune(out)) != 6 { // 5 个字符 + 1 个省略号
		t.Fatalf("truncateRunes length = %d, want 6 (including ellipsis): %q", len([]rune(out)), out)
	}
	if full := truncateRunes("短文本", 10); full != "短文本" {
		t.Fatalf("truncateRunes should keep original when under limit: %q", full)
	}
}
