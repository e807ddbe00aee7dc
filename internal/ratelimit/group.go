package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Group 按出站调用类别（api / rss / html）分别限流
type Group struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	opts     []Option
	limiters map[string]*Limiter
}

func NewGroup(limit int, window time.Duration, opts ...Option) *Group {
	return &Group{
		limit:    limit,
		window:   window,
		opts:     opts,
		limiters: make(map[string]*Limiter),
	}
}

// For 返回某个类别的限流器，不存在时按默认参数创建
func (g *Group) For(class string) *Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[class]
	if !ok {
		opts := append([]Option{WithClass(class)}, g.opts...)
		l = New(g.limit, g.window, opts...)
		g.limiters[class] = l
	}
	return l
}

func (g *Group) Acquire(ctx context.Context, class string) error {
	return g.For(class).Acquire(ctx)
}

// Status 汇总所有已创建类别的窗口使用情况
func (g *Group) Status() map[string]Status {
	g.mu.Lock()
	classes := make(map[string]*Limiter, len(g.limiters))
	for k, v := range g.limiters {
		classes[k] = v
	}
	g.mu.Unlock()

	out := make(map[string]Status, len(classes))
	for k, l := range classes {
		out[k] = l.Status()
	}
	return out
}
