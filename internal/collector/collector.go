// Package collector 负责单个数据源的抓取：按优先级尝试多个策略，失败回退，结果归一化后写入缓存
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrAllStrategiesFailed 表示一个数据源的所有策略都失败或返回空结果
	ErrAllStrategiesFailed = errors.New("all strategies failed")
	// ErrUnknownShape 表示响应体不匹配任何已知的结构
	ErrUnknownShape = errors.New("unknown response shape")
	ErrHTTPStatus    = errors.New("unexpected http status")
	ErrInvalidSource = errors.New("invalid source descriptor")

	errEmptyResult = errors.New("empty result")
)

type StrategyType string

const (
	StrategyAPI  StrategyType = "api"
	StrategyRSS  StrategyType = "rss"
	StrategyHTML StrategyType = "html"
)

// TranslateField 指定把哪个字段翻译成中文，原文保存在 Extra 中
type TranslateField string

const (
	TranslateNone        TranslateField = ""
	TranslateTitle       TranslateField = "title"
	TranslateDescription TranslateField = "description"
)

// Strategy 是获取一个数据源内容的一种方式
type Strategy struct {
	Name     string            `yaml:"name" json:"name"`
	Priority int               `yaml:"priority" json:"priority"`
	Type     StrategyType      `yaml:"type" json:"type"`
	URL      string            `yaml:"url" json:"url"`
	Shape    Shape             `yaml:"shape,omitempty" json:"shape,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Descriptor 描述一个数据源，加载后不再修改
type Descriptor struct {
	Name       string         `yaml:"name" json:"name"`
	Platform   string         `yaml:"platform" json:"platform"`
	Category   string         `yaml:"category" json:"category"`
	Enabled    bool           `yaml:"enabled" json:"enabled"`
	Strategies []Strategy     `yaml:"strategies" json:"strategies"`
	CacheTTL   time.Duration  `yaml:"cache_ttl" json:"cacheTTL"`
	Retry      int            `yaml:"retry" json:"retry"`
	Timeout    time.Duration  `yaml:"timeout" json:"timeout"`
	Translate  TranslateField `yaml:"translate,omitempty" json:"translate,omitempty"`
	MaxItems   int            `yaml:"max_items,omitempty" json:"maxItems,omitempty"`
}

// Validate 检查必填字段；配置错误在启动阶段直接返回
func (d Descriptor) Validate() error {
	if d.Platform == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidSource)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalidSource, d.Platform)
	}
	if len(d.Strategies) == 0 {
		return fmt.Errorf("%w: %s: at least one strategy is required", ErrInvalidSource, d.Platform)
	}
	if d.CacheTTL < 0 || d.Timeout < 0 || d.Retry < 0 {
		return fmt.Errorf("%w: %s: cache_ttl, timeout and retry must not be negative", ErrInvalidSource, d.Platform)
	}
	switch d.Translate {
	case TranslateNone, TranslateTitle, TranslateDescription:
	default:
		return fmt.Errorf("%w: %s: translate must be title or description, got %q", ErrInvalidSource, d.Platform, d.Translate)
	}
	for i, s := range d.Strategies {
		if s.Name == "" || s.URL == "" {
			return fmt.Errorf("%w: %s: strategy %d needs name and url", ErrInvalidSource, d.Platform, i)
		}
		switch s.Type {
		case StrategyAPI, StrategyRSS:
		case StrategyHTML:
			if _, ok := htmlParsers[s.Shape]; !ok {
				return fmt.Errorf("%w: %s: strategy %s: html shape %q not supported", ErrInvalidSource, d.Platform, s.Name, s.Shape)
			}
		default:
			return fmt.Errorf("%w: %s: strategy %s: unknown type %q", ErrInvalidSource, d.Platform, s.Name, s.Type)
		}
		if s.Type == StrategyAPI && s.Shape != ShapeAuto && s.Shape != ShapeHackerNews {
			if _, ok := apiShapes[s.Shape]; !ok {
				return fmt.Errorf("%w: %s: strategy %s: api shape %q not supported", ErrInvalidSource, d.Platform, s.Name, s.Shape)
			}
		}
	}
	return nil
}

// Ordered 返回按 priority 升序排列的策略副本，priority 相同时保持配置顺序
func (d Descriptor) Ordered() []Strategy {
	out := make([]Strategy, len(d.Strategies))
	copy(out, d.Strategies)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// RawItem 是策略解析出的未归一化条目；零值字段表示缺失
type RawItem struct {
	ID          string
	Title       string
	URL         string
	Description string
	Rank        int
	HotScore    float64
	PubDate     time.Time
	Extra       map[string]any
}

// Item 是归一化后的统一结构
type Item struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Platform    string         `json:"platform"`
	Category    string         `json:"category"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	PubDate     time.Time      `json:"pubDate"`
	Description string         `json:"description"`
	Rank        int            `json:"rank"`
	HotScore    float64        `json:"hotScore,omitempty"`
	CrawledAt   time.Time      `json:"crawledAt"`
	Extra       map[string]any `json:"extra,omitempty"`
}

type FetchOptions struct {
	SkipCache bool
}

// Result 是一次抓取的结果；Strategy 为命中的策略名，缓存命中时为 "cache"
type Result struct {
	Items     []Item
	Strategy  string
	FromCache bool
}

// Fetcher 抽象每一个数据源
type Fetcher interface {
	Descriptor() Descriptor
	Fetch(ctx context.Context, opts FetchOptions) (Result, error)
}
