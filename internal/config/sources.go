package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LJTian/HotlistHub/internal/collector"
)

//go:embed default_sources.yaml
var defaultSources []byte

var ErrNoSources = errors.New("source catalog has no sources")

// SourceDefaults 填充数据源没有显式配置的字段
type SourceDefaults struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Retry    int           `yaml:"retry"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Catalog struct {
	Defaults SourceDefaults         `yaml:"defaults"`
	Sources  []collector.Descriptor `yaml:"sources"`
}

// DefaultSources 返回内置的数据源目录原文
func DefaultSources() []byte { return defaultSources }

// LoadSources 读取数据源目录；path 为空时使用内置目录。任何一个数据源无效都返回错误。
func LoadSources(path string) ([]collector.Descriptor, error) {
	if path == "" {
		return ParseSources(defaultSources)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources %s: %w", path, err)
	}
	descs, err := ParseSources(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return descs, nil
}

func ParseSources(data []byte) ([]collector.Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cat Catalog
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	if len(cat.Sources) == 0 {
		return nil, ErrNoSources
	}
	explicit, err := enabledFlags(data)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(cat.Sources))
	out := make([]collector.Descriptor, 0, len(cat.Sources))
	for i, d := range cat.Sources {
		// 没写 enabled 的数据源默认启用
		if i < len(explicit) && explicit[i] == nil {
			d.Enabled = true
		}
		d = cat.Defaults.apply(d)
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if seen[d.Platform] {
			return nil, fmt.Errorf("%w: duplicate platform %q", collector.ErrInvalidSource, d.Platform)
		}
		seen[d.Platform] = true
		out = append(out, d)
	}
	return out, nil
}

// enabledFlags 按顺序返回每个数据源显式写出的 enabled，未写的为 nil
func enabledFlags(data []byte) ([]*bool, error) {
	var raw struct {
		Sources []struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	out := make([]*bool, len(raw.Sources))
	for i, s := range raw.Sources {
		out[i] = s.Enabled
	}
	return out, nil
}

func (def SourceDefaults) apply(d collector.Descriptor) collector.Descriptor {
	if d.CacheTTL == 0 {
		d.CacheTTL = def.CacheTTL
	}
	if d.Retry == 0 {
		d.Retry = def.Retry
	}
	if d.Timeout == 0 {
		d.Timeout = def.Timeout
	}
	return d
}
