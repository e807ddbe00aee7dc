package manager

import (
	"time"

	"github.com/LJTian/HotlistHub/internal/collector"
)

// Outcome 是单个数据源在一轮中的结果
type Outcome struct {
	Platform  string           `json:"platform"`
	Name      string           `json:"name"`
	Category  string           `json:"category"`
	Success   bool             `json:"success"`
	Skipped   bool             `json:"skipped,omitempty"`
	Count     int              `json:"count"`
	Strategy  string           `json:"method,omitempty"`
	FromCache bool             `json:"fromCache,omitempty"`
	Error     string           `json:"error,omitempty"`
	Elapsed   time.Duration    `json:"elapsed"`
	Err       error            `json:"-"`
	Items     []collector.Item `json:"-"`
}

func (o *Outcome) setErr(err error) {
	o.Success = false
	o.Err = err
	o.Error = err.Error()
}

// RunResult 是一轮抓取的汇总，轮次结束后不再修改；Outcomes 保持抓取顺序
type RunResult struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Elapsed   time.Duration `json:"elapsed"`
	Outcomes  []Outcome     `json:"outcomes"`
}

func (r *RunResult) Outcome(platform string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Platform == platform {
			return o, true
		}
	}
	return Outcome{}, false
}

func (r *RunResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

func (r *RunResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Success && !o.Skipped {
			n++
		}
	}
	return n
}

func (r *RunResult) Skipped() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Skipped {
			n++
		}
	}
	return n
}

// Items 按抓取顺序拼接所有成功数据源的条目
func (r *RunResult) Items() []collector.Item {
	var out []collector.Item
	for _, o := range r.Outcomes {
		out = append(out, o.Items...)
	}
	return out
}
