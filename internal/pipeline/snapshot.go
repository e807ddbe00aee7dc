package pipeline

import (
	"time"

	"github.com/LJTian/HotlistHub/internal/collector"
	"github.com/LJTian/HotlistHub/internal/manager"
	"github.com/LJTian/HotlistHub/internal/processor"
	"github.com/LJTian/HotlistHub/internal/storage"
)

// BuildSnapshot 按抓取顺序为每个（未跳过的）平台生成一组热榜，失败的平台条目为空，
// 统计里带上失败原因和命中的策略
func BuildSnapshot(run *manager.RunResult, merged []processor.Article, now time.Time) storage.Snapshot {
	snap := storage.Snapshot{
		RunID:    run.ID,
		Articles: merged,
		Stats:    storage.SnapshotStats{UpdatedAt: now},
	}
	for _, o := range run.Outcomes {
		if o.Skipped {
			continue
		}
		items := o.Items
		if items == nil {
			items = []collector.Item{}
		}
		snap.Hotlists = append(snap.Hotlists, storage.PlatformHotlist{
			Platform:  o.Platform,
			Name:      o.Name,
			Category:  o.Category,
			Items:     items,
			UpdatedAt: now,
		})
		snap.Stats.Platforms = append(snap.Stats.Platforms, storage.PlatformStat{
			Platform: o.Platform,
			Name:     o.Name,
			Category: o.Category,
			Count:    len(o.Items),
			Success:  o.Success,
			Method:   o.Strategy,
			Error:    o.Error,
		})
		snap.Stats.TotalItems += len(o.Items)
		if o.Success {
			snap.Stats.Succeeded++
		} else {
			snap.Stats.Failed++
		}
	}
	snap.Stats.TotalPlatforms = len(snap.Hotlists)
	return snap
}
