package task

import (
	"cmp"
	"slices"
	"strings"

	"MultiAI-Relay/internal/relay"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Filter 选择 List 与 Stats 覆盖的运行。零值表示最近更新的前 20 条。
type Filter struct {
	Statuses  []Status
	Mode      relay.Mode
	Preset    string
	HasResult *bool
	Limit     int
	Offset    int
	// OldestFirst 为 true 时按更新时间升序返回。
	OldestFirst bool
}

// normalized 收敛分页参数，去掉无效或重复的状态，并统一模式大小写。
func (f Filter) normalized() Filter {
	f.Limit = min(cmp.Or(max(f.Limit, 0), defaultPageSize), maxPageSize)
	f.Offset = max(f.Offset, 0)
	f.Mode = relay.Mode(strings.ToLower(strings.TrimSpace(string(f.Mode))))
	f.Preset = strings.TrimSpace(f.Preset)

	var statuses []Status
	for _, s := range f.Statuses {
		if IsValidStatus(s) && !slices.Contains(statuses, s) {
			statuses = append(statuses, s)
		}
	}
	f.Statuses = statuses
	return f
}

func (f Filter) matches(task *Task) bool {
	switch {
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, task.Status):
		return false
	case f.Mode != "" && task.Mode != f.Mode:
		return false
	case f.Preset != "" && task.Preset != f.Preset:
		return false
	case f.HasResult != nil && (task.Result != nil) != *f.HasResult:
		return false
	}
	return true
}

// compare 按更新时间排序，时间相同则依次比较创建时间与 ID，保证分页稳定。
func (f Filter) compare(a, b *Task) int {
	c := cmp.Or(
		cmp.Compare(a.UpdatedAt, b.UpdatedAt),
		cmp.Compare(a.CreatedAt, b.CreatedAt),
	)
	if !f.OldestFirst {
		c = -c
	}
	return cmp.Or(c, strings.Compare(a.ID, b.ID))
}

// Summary 汇总过滤范围内的运行，GET /api/v1/runs 随列表一起返回。
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	Comparison int `json:"comparison"`
	Chained    int `json:"chained"`

	LastUpdatedAt int64 `json:"last_updated_at,omitempty"`
}

func (s *Summary) add(task *Task) {
	s.Total++
	switch task.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	switch task.Mode {
	case relay.ModeComparison:
		s.Comparison++
	case relay.ModeChained:
		s.Chained++
	}
	s.LastUpdatedAt = max(s.LastUpdatedAt, task.UpdatedAt)
}
