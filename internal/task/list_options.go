package task

import (
	"slices"
	"strings"
	"time"
)

// 分页上下限。
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SortOrder 决定任务列表按 UpdatedAt 的排序方向。
type SortOrder int

const (
	SortByUpdatedDesc SortOrder = iota
	SortByUpdatedAsc
)

// ListOptions 是 Store.List 与 Store.Stats 共用的筛选条件。
// 时间边界为 Unix 秒，0 表示不限。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	UpdatedGTE int64
	UpdatedLTE int64
	SessionID  string
	Skill      string
	Order      SortOrder
	Query      string
}

// ListOption 以函数式选项修改 ListOptions。
type ListOption func(*ListOptions)

// BuildListOptions 依次应用选项并归一化结果。
func BuildListOptions(opts ...ListOption) ListOptions {
	var out ListOptions
	for _, apply := range opts {
		if apply != nil {
			apply(&out)
		}
	}
	out.applyDefaults()
	return out
}

func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultListLimit
	case opts.Limit > maxListLimit:
		opts.Limit = maxListLimit
	}
	opts.Offset = max(opts.Offset, 0)
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	opts.Query = strings.TrimSpace(opts.Query)
}

func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 仅保留给定状态的任务，未知状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = slices.Clone(statuses) }
}

// WithUpdatedSince 与 WithUpdatedUntil 设置闭区间的更新时间窗口，零值清除边界。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

// WithSession 限定到单个 A2A 会话。
func WithSession(sessionID string) ListOption {
	return func(opts *ListOptions) { opts.SessionID = strings.TrimSpace(sessionID) }
}

// WithSkill 限定到路由给某个技能的任务。
func WithSkill(skill string) ListOption {
	return func(opts *ListOptions) { opts.Skill = strings.TrimSpace(skill) }
}

func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery 对任务 ID、会话、技能与任务文档做子串匹配。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

// normalizeStatuses 去重并剔除非法状态，结果为空时返回 nil。
func normalizeStatuses(input []Status) []Status {
	var out []Status
	for _, status := range input {
		if IsValidStatus(status) && !slices.Contains(out, status) {
			out = append(out, status)
		}
	}
	return out
}
