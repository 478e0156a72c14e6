package task

import (
	"context"

	xerrors "BNBChain-AgentKit/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Save 覆盖任务的可变字段（状态、文档、推送配置、重试信息）。
	Save(ctx context.Context, task *Task) error
	// Claim 将 pending/failed 的任务置为 running 并递增尝试次数。
	Claim(ctx context.Context, id string) (*Task, error)
	// MarkSucceeded 仅在任务仍处于 running 时生效，否则返回 ErrTaskConflict。
	MarkSucceeded(ctx context.Context, id string, result Result) error
	// MarkFailed 记录失败；terminal 为 true 时耗尽剩余重试次数。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
