package task

import "context"

// RecoveryHandler 定义了在任务执行出现不可重试错误时的降级策略。
type RecoveryHandler interface {
	// Recover 返回的 Result 会作为降级结果写入任务；返回 nil 则按失败处理。
	Recover(ctx context.Context, task *Task, cause error) (*Result, error)
}

// RecoveryFunc 让普通函数满足 RecoveryHandler。
type RecoveryFunc func(ctx context.Context, task *Task, cause error) (*Result, error)

// Recover 实现 RecoveryHandler。
func (f RecoveryFunc) Recover(ctx context.Context, task *Task, cause error) (*Result, error) {
	return f(ctx, task, cause)
}
