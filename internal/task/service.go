package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/pkg/logger"
)

// Service 负责任务的创建、重新排队与查询。producer 为空时任务只落库不入队，
// 由调用方同步执行。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Async 报告任务是否经由队列异步执行。
func (s *Service) Async() bool {
	return s != nil && s.producer != nil
}

// Submit 持久化新任务并在异步模式下推送到队列。相同 ID 的任务已存在时直接返回已有记录。
func (s *Service) Submit(ctx context.Context, task *Task) (*Task, error) {
	if task == nil || len(task.Document) == 0 {
		return nil, xerrors.New(CodeTaskValidation, "任务内容不能为空")
	}
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	task.ID = strings.TrimSpace(task.ID)
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.MaxRetries <= 0 {
		task.MaxRetries = s.maxRetries
	}

	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			return s.store.Get(ctx, task.ID)
		}
		return nil, err
	}
	if err := s.publish(ctx, task); err != nil {
		return nil, err
	}
	logger.Audit().Info("任务已创建",
		slog.String("task_id", task.ID),
		slog.String("session_id", task.SessionID),
		slog.String("skill", task.Skill),
		slog.Bool("async", s.Async()),
	)
	return task, nil
}

// Resubmit 将已有任务重置为待执行并重新入队，用于多轮对话中追加消息。
func (s *Service) Resubmit(ctx context.Context, task *Task) error {
	if s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	task.Status = StatusPending
	task.Attempts = 0
	task.LastError = ""
	task.ErrorCode = ""
	if task.MaxRetries <= 0 {
		task.MaxRetries = s.maxRetries
	}
	if err := s.store.Save(ctx, task); err != nil {
		return err
	}
	return s.publish(ctx, task)
}

func (s *Service) publish(ctx context.Context, task *Task) error {
	if s.producer == nil {
		return nil
	}
	if err := s.producer.Publish(ctx, task.ID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", task.ID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, task.ID, CodeTaskPublish, wrapped.Error(), true)
		return wrapped
	}
	return nil
}

// Run 在当前协程内领取并执行任务，供未配置队列的同步模式使用。
// 执行错误会以终态失败落库而不是返回，调用方通过返回的记录获知结果。
func (s *Service) Run(ctx context.Context, id string, executor Executor) (*Task, error) {
	if s.store == nil || executor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	claimed, err := s.store.Claim(ctx, id)
	if err != nil {
		return nil, err
	}
	result, execErr := executor.Execute(ctx, claimed)
	if execErr != nil {
		code := xerrors.CodeOf(execErr)
		if code == xerrors.CodeUnknown {
			code = CodeTaskProcessing
		}
		if err := s.store.MarkFailed(ctx, id, code, xerrors.MessageOf(execErr), true); err != nil {
			return nil, err
		}
		logger.Audit().Warn("同步任务执行失败",
			slog.String("task_id", id),
			slog.String("error_code", string(code)),
			slog.String("error", execErr.Error()),
		)
		return s.store.Get(ctx, id)
	}
	if result == nil {
		result = &Result{State: claimed.State}
	}
	// 冲突说明执行期间任务已被取消，保留取消后的状态。
	if err := s.store.MarkSucceeded(ctx, id, *result); err != nil && !stdErrors.Is(err, ErrTaskConflict) {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// Save 写回任务的可变字段。
func (s *Service) Save(ctx context.Context, task *Task) error {
	if s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Save(ctx, task)
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询直到任务不再参与调度，或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Final() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
