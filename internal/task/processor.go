package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/observability/alerting"
	"BNBChain-AgentKit/pkg/logger"
)

// Executor 执行一次已领取的任务。返回的错误视为执行失败并按错误码决定是否重试。
type Executor interface {
	Execute(ctx context.Context, task *Task) (*Result, error)
}

// ExecutorFunc 让普通函数满足 Executor。
type ExecutorFunc func(ctx context.Context, task *Task) (*Result, error)

// Execute 实现 Executor。
func (f ExecutorFunc) Execute(ctx context.Context, task *Task) (*Result, error) {
	return f(ctx, task)
}

// Processor 负责从队列消费任务并交给 Executor 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
	onOutcome   func(task *Task, status Status)
}

// ProcessorOption 配置 Processor 的可选依赖。
type ProcessorOption func(*Processor)

// WithProcessorLogger 打开调试日志。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithWorkerCount 设置并发 worker 数，非正数忽略。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 为不可重试的失败提供兜底结果。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) { p.recovery = handler }
}

func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerter = dispatcher }
}

// WithOutcomeHook 在任务进入终态时回调，A2A 服务借此推送流事件与 push 通知。
func WithOutcomeHook(hook func(task *Task, status Status)) ProcessorOption {
	return func(p *Processor) { p.onOutcome = hook }
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if skipClaim(err) {
			p.logDebug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, task)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}
	if result == nil {
		result = &Result{State: task.State}
	}
	return p.complete(ctx, task, *result, "任务执行成功")
}

// skipClaim 判断领取失败是否只是任务已不可执行，这类消息直接确认掉。
func skipClaim(err error) bool {
	for _, sentinel := range []error{ErrTaskNotFound, ErrTaskCompleted, ErrTaskExhausted, ErrTaskConflict} {
		if stdErrors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func (p *Processor) complete(ctx context.Context, task *Task, result Result, message string) error {
	err := p.store.MarkSucceeded(ctx, task.ID, result)
	switch {
	case err == nil:
	case stdErrors.Is(err, ErrTaskConflict):
		// 执行期间任务被取消或被另一轮提交覆盖，结果作废。
		p.logDebug("任务状态已变化，丢弃结果", slog.String("task_id", task.ID))
		return nil
	default:
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		if storeErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, err.Error(), false); storeErr != nil {
			return storeErr
		}
		if pubErr := p.publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", task.ID))
		}
		return nil
	}
	logger.Audit().Info(message,
		slog.String("task_id", task.ID),
		slog.String("skill", task.Skill),
		slog.String("state", result.State),
		slog.Int("attempts", task.Attempts),
	)
	p.outcome(task, StatusSucceeded)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		fallback, recErr := p.recovery.Recover(ctx, task, execErr)
		if recErr != nil {
			wrapped := xerrors.Wrap(CodeTaskCompensate, recErr, "任务降级失败")
			logger.L().Error("执行降级逻辑失败", slog.Any("error", wrapped), slog.String("task_id", task.ID))
			p.emitAlert(ctx, task, CodeTaskCompensate, wrapped, "compensate")
		} else if fallback != nil {
			p.emitAlert(ctx, task, code, execErr, "degraded")
			return p.complete(ctx, task, *fallback, "任务降级完成")
		}
	}

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, xerrors.MessageOf(execErr), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("skill", task.Skill),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
		p.outcome(task, StatusFailed)
	} else if !retryable {
		stage = "non_retryable"
	}
	if terminal || xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, task, code, execErr, stage)
	}

	if !terminal {
		if pubErr := p.publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		}
		p.logDebug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	}
	return nil
}

func (p *Processor) publish(ctx context.Context, id string) error {
	if p.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务生产者")
	}
	return p.producer.Publish(ctx, id)
}

func (p *Processor) outcome(task *Task, status Status) {
	if p.onOutcome != nil {
		p.onOutcome(task, status)
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:       code,
		Message:    attrs.Message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   map[string]string{"stage": stage, "skill": task.Skill},
		OccurredAt: time.Now(),
	}
	if cause != nil {
		event.Message = xerrors.MessageOf(cause)
		event.Metadata["cause"] = cause.Error()
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
