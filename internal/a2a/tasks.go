package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/observability/metrics"
	"BNBChain-AgentKit/internal/task"
)

var _ task.Executor = (*Server)(nil)

func parseParams(raw json.RawMessage, v any) error {
	if err := decodeParams(raw, v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid params")
	}
	return nil
}

func (s *Server) parseSend(raw json.RawMessage) (*TaskSendParams, error) {
	var params TaskSendParams
	if err := parseParams(raw, &params); err != nil {
		return nil, err
	}
	params.ID = strings.TrimSpace(params.ID)
	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	if params.Message.Role != RoleUser {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "message.role must be user")
	}
	if len(params.Message.Parts) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "message.parts must not be empty")
	}
	for i, p := range params.Message.Parts {
		if reason := p.validate(); reason != "" {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "message.parts[%d]: %s", i, reason)
		}
	}
	if params.PushNotification != nil {
		if !s.card.Capabilities.PushNotifications {
			return nil, xerrors.New(CodePushNotSupported, "push notification is not supported")
		}
		if err := validatePushConfig(*params.PushNotification); err != nil {
			return nil, err
		}
	}
	if _, ok := params.Metadata["skill"]; !ok {
		if skill, ok := params.Message.Metadata["skill"].(string); ok && skill != "" {
			if params.Metadata == nil {
				params.Metadata = map[string]any{}
			}
			params.Metadata["skill"] = skill
		}
	}
	if err := s.checkOutputModes(&params); err != nil {
		return nil, err
	}
	return &params, nil
}

// checkOutputModes rejects requests none of whose accepted output modes
// the selected skill can produce.
func (s *Server) checkOutputModes(params *TaskSendParams) error {
	if len(params.AcceptedOutputModes) == 0 {
		return nil
	}
	modes := s.card.DefaultOutputModes
	skill, _ := params.Metadata["skill"].(string)
	for _, sk := range s.card.Skills {
		if sk.ID == skill && len(sk.OutputModes) > 0 {
			modes = sk.OutputModes
		}
	}
	if len(modes) == 0 {
		return nil
	}
	for _, accepted := range params.AcceptedOutputModes {
		for _, m := range modes {
			if strings.EqualFold(accepted, m) {
				return nil
			}
		}
	}
	return xerrors.Newf(CodeContentType, "none of %v is supported", params.AcceptedOutputModes)
}

func (s *Server) onSend(ctx context.Context, raw json.RawMessage) (*Task, error) {
	params, err := s.parseSend(raw)
	if err != nil {
		return nil, err
	}
	doc, err := s.send(ctx, params)
	if err != nil {
		return nil, err
	}
	return doc.withHistory(params.HistoryLength), nil
}

// send persists the turn and, without a queue, runs it to completion.
func (s *Server) send(ctx context.Context, params *TaskSendParams) (*Task, error) {
	rec, err := s.accept(ctx, params)
	if err != nil {
		return nil, err
	}
	if s.tasks.Async() {
		return decodeRecord(rec)
	}
	done, err := s.tasks.Run(ctx, rec.ID, s)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, done)
}

// accept creates the task or appends the message to an existing one and
// hands it to the task service.
func (s *Server) accept(ctx context.Context, params *TaskSendParams) (*task.Task, error) {
	rec, err := s.tasks.Get(ctx, params.ID)
	if err != nil && !task.IsTaskError(err, task.CodeTaskNotFound) {
		return nil, err
	}

	var doc *Task
	if rec == nil {
		sessionID := params.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		doc = &Task{
			ID:        params.ID,
			SessionID: sessionID,
			Status:    newStatus(StateSubmitted, nil),
			History:   []Message{params.Message},
			Metadata:  cloneMap(params.Metadata),
		}
		rec = &task.Task{}
		if err := encodeRecord(doc, rec, params.PushNotification); err != nil {
			return nil, err
		}
		if rec, err = s.tasks.Submit(ctx, rec); err != nil {
			return nil, err
		}
	} else {
		if doc, err = decodeRecord(rec); err != nil {
			return nil, err
		}
		switch doc.Status.State {
		case StateSubmitted, StateWorking:
			return nil, xerrors.Newf(CodeUnsupported, "task %s is still in progress", doc.ID)
		case StateCanceled:
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "task %s was canceled", doc.ID)
		}
		if params.SessionID != "" && doc.SessionID != "" && params.SessionID != doc.SessionID {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "task %s belongs to another session", doc.ID)
		}
		doc.History = append(doc.History, params.Message)
		doc.Status = newStatus(StateSubmitted, nil)
		if doc.Metadata == nil && len(params.Metadata) > 0 {
			doc.Metadata = map[string]any{}
		}
		for k, v := range params.Metadata {
			doc.Metadata[k] = v
		}
		if err := encodeRecord(doc, rec, params.PushNotification); err != nil {
			return nil, err
		}
		if err := s.tasks.Resubmit(ctx, rec); err != nil {
			return nil, err
		}
	}
	s.notify(ctx, doc, rec.PushConfig)
	return rec, nil
}

// Execute runs one turn of a claimed task. Handler failures become the
// failed state; only infrastructure problems are returned as errors.
func (s *Server) Execute(ctx context.Context, rec *task.Task) (*task.Result, error) {
	doc, err := decodeRecord(rec)
	if err != nil {
		return nil, err
	}
	doc.Status = newStatus(StateWorking, nil)
	s.notify(ctx, doc, rec.PushConfig)

	before := len(doc.Artifacts)
	res, handlerErr := s.invoke(ctx, doc)
	applyResult(doc, res, handlerErr)
	for _, a := range doc.Artifacts[before:] {
		s.publish(ctx, doc.ID, Event{Artifact: &TaskArtifactUpdateEvent{ID: doc.ID, Artifact: a}})
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, xerrors.Wrap(task.CodeTaskProcessing, err, "encode task document")
	}
	return &task.Result{State: string(doc.Status.State), Document: payload}, nil
}

func (s *Server) invoke(ctx context.Context, doc *Task) (res HandlerResult, err error) {
	h := s.handlerFor(doc.Skill())
	if h == nil {
		return HandlerResult{}, xerrors.Newf(xerrors.CodeInvalidArgument, "no handler registered for skill %q", doc.Skill())
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("任务处理器崩溃", slog.String("task_id", doc.ID), slog.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, doc)
}

func applyResult(doc *Task, res HandlerResult, err error) {
	if err != nil {
		msg := AgentText(xerrors.MessageOf(err))
		doc.History = append(doc.History, *msg)
		doc.Status = newStatus(StateFailed, msg)
		return
	}
	state := res.Status
	switch state {
	case "":
		state = StateCompleted
	case StateCompleted, StateFailed, StateCanceled, StateInputRequired:
	default:
		msg := AgentText(fmt.Sprintf("handler returned non-terminal state %q", state))
		doc.Status = newStatus(StateFailed, msg)
		return
	}

	var msg *Message
	if res.Message != "" {
		msg = AgentText(res.Message)
		doc.History = append(doc.History, *msg)
	}
	if res.Result != nil {
		doc.Artifacts = append(doc.Artifacts, Artifact{
			Name:      "result",
			Parts:     resultParts(res.Result),
			Index:     len(doc.Artifacts),
			LastChunk: true,
		})
	}
	for _, a := range res.Artifacts {
		a.Index = len(doc.Artifacts)
		doc.Artifacts = append(doc.Artifacts, a)
	}
	doc.Status = newStatus(state, msg)
}

func resultParts(v any) []Part {
	switch x := v.(type) {
	case string:
		return []Part{TextPart(x)}
	case Part:
		return []Part{x}
	case []Part:
		return x
	case map[string]any:
		return []Part{DataPart(x)}
	}
	if raw, err := json.Marshal(v); err == nil {
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil && m != nil {
			return []Part{DataPart(m)}
		}
	}
	return []Part{DataPart(map[string]any{"value": v})}
}

// OnOutcome is the task.Processor outcome hook. It announces the state
// that was just persisted.
func (s *Server) OnOutcome(rec *task.Task, _ task.Status) {
	ctx := context.Background()
	latest, err := s.tasks.Get(ctx, rec.ID)
	if err != nil {
		s.log.Warn("读取任务终态失败", slog.String("task_id", rec.ID), slog.Any("error", err))
		return
	}
	if _, err := s.finish(ctx, latest); err != nil {
		s.log.Warn("发布任务终态失败", slog.String("task_id", rec.ID), slog.Any("error", err))
	}
}

func (s *Server) finish(ctx context.Context, rec *task.Task) (*Task, error) {
	doc, err := decodeRecord(rec)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, doc, rec.PushConfig)
	metrics.ObserveTask(doc.Skill(), string(doc.Status.State))
	return doc, nil
}

func (s *Server) onGet(ctx context.Context, raw json.RawMessage) (*Task, error) {
	var params TaskQueryParams
	if err := parseParams(raw, &params); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	doc, err := decodeRecord(rec)
	if err != nil {
		return nil, err
	}
	return doc.withHistory(params.HistoryLength), nil
}

func (s *Server) onCancel(ctx context.Context, raw json.RawMessage) (*Task, error) {
	var params TaskIDParams
	if err := parseParams(raw, &params); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	doc, err := decodeRecord(rec)
	if err != nil {
		return nil, err
	}
	if doc.Status.State.Final() {
		return nil, xerrors.Newf(CodeTaskNotCancelable, "task %s is already %s", doc.ID, doc.Status.State)
	}
	doc.Status = newStatus(StateCanceled, nil)
	rec.Status = task.StatusCanceled
	if err := encodeRecord(doc, rec, nil); err != nil {
		return nil, err
	}
	if err := s.tasks.Save(ctx, rec); err != nil {
		return nil, err
	}
	s.notify(ctx, doc, rec.PushConfig)
	metrics.ObserveTask(doc.Skill(), string(StateCanceled))
	return doc, nil
}

func (s *Server) onSetPush(ctx context.Context, raw json.RawMessage) (*TaskPushNotificationConfig, error) {
	if !s.card.Capabilities.PushNotifications {
		return nil, xerrors.New(CodePushNotSupported, "push notification is not supported")
	}
	var params TaskPushNotificationConfig
	if err := parseParams(raw, &params); err != nil {
		return nil, err
	}
	if err := validatePushConfig(params.PushNotificationConfig); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if rec.PushConfig, err = json.Marshal(params.PushNotificationConfig); err != nil {
		return nil, err
	}
	if err := s.tasks.Save(ctx, rec); err != nil {
		return nil, err
	}
	return &params, nil
}

func (s *Server) onGetPush(ctx context.Context, raw json.RawMessage) (*TaskPushNotificationConfig, error) {
	if !s.card.Capabilities.PushNotifications {
		return nil, xerrors.New(CodePushNotSupported, "push notification is not supported")
	}
	var params TaskIDParams
	if err := parseParams(raw, &params); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	cfg := pushConfigOf(rec.PushConfig)
	if cfg == nil {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "task %s has no push notification config", rec.ID)
	}
	return &TaskPushNotificationConfig{ID: rec.ID, PushNotificationConfig: *cfg}, nil
}

func (s *Server) load(ctx context.Context, id string) (*task.Task, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "id is required")
	}
	rec, err := s.tasks.Get(ctx, id)
	if err != nil {
		if task.IsTaskError(err, task.CodeTaskNotFound) {
			return nil, xerrors.Newf(task.CodeTaskNotFound, "task %s not found", id)
		}
		return nil, err
	}
	return rec, nil
}

// notify announces doc's current status to stream subscribers and the
// task's push endpoint.
func (s *Server) notify(ctx context.Context, doc *Task, pushRaw json.RawMessage) {
	state := doc.Status.State
	s.publish(ctx, doc.ID, Event{Status: &TaskStatusUpdateEvent{
		ID:     doc.ID,
		Status: doc.Status,
		Final:  state.Final() || state == StateInputRequired,
	}})
	if cfg := pushConfigOf(pushRaw); cfg != nil {
		snapshot := *doc
		s.pusher.pushAsync(ctx, *cfg, &snapshot)
	}
}

func (s *Server) publish(ctx context.Context, taskID string, event Event) {
	if err := s.broker.Publish(ctx, taskID, event); err != nil {
		s.log.Warn("发布任务事件失败", slog.String("task_id", taskID), slog.Any("error", err))
	}
}

// encodeRecord stores doc as the record's document. A non-nil push
// replaces the stored push configuration.
func encodeRecord(doc *Task, rec *task.Task, push *PushNotificationConfig) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return xerrors.Wrap(task.CodeTaskValidation, err, "encode task document")
	}
	rec.ID = doc.ID
	rec.SessionID = doc.SessionID
	rec.Skill = doc.Skill()
	rec.State = string(doc.Status.State)
	rec.Document = payload
	if push != nil {
		if rec.PushConfig, err = json.Marshal(push); err != nil {
			return xerrors.Wrap(task.CodeTaskValidation, err, "encode push config")
		}
	}
	return nil
}

// decodeRecord returns the protocol view of a stored task. Queue-level
// status wins over the stored document where the two disagree.
func decodeRecord(rec *task.Task) (*Task, error) {
	var doc Task
	if err := json.Unmarshal(rec.Document, &doc); err != nil {
		return nil, xerrors.Wrap(task.CodeTaskValidation, err, "decode task document")
	}
	switch {
	case rec.Status == task.StatusRunning && doc.Status.State == StateSubmitted:
		doc.Status = newStatus(StateWorking, nil)
	case rec.Status == task.StatusFailed && rec.Final() && !doc.Status.State.Final():
		doc.Status = newStatus(StateFailed, AgentText(rec.LastError))
	case rec.Status == task.StatusCanceled && doc.Status.State != StateCanceled:
		doc.Status = newStatus(StateCanceled, nil)
	}
	return &doc, nil
}

func pushConfigOf(raw json.RawMessage) *PushNotificationConfig {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var cfg PushNotificationConfig
	if err := json.Unmarshal(raw, &cfg); err != nil || cfg.URL == "" {
		return nil
	}
	return &cfg
}
