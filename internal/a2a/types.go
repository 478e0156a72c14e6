// Package a2a implements the agent-to-agent JSON-RPC surface: the agent
// card, the tasks/* methods, SSE streaming and push notifications. Tasks
// are persisted and optionally queued through internal/task.
package a2a

import (
	"encoding/json"
	"strings"
	"time"
)

// AgentCard is served at /.well-known/agent.json.
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	URL                string            `json:"url"`
	Version            string            `json:"version"`
	Capabilities       Capabilities      `json:"capabilities"`
	Skills             []Skill           `json:"skills"`
	DefaultInputModes  []string          `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string          `json:"defaultOutputModes,omitempty"`
	Provider           *Provider         `json:"provider,omitempty"`
	Authentication     *Authentication   `json:"authentication,omitempty"`
	ERC8004            *ERC8004Extension `json:"erc8004,omitempty"`
}

// Capabilities advertises optional protocol features.
type Capabilities struct {
	Streaming              bool `json:"streaming,omitempty"`
	PushNotifications      bool `json:"pushNotifications,omitempty"`
	StateTransitionHistory bool `json:"stateTransitionHistory,omitempty"`
}

// Skill is one routable capability. Requests select it with metadata.skill.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type Provider struct {
	Organization string `json:"organization"`
	URL          string `json:"url,omitempty"`
}

type Authentication struct {
	Schemes     []string `json:"schemes"`
	Credentials string   `json:"credentials,omitempty"`
}

// ERC8004Extension links the card to the on-chain identity.
type ERC8004Extension struct {
	AgentID       uint64   `json:"agentId"`
	Chain         string   `json:"chain"`
	AgentRegistry string   `json:"agentRegistry"`
	X402Support   bool     `json:"x402Support"`
	TrustModels   []string `json:"trustModels"`
}

// TaskState is the protocol-level lifecycle of a task.
type TaskState string

const (
	StateSubmitted     TaskState = "submitted"
	StateWorking       TaskState = "working"
	StateInputRequired TaskState = "input-required"
	StateCompleted     TaskState = "completed"
	StateCanceled      TaskState = "canceled"
	StateFailed        TaskState = "failed"
	StateUnknown       TaskState = "unknown"
)

// Final reports whether no further transitions happen without new input.
func (s TaskState) Final() bool {
	switch s {
	case StateCompleted, StateCanceled, StateFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s TaskState) Valid() bool {
	switch s {
	case StateSubmitted, StateWorking, StateInputRequired, StateCompleted, StateCanceled, StateFailed, StateUnknown:
		return true
	}
	return false
}

type Task struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId,omitempty"`
	Status    TaskStatus     `json:"status"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	History   []Message      `json:"history,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

func newStatus(state TaskState, msg *Message) TaskStatus {
	return TaskStatus{State: state, Message: msg, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}

// Skill returns metadata.skill when it is a string.
func (t *Task) Skill() string {
	if s, ok := t.Metadata["skill"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// LatestUserMessage returns the most recent user message in the history.
func (t *Task) LatestUserMessage() *Message {
	for i := len(t.History) - 1; i >= 0; i-- {
		if t.History[i].Role == RoleUser {
			return &t.History[i]
		}
	}
	return nil
}

// withHistory returns a shallow copy keeping the last n history entries.
// A nil n keeps the full history.
func (t *Task) withHistory(n *int) *Task {
	out := *t
	if n == nil {
		return &out
	}
	keep := *n
	if keep <= 0 {
		out.History = nil
	} else if len(out.History) > keep {
		out.History = append([]Message(nil), out.History[len(out.History)-keep:]...)
	}
	return &out
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Message struct {
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Text concatenates the text parts of the message.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// AgentText builds a single-part agent message.
func AgentText(text string) *Message {
	return &Message{Role: RoleAgent, Parts: []Part{TextPart(text)}}
}

type PartType string

const (
	PartText PartType = "text"
	PartFile PartType = "file"
	PartData PartType = "data"
)

// Part is a tagged union on Type.
type Part struct {
	Type     PartType       `json:"type"`
	Text     string         `json:"text,omitempty"`
	File     *FileContent   `json:"file,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FileContent carries either inline base64 bytes or a URI.
type FileContent struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

func TextPart(text string) Part { return Part{Type: PartText, Text: text} }

func DataPart(data map[string]any) Part { return Part{Type: PartData, Data: data} }

func (p Part) validate() string {
	switch p.Type {
	case PartText:
		return ""
	case PartFile:
		if p.File == nil || (p.File.Bytes == "" && p.File.URI == "") {
			return "file part requires bytes or uri"
		}
		if p.File.Bytes != "" && p.File.URI != "" {
			return "file part must not set both bytes and uri"
		}
		return ""
	case PartData:
		if p.Data == nil {
			return "data part requires data"
		}
		return ""
	}
	return "unknown part type " + string(p.Type)
}

type Artifact struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Index       int            `json:"index"`
	Append      bool           `json:"append,omitempty"`
	LastChunk   bool           `json:"lastChunk,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type PushNotificationConfig struct {
	URL            string          `json:"url"`
	Token          string          `json:"token,omitempty"`
	Authentication *Authentication `json:"authentication,omitempty"`
}

type TaskSendParams struct {
	ID                  string                  `json:"id"`
	SessionID           string                  `json:"sessionId,omitempty"`
	Message             Message                 `json:"message"`
	AcceptedOutputModes []string                `json:"acceptedOutputModes,omitempty"`
	PushNotification    *PushNotificationConfig `json:"pushNotification,omitempty"`
	HistoryLength       *int                    `json:"historyLength,omitempty"`
	Metadata            map[string]any          `json:"metadata,omitempty"`
}

type TaskQueryParams struct {
	ID            string `json:"id"`
	HistoryLength *int   `json:"historyLength,omitempty"`
}

type TaskIDParams struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type TaskPushNotificationConfig struct {
	ID                     string                 `json:"id"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}

// TaskStatusUpdateEvent is streamed on every state change.
type TaskStatusUpdateEvent struct {
	ID       string         `json:"id"`
	Status   TaskStatus     `json:"status"`
	Final    bool           `json:"final"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskArtifactUpdateEvent is streamed when a handler produces an artifact.
type TaskArtifactUpdateEvent struct {
	ID       string         `json:"id"`
	Artifact Artifact       `json:"artifact"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Event is one streamed update; exactly one field is set.
type Event struct {
	Status   *TaskStatusUpdateEvent   `json:"status,omitempty"`
	Artifact *TaskArtifactUpdateEvent `json:"artifact,omitempty"`
}

// payload returns the value sent to SSE clients.
func (e Event) payload() any {
	if e.Artifact != nil {
		return e.Artifact
	}
	return e.Status
}

func (e Event) final() bool {
	return e.Status != nil && e.Status.Final
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// decodeParams unmarshals JSON-RPC params into v.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errMissingParams
	}
	return json.Unmarshal(raw, v)
}
