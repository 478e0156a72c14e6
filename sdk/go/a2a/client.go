// Package a2a is a Go client for agents that speak the A2A JSON-RPC
// protocol served by agentd.
package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	protocol "BNBChain-AgentKit/internal/a2a"
)

// DefaultHTTPTimeout applies to clients created without a custom http.Client.
const DefaultHTTPTimeout = 30 * time.Second

// Protocol types re-exported for callers outside this module.
type (
	AgentCard                  = protocol.AgentCard
	Task                       = protocol.Task
	TaskState                  = protocol.TaskState
	Message                    = protocol.Message
	Part                       = protocol.Part
	Artifact                   = protocol.Artifact
	TaskSendParams             = protocol.TaskSendParams
	TaskQueryParams            = protocol.TaskQueryParams
	TaskIDParams               = protocol.TaskIDParams
	PushNotificationConfig     = protocol.PushNotificationConfig
	TaskPushNotificationConfig = protocol.TaskPushNotificationConfig
	RPCError                   = protocol.RPCError
)

// Client talks to a single agent.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	nextID     atomic.Int64

	mu          sync.RWMutex
	accessToken string
}

// HTTPError reports a non-200 transport response, such as 402 from a
// paywalled endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("a2a http error (%d): %s", e.StatusCode, e.Body)
}

// NewClient creates a client for the agent at rawURL. A nil httpClient
// gets a default with DefaultHTTPTimeout.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid agent url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets the bearer token sent with JSON-RPC calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// AgentCard fetches /.well-known/agent.json.
func (c *Client) AgentCard(ctx context.Context) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(protocol.CardPath), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var card AgentCard
	if err := c.do(req, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// Send submits a message and returns the task as reported by the agent.
func (c *Client) Send(ctx context.Context, params TaskSendParams) (*Task, error) {
	var task Task
	if err := c.call(ctx, protocol.MethodSend, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SendText is Send with a single text part.
func (c *Client) SendText(ctx context.Context, taskID, text string) (*Task, error) {
	return c.Send(ctx, TaskSendParams{
		ID:      taskID,
		Message: Message{Role: protocol.RoleUser, Parts: []Part{protocol.TextPart(text)}},
	})
}

func (c *Client) Get(ctx context.Context, params TaskQueryParams) (*Task, error) {
	var task Task
	if err := c.call(ctx, protocol.MethodGet, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) Cancel(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.call(ctx, protocol.MethodCancel, TaskIDParams{ID: taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) SetPushNotification(ctx context.Context, cfg TaskPushNotificationConfig) (*TaskPushNotificationConfig, error) {
	var out TaskPushNotificationConfig
	if err := c.call(ctx, protocol.MethodSetPushNotification, cfg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Wait polls the task until it reaches a final or input-required state.
func (c *Client) Wait(ctx context.Context, taskID string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.Get(ctx, TaskQueryParams{ID: taskID})
		if err != nil {
			return nil, err
		}
		if task.Status.State.Final() || task.Status.State == protocol.StateInputRequired {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	id := c.nextID.Add(1)
	body, err := json.Marshal(protocol.Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Method:  method,
		Params:  raw,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(protocol.RPCPath), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var env rpcEnvelope
	if err := c.do(req, &env); err != nil {
		return err
	}
	if env.Error != nil {
		return env.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (c *Client) endpoint(p string) string {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, p)}
	return c.baseURL.ResolveReference(rel).String()
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
