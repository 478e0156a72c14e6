package a2a

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/task"
	"BNBChain-AgentKit/pkg/logger"
)

const (
	// RPCPath is the JSON-RPC endpoint.
	RPCPath = "/a2a"
	// CardPath serves the agent card.
	CardPath = "/.well-known/agent.json"

	maxRequestBytes = 1 << 20
)

// HandlerResult is what a TaskHandler reports back. An empty Status means
// completed. Result is attached to the task as the "result" artifact and
// Message becomes the agent's status message.
type HandlerResult struct {
	Status    TaskState
	Result    any
	Message   string
	Artifacts []Artifact
}

// TaskHandler runs one turn of a task. The incoming user message is
// t.LatestUserMessage(). A returned error fails the task with its message.
type TaskHandler func(ctx context.Context, t *Task) (HandlerResult, error)

// Server serves the A2A endpoints and executes tasks for internal/task.
type Server struct {
	card       AgentCard
	tasks      *task.Service
	broker     Broker
	pusher     *Pusher
	middleware []gin.HandlerFunc
	log        *slog.Logger

	mu       sync.RWMutex
	handlers map[string]TaskHandler
	fallback TaskHandler
}

type Option func(*Server)

// WithBroker replaces the in-process event broker.
func WithBroker(b Broker) Option {
	return func(s *Server) {
		if b != nil {
			s.broker = b
		}
	}
}

func WithPusher(p *Pusher) Option {
	return func(s *Server) {
		if p != nil {
			s.pusher = p
		}
	}
}

// WithMiddleware runs mw in front of the JSON-RPC endpoint only.
func WithMiddleware(mw ...gin.HandlerFunc) Option {
	return func(s *Server) {
		s.middleware = append(s.middleware, mw...)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer builds a server over tasks. When tasks has a producer the
// caller must also run a task.Processor with the server as Executor and
// OnOutcome as its outcome hook.
func NewServer(card AgentCard, tasks *task.Service, opts ...Option) *Server {
	s := &Server{
		card:     card,
		tasks:    tasks,
		broker:   NewMemoryBroker(),
		pusher:   &Pusher{},
		log:      logger.Named("a2a"),
		handlers: make(map[string]TaskHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Card returns the served agent card.
func (s *Server) Card() AgentCard { return s.card }

// Handle registers h for requests whose metadata.skill equals skill.
func (s *Server) Handle(skill string, h TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.TrimSpace(skill)] = h
}

// HandleDefault registers the handler for requests without a matching skill.
func (s *Server) HandleDefault(h TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = h
}

func (s *Server) handlerFor(skill string) TaskHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.handlers[skill]; ok && skill != "" {
		return h
	}
	return s.fallback
}

// Routes mounts the A2A endpoints on r.
func (s *Server) Routes(r gin.IRoutes) {
	r.GET(CardPath, s.serveCard)
	r.GET("/health", s.serveHealth)
	r.POST(RPCPath, append(append([]gin.HandlerFunc{}, s.middleware...), s.serveRPC)...)
}

// Handler returns a standalone gin engine with the A2A routes.
func (s *Server) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())
	s.Routes(engine)
	return engine
}

func (s *Server) serveCard(c *gin.Context) {
	c.JSON(http.StatusOK, s.card)
}

func (s *Server) serveHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"agent":     s.card.Name,
		"version":   s.card.Version,
		"async":     s.tasks.Async(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) serveRPC(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes))
	if err != nil {
		c.JSON(http.StatusOK, failure(nil, &RPCError{Code: ErrParseError, Message: "failed to read request body"}))
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusOK, failure(nil, &RPCError{Code: ErrParseError, Message: "invalid JSON payload"}))
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		c.JSON(http.StatusOK, failure(req.ID, &RPCError{Code: ErrInvalidRequest, Message: "request payload validation error"}))
		return
	}

	ctx := c.Request.Context()
	switch req.Method {
	case MethodSendSubscribe:
		s.streamSend(c, req)
		return
	case MethodResubscribe:
		s.streamResubscribe(c, req)
		return
	}

	var (
		res     any
		callErr error
	)
	switch req.Method {
	case MethodSend:
		res, callErr = s.onSend(ctx, req.Params)
	case MethodGet:
		res, callErr = s.onGet(ctx, req.Params)
	case MethodCancel:
		res, callErr = s.onCancel(ctx, req.Params)
	case MethodSetPushNotification:
		res, callErr = s.onSetPush(ctx, req.Params)
	case MethodGetPushNotification:
		res, callErr = s.onGetPush(ctx, req.Params)
	default:
		c.JSON(http.StatusOK, failure(req.ID, &RPCError{Code: ErrMethodNotFound, Message: "method not found: " + req.Method}))
		return
	}
	if callErr != nil {
		s.logFailure(req.Method, callErr)
		c.JSON(http.StatusOK, failure(req.ID, toRPCError(callErr)))
		return
	}
	c.JSON(http.StatusOK, result(req.ID, res))
}

func (s *Server) logFailure(method string, err error) {
	if xerrors.SeverityOf(err) == xerrors.SeverityInfo {
		s.log.Debug("A2A 请求被拒绝", slog.String("method", method), slog.Any("error", err))
		return
	}
	s.log.Error("A2A 请求失败", slog.String("method", method), slog.Any("error", err))
}
