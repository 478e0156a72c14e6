package a2a

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	xerrors "BNBChain-AgentKit/internal/errors"
)

func startStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
}

func (s *Server) streamSend(c *gin.Context, req Request) {
	if !s.card.Capabilities.Streaming {
		c.JSON(http.StatusOK, failure(req.ID, toRPCError(xerrors.New(CodeUnsupported, "streaming is not supported"))))
		return
	}
	params, err := s.parseSend(req.Params)
	if err != nil {
		c.JSON(http.StatusOK, failure(req.ID, toRPCError(err)))
		return
	}
	ctx := c.Request.Context()
	events, cancel, err := s.broker.Subscribe(ctx, params.ID)
	if err != nil {
		c.JSON(http.StatusOK, failure(req.ID, toRPCError(xerrors.Wrap(xerrors.CodeUnknown, err, "subscribe to task events"))))
		return
	}
	defer cancel()

	// The turn outlives a dropped connection so the stored task still
	// reaches a final state.
	sendErr := make(chan error, 1)
	go func() {
		_, err := s.send(context.WithoutCancel(ctx), params)
		sendErr <- err
	}()

	startStream(c)
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case err := <-sendErr:
			if err != nil {
				s.logFailure(req.Method, err)
				c.SSEvent("message", failure(req.ID, toRPCError(err)))
				return false
			}
			sendErr = nil
			return true
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("message", result(req.ID, ev.payload()))
			return !ev.final()
		}
	})
}

func (s *Server) streamResubscribe(c *gin.Context, req Request) {
	if !s.card.Capabilities.Streaming {
		c.JSON(http.StatusOK, failure(req.ID, toRPCError(xerrors.New(CodeUnsupported, "streaming is not supported"))))
		return
	}
	var params TaskQueryParams
	if err := parseParams(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, failure(req.ID, toRPCError(err)))
		return
	}
	ctx := c.Request.Context()
	events, cancel, err := s.broker.Subscribe(ctx, params.ID)
	if err != nil {
		c.JSON(http.StatusOK, failure(req.ID, toRPCError(xerrors.Wrap(xerrors.CodeUnknown, err, "subscribe to task events"))))
		return
	}
	defer cancel()

	// Loaded after subscribing so a transition in between is not missed.
	rec, err := s.load(ctx, params.ID)
	if err != nil {
		c.JSON(http.StatusOK, failure(req.ID, toRPCError(err)))
		return
	}
	doc, err := decodeRecord(rec)
	if err != nil {
		c.JSON(http.StatusOK, failure(req.ID, toRPCError(err)))
		return
	}

	startStream(c)
	current := &TaskStatusUpdateEvent{ID: doc.ID, Status: doc.Status, Final: doc.Status.State.Final() || doc.Status.State == StateInputRequired}
	c.SSEvent("message", result(req.ID, current))
	if current.Final {
		return
	}
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("message", result(req.ID, ev.payload()))
			return !ev.final()
		}
	})
	s.log.Debug("任务事件流结束", slog.String("task_id", params.ID))
}
