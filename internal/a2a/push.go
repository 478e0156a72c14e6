package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/pkg/logger"
)

const defaultPushTimeout = 10 * time.Second

// Pusher POSTs task snapshots to the client-supplied webhook.
type Pusher struct {
	Client  *http.Client
	Timeout time.Duration
}

// Push sends t to cfg.URL. The token, when present, is sent as a bearer
// credential.
func (p *Pusher) Push(ctx context.Context, cfg PushNotificationConfig, t *Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "push notification failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return xerrors.New(xerrors.CodeUpstreamFailure, fmt.Sprintf("push notification rejected with status %d", resp.StatusCode))
	}
	return nil
}

// pushAsync delivers in the background; failures are logged only.
func (p *Pusher) pushAsync(ctx context.Context, cfg PushNotificationConfig, t *Task) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := p.Push(ctx, cfg, t); err != nil {
			logger.L().Warn("推送任务通知失败",
				slog.String("task_id", t.ID),
				slog.String("url", cfg.URL),
				slog.Any("error", err),
			)
		}
	}()
}

func validatePushConfig(cfg PushNotificationConfig) error {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "pushNotification.url must be an absolute http(s) URL")
	}
	return nil
}
