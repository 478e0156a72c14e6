package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/pkg/logger"
)

// 认证失败时返回的错误。
var (
	ErrMissingToken = xerrors.New(xerrors.CodeUnauthenticated, "missing bearer token")
	ErrInvalidToken = xerrors.New(xerrors.CodeUnauthenticated, "invalid token")
)

// Subject 是通过认证的调用方。
type Subject struct {
	Name string
}

type credential struct {
	name   string
	digest [sha256.Size]byte
}

// Service 使用静态 bearer token 校验请求。未配置 token 时认证关闭。
type Service struct {
	creds []credential
	audit *slog.Logger
}

// NewStatic 根据 token 列表构造认证服务。每项可以写成 "name=token"，
// 省略名称时以序号命名。
func NewStatic(tokens []string) (*Service, error) {
	svc := &Service{audit: logger.Audit()}
	for i, raw := range tokens {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name := fmt.Sprintf("token-%d", i+1)
		token := raw
		if k, v, ok := strings.Cut(raw, "="); ok {
			name, token = strings.TrimSpace(k), strings.TrimSpace(v)
		}
		if token == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("token %q 为空", name))
		}
		svc.creds = append(svc.creds, credential{name: name, digest: sha256.Sum256([]byte(token))})
	}
	return svc, nil
}

// Enabled 报告是否需要校验请求。
func (s *Service) Enabled() bool {
	return s != nil && len(s.creds) > 0
}

// Authenticate 校验 Authorization 头。
func (s *Service) Authenticate(header string) (*Subject, error) {
	token, ok := bearerToken(header)
	if !ok {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var matched *credential
	for i := range s.creds {
		// 遍历全部凭据，耗时与命中位置无关。
		if subtle.ConstantTimeCompare(digest[:], s.creds[i].digest[:]) == 1 && matched == nil {
			matched = &s.creds[i]
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	return &Subject{Name: matched.name}, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Service) denied(r *http.Request, err error) {
	s.audit.Warn("access_denied",
		"path", r.URL.Path,
		"method", r.Method,
		"status", http.StatusUnauthorized,
		"error", err.Error(),
	)
}
