package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Middleware 返回 net/http 中间件。认证关闭时直接放行。
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		subject, err := s.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			s.denied(r, err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentkit"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
	})
}

// Gin 是 Middleware 的 gin 版本。
func (s *Service) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.Enabled() {
			c.Next()
			return
		}
		subject, err := s.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			s.denied(c.Request, err)
			c.Header("WWW-Authenticate", `Bearer realm="agentkit"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Request = c.Request.WithContext(WithSubject(c.Request.Context(), subject))
		c.Next()
	}
}
