package x402

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Gin is Middleware for gin routes.
func (p *Paywall) Gin(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, priced := p.Requirement(route); !priced {
			c.Next()
			return
		}
		header, required, status := p.Authorize(c.Request.Context(), route, c.GetHeader(HeaderPayment))
		if required != nil {
			c.AbortWithStatusJSON(status, required)
			return
		}

		writer := &ginBuffer{ResponseWriter: c.Writer, status: http.StatusOK}
		c.Writer = writer
		c.Next()
		c.Writer = writer.ResponseWriter

		if c.IsAborted() || writer.status >= http.StatusBadRequest {
			c.Writer.WriteHeader(writer.status)
			_, _ = c.Writer.Write(writer.body.Bytes())
			return
		}
		_, encoded, err := p.Settle(c.Request.Context(), route, header)
		if err != nil {
			p.log.Error("record payment failed", "route", route, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to record payment"})
			return
		}
		c.Header(HeaderPaymentResponse, encoded)
		c.Writer.WriteHeader(writer.status)
		_, _ = c.Writer.Write(writer.body.Bytes())
	}
}

// ginBuffer captures the handler output until the payment is settled.
type ginBuffer struct {
	gin.ResponseWriter
	body    bytes.Buffer
	status  int
	written bool
}

func (w *ginBuffer) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
}

func (w *ginBuffer) WriteHeaderNow() {}

func (w *ginBuffer) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.Write(b)
}

func (w *ginBuffer) WriteString(s string) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.WriteString(s)
}

func (w *ginBuffer) Status() int { return w.status }

func (w *ginBuffer) Written() bool { return w.written }
