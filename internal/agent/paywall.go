package agent

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"BNBChain-AgentKit/internal/a2a"
	"BNBChain-AgentKit/internal/x402"
)

// RouteAllTasks prices every task submission regardless of skill.
const RouteAllTasks = "a2a"

const maxPeekBytes = 1 << 20

type paywallEnvelope struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params struct {
		Message struct {
			Metadata map[string]any `json:"metadata"`
		} `json:"message"`
		Metadata map[string]any `json:"metadata"`
	} `json:"params"`
}

// skillPaywall prices A2A submissions by skill: pricing routes are skill
// ids, plus RouteAllTasks. Streaming submissions of a priced skill are
// refused because the payment must settle before the response is written.
func skillPaywall(p *x402.Paywall) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPeekBytes+1))
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			c.Next()
			return
		}

		var env paywallEnvelope
		if json.Unmarshal(body, &env) != nil {
			c.Next()
			return
		}
		if env.Method != a2a.MethodSend && env.Method != a2a.MethodSendSubscribe {
			c.Next()
			return
		}
		route := pricedRoute(p, env)
		if route == "" {
			c.Next()
			return
		}
		if env.Method == a2a.MethodSendSubscribe {
			id := env.ID
			if len(id) == 0 {
				id = json.RawMessage("null")
			}
			c.AbortWithStatusJSON(http.StatusOK, a2a.Response{
				JSONRPC: "2.0",
				ID:      id,
				Error: &a2a.RPCError{
					Code:    a2a.ErrUnsupportedOperation,
					Message: "paid skills are only served through tasks/send",
				},
			})
			return
		}
		p.Gin(route)(c)
	}
}

func pricedRoute(p *x402.Paywall, env paywallEnvelope) string {
	skill, _ := env.Params.Metadata["skill"].(string)
	if skill == "" {
		skill, _ = env.Params.Message.Metadata["skill"].(string)
	}
	if skill != "" {
		if _, ok := p.Requirement(skill); ok {
			return skill
		}
	}
	if _, ok := p.Requirement(RouteAllTasks); ok {
		return RouteAllTasks
	}
	return ""
}
