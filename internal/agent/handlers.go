package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"BNBChain-AgentKit/internal/a2a"
	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/knowledge"
	"BNBChain-AgentKit/internal/llm"
	"BNBChain-AgentKit/internal/web3"
)

// echoHandler answers every message with a fixed acknowledgement. It is the
// handler for skills without a dedicated implementation.
func echoHandler(name, chain string) a2a.TaskHandler {
	return func(_ context.Context, t *a2a.Task) (a2a.HandlerResult, error) {
		var text string
		if msg := t.LatestUserMessage(); msg != nil && len(msg.Parts) > 0 && msg.Parts[0].Type == a2a.PartText {
			text = msg.Parts[0].Text
		}
		return a2a.HandlerResult{
			Status: a2a.StateCompleted,
			Result: map[string]any{
				"response": fmt.Sprintf("[%s] Received: \"%s\". Agent is running on %s with on-chain identity.", name, text, chain),
			},
			Message: fmt.Sprintf("Processed message: \"%s\"", text),
		}, nil
	}
}

// chatHandler forwards the conversation history to the language model,
// enriched with knowledge snippets matching the latest user message.
func chatHandler(client llm.Client, kb knowledge.Provider, system string, timeout time.Duration) a2a.TaskHandler {
	return func(ctx context.Context, t *a2a.Task) (a2a.HandlerResult, error) {
		msg := t.LatestUserMessage()
		if msg == nil || strings.TrimSpace(msg.Text()) == "" {
			return a2a.HandlerResult{
				Status:  a2a.StateInputRequired,
				Message: "Send a text message to start the conversation.",
			}, nil
		}

		req := llm.Request{System: system}
		for _, m := range t.History {
			text := strings.TrimSpace(m.Text())
			if text == "" {
				continue
			}
			role := llm.RoleUser
			if m.Role == a2a.RoleAgent {
				role = llm.RoleAssistant
			}
			req.Messages = append(req.Messages, llm.Message{Role: role, Content: text})
		}
		if kb != nil {
			for _, s := range kb.Query(msg.Text(), t.Skill()) {
				req.Knowledge = append(req.Knowledge, llm.KnowledgeCard{Title: s.Title, Content: s.Content})
			}
		}

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		resp, err := client.Chat(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return a2a.HandlerResult{}, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
			}
			return a2a.HandlerResult{}, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "大模型推理失败")
		}
		return a2a.HandlerResult{
			Result:  map[string]any{"response": resp.Content, "model": resp.Model},
			Message: resp.Content,
		}, nil
	}
}

// ChainReader is the chain access used by the on-chain-execution skill.
type ChainReader interface {
	Snapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// chainStatusHandler reports the live chain state next to the agent's
// identity.
func chainStatusHandler(rt *Runtime, reader ChainReader) a2a.TaskHandler {
	return func(ctx context.Context, _ *a2a.Task) (a2a.HandlerResult, error) {
		snapshot, err := reader.Snapshot(ctx)
		if err != nil {
			return a2a.HandlerResult{}, err
		}
		result := map[string]any{
			"chain":       rt.chain.Key,
			"chainId":     snapshot.ChainID,
			"blockNumber": snapshot.BlockNumber,
			"gasPrice":    snapshot.GasPrice,
			"devMode":     rt.cfg.Agent.DevMode(),
		}
		message := fmt.Sprintf("%s is at block %d.", rt.chain.Name, snapshot.BlockNumber)
		if id := rt.Identity(); id != nil {
			result["agentId"] = id.AgentID
			result["owner"] = id.Owner
			result["explorer"] = rt.chain.TokenURL(itoa(id.AgentID))
			message += fmt.Sprintf(" Agent #%d is owned by %s.", id.AgentID, id.Owner)
		}
		return a2a.HandlerResult{Result: result, Message: message}, nil
	}
}
