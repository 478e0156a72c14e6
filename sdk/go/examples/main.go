package main

import (
	"context"
	"fmt"
	"log"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"

	protocol "BNBChain-AgentKit/internal/a2a"
	"BNBChain-AgentKit/internal/task"
	"BNBChain-AgentKit/sdk/go/a2a"
)

func main() {
	gin.SetMode(gin.ReleaseMode)
	card := protocol.AgentCard{
		Name:    "demo-agent",
		Version: "0.1.0",
		Skills:  []protocol.Skill{{ID: "chat", Name: "Chat", Description: "echoes the request"}},
	}
	server := protocol.NewServer(card, task.NewService(task.NewMemoryStore(), nil, 1))
	server.HandleDefault(func(_ context.Context, t *protocol.Task) (protocol.HandlerResult, error) {
		text := t.LatestUserMessage().Text()
		return protocol.HandlerResult{
			Result:  map[string]any{"response": "echo: " + text},
			Message: fmt.Sprintf("Processed message: %q", text),
		}, nil
	})

	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	client, err := a2a.NewClient(srv.URL, srv.Client())
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	agent, err := client.AgentCard(ctx)
	if err != nil {
		log.Fatalf("fetch agent card: %v", err)
	}
	fmt.Printf("agent: %s %s\n", agent.Name, agent.Version)

	result, err := client.SendText(ctx, "", "hello from the sdk")
	if err != nil {
		log.Fatalf("send task: %v", err)
	}
	fmt.Printf("task %s is %s: %s\n", result.ID, result.Status.State, result.Status.Message.Text())
	for _, artifact := range result.Artifacts {
		fmt.Printf("artifact %s: %v\n", artifact.Name, artifact.Parts[0].Data)
	}
}
