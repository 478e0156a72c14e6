package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BNBChain-AgentKit/internal/config"
	"BNBChain-AgentKit/internal/mcpserver"
	"BNBChain-AgentKit/internal/web3/provider"
	"BNBChain-AgentKit/pkg/logger"
)

// main 启动 ERC-8004 MCP 服务。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("erc8004-mcp 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	cfg, err := config.Load(os.Getenv("AGENTKIT_CONFIG"))
	if err != nil {
		return err
	}
	logCfg := cfg.LoggerConfig()
	if cfg.MCP.Transport == "stdio" {
		// stdout 承载协议消息。
		logCfg.OutputPaths = []string{"stderr"}
	}
	if err := logger.Init(logCfg); err != nil {
		return err
	}
	defer logger.Sync()

	table, err := cfg.ChainTable()
	if err != nil {
		return err
	}
	providers := provider.NewRegistry(table)
	defer providers.Close()

	srv := mcpserver.New(providers, mcpserver.WithPrivateKey(cfg.Agent.PrivateKey))
	if cfg.MCP.Transport == "stdio" {
		if err := srv.ServeStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	server := &http.Server{Addr: cfg.MCP.HTTPAddr, Handler: srv.HTTPHandler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Named("mcp").Info("ERC-8004 MCP server listening", "addr", cfg.MCP.HTTPAddr, "write", srv.WriteEnabled())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
