package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"BNBChain-AgentKit/internal/config"
	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/pkg/logger"
)

// main 是 ERC-8004 命令行工具入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = config.LoadEnvFiles()
	// 命令行输出走 stdout，日志只保留告警级别写到 stderr。
	if err := logger.Init(logger.Config{Level: "warn", Format: "text", OutputPaths: []string{"stderr"}}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := newApp().rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", xerrors.MessageOf(err))
		stop()
		os.Exit(1)
	}
}
