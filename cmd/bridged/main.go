package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"BNBChain-AgentKit/internal/api"
	"BNBChain-AgentKit/internal/auth"
	"BNBChain-AgentKit/internal/bridge"
	"BNBChain-AgentKit/internal/config"
	redisstore "BNBChain-AgentKit/internal/storage/redis"
	"BNBChain-AgentKit/pkg/logger"
)

// main 启动跨链报价 API。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("bridged 运行失败: %v", err)
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
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return err
	}
	defer logger.Sync()

	table, err := cfg.ChainTable()
	if err != nil {
		return err
	}

	// 未配置 Redis 时报价缓存退回进程内存，且不限流。
	var (
		cache redisstore.Cache = redisstore.NewMemoryCache()
		opts  []api.Option
	)
	if cfg.Storage.Redis.Enabled() {
		client, err := redisstore.Open(ctx, redisstore.Config{
			URL:      cfg.Storage.Redis.URL,
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer func(c *goredis.Client) { _ = c.Close() }(client)
		cache = redisstore.NewRedisCache(client)
		opts = append(opts, api.WithLimiter(redisstore.NewRateLimiter(client, "", cfg.Bridge.RateLimit, time.Minute)))
	} else {
		logger.L().Warn("未配置 Redis，报价缓存仅保存在本进程，限流关闭")
	}

	authSvc, err := auth.NewStatic(cfg.Auth.Tokens)
	if err != nil {
		return err
	}
	opts = append(opts,
		api.WithAuth(authSvc),
		api.WithBridge(bridge.NewSynapse(cache,
			bridge.WithAPIURL(cfg.Bridge.SynapseAPI),
			bridge.WithQuoteTTL(cfg.Bridge.QuoteTTL.Std()),
		)),
	)

	server := api.NewServer(cfg.Server.Address(), table, opts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
