package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "BNBChain-AgentKit/internal/errors"
)

// Config 描述 Redis 连接参数。URL 优先于 Addr。
type Config struct {
	URL      string
	Addr     string
	Password string
	DB       int
}

// Open 建立连接并执行一次 PING。
func Open(ctx context.Context, cfg Config) (*goredis.Client, error) {
	var opts *goredis.Options
	switch {
	case cfg.URL != "":
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 REDIS_URL 失败")
		}
		opts = parsed
	case cfg.Addr != "":
		opts = &goredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置 Redis 地址")
	}

	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return client, nil
}
