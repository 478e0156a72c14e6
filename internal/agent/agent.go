package agent

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"BNBChain-AgentKit/internal/a2a"
	"BNBChain-AgentKit/internal/auth"
	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/config"
	"BNBChain-AgentKit/internal/erc8004"
	"BNBChain-AgentKit/internal/knowledge"
	"BNBChain-AgentKit/internal/llm"
	"BNBChain-AgentKit/internal/llm/openai"
	"BNBChain-AgentKit/internal/observability/alerting"
	"BNBChain-AgentKit/internal/observability/metrics"
	"BNBChain-AgentKit/internal/storage/mysql"
	redisstore "BNBChain-AgentKit/internal/storage/redis"
	"BNBChain-AgentKit/internal/task"
	"BNBChain-AgentKit/internal/web3/ethereum"
	"BNBChain-AgentKit/internal/web3/provider"
	"BNBChain-AgentKit/internal/x402"
	"BNBChain-AgentKit/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Runtime is a running agent: identity, task pipeline and HTTP surface.
type Runtime struct {
	cfg       *config.Config
	chain     chains.Chain
	providers *provider.Registry
	client    *ethereum.Client
	manager   *erc8004.IdentityManager
	identity  *erc8004.AgentIdentity

	server    *a2a.Server
	tasks     *task.Service
	queue     task.Queue
	processor *task.Processor
	paywall   *x402.Paywall
	engine    *gin.Engine

	db    *sql.DB
	redis *goredis.Client

	log       *slog.Logger
	closeOnce sync.Once
}

// Option customises New, mainly for tests.
type Option func(*options)

type options struct {
	dialer provider.Dialer
	llm    llm.Client
	db     *sql.DB
	redis  *goredis.Client
}

// WithDialer replaces the RPC dialer of the chain registry.
func WithDialer(d provider.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLLM installs a language model for the chat skill, overriding the
// configured provider.
func WithLLM(c llm.Client) Option {
	return func(o *options) { o.llm = c }
}

// WithDB supplies the MySQL pool instead of opening MYSQL_DSN.
func WithDB(db *sql.DB) Option {
	return func(o *options) { o.db = db }
}

// WithRedis supplies the Redis client instead of dialing REDIS_URL.
func WithRedis(c *goredis.Client) Option {
	return func(o *options) { o.redis = c }
}

// New resolves the chain, sets up the on-chain identity and wires the A2A
// server. Call Run to serve and Close to release resources.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{cfg: cfg, log: logger.Named("agent"), db: o.db, redis: o.redis}
	if err := rt.init(ctx, o); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) init(ctx context.Context, o options) error {
	cfg := rt.cfg
	table, err := cfg.ChainTable()
	if err != nil {
		return err
	}
	var providerOpts []provider.Option
	if o.dialer != nil {
		providerOpts = append(providerOpts, provider.WithDialer(o.dialer))
	}
	rt.providers = provider.NewRegistry(table, providerOpts...)
	rt.client, rt.chain, err = rt.providers.Client(ctx, cfg.Agent.Chain)
	if err != nil {
		return err
	}

	rt.manager, rt.identity, err = setupIdentity(ctx, cfg, rt.client.Backend(), rt.chain, rt.log)
	if err != nil {
		return err
	}

	if err := rt.openStorage(ctx); err != nil {
		return err
	}
	store, err := rt.taskStore()
	if err != nil {
		return err
	}
	if rt.queue, err = rt.taskQueue(ctx); err != nil {
		_ = store.Close()
		return err
	}
	var producer task.Producer
	if rt.queue != nil {
		producer = rt.queue
	}
	rt.tasks = task.NewService(store, producer, cfg.Queue.MaxRetries)

	if cfg.X402.Enabled {
		if rt.paywall, err = rt.newPaywall(); err != nil {
			return err
		}
	}

	authSvc, err := auth.NewStatic(cfg.Auth.Tokens)
	if err != nil {
		return err
	}
	middleware := []gin.HandlerFunc{authSvc.Gin()}
	if rt.paywall != nil {
		middleware = append(middleware, skillPaywall(rt.paywall))
	}

	var broker a2a.Broker = a2a.NewMemoryBroker()
	if rt.redis != nil {
		broker = a2a.NewRedisBroker(rt.redis, "")
	}
	card := buildCard(cfg, rt.chain, rt.identity, true)
	rt.server = a2a.NewServer(card, rt.tasks,
		a2a.WithBroker(broker),
		a2a.WithPusher(&a2a.Pusher{}),
		a2a.WithMiddleware(middleware...),
		a2a.WithLogger(logger.Named("a2a")),
	)
	if err := rt.registerHandlers(o.llm); err != nil {
		return err
	}

	if rt.queue != nil {
		rt.processor = task.NewProcessor(rt.server, store, rt.queue, rt.queue,
			task.WithWorkerCount(cfg.Queue.Workers),
			task.WithProcessorLogger(logger.Named("task")),
			task.WithOutcomeHook(rt.server.OnOutcome),
			task.WithAlertDispatcher(alertDispatcher(cfg)),
		)
	}

	rt.engine = rt.buildEngine()
	return nil
}

func (rt *Runtime) registerHandlers(client llm.Client) error {
	cfg := rt.cfg
	rt.server.HandleDefault(echoHandler(cfg.Agent.Name, cfg.Agent.Chain))
	rt.server.Handle("on-chain-execution", chainStatusHandler(rt, rt.client))

	if client == nil && cfg.LLM.Provider == "openai" {
		c, err := openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout.Std(),
		})
		if err != nil {
			return err
		}
		client = c
	}
	if client == nil {
		return nil
	}

	var kb knowledge.Provider = knowledge.Builtin(3)
	if cfg.LLM.KnowledgeFile != "" {
		p, err := knowledge.LoadStaticProvider(cfg.LLM.KnowledgeFile, 3)
		if err != nil {
			return err
		}
		kb = p
	}
	rt.server.Handle("chat", chatHandler(client, kb, systemPrompt(cfg, rt.chain), cfg.LLM.Timeout.Std()))
	return nil
}

func systemPrompt(cfg *config.Config, chain chains.Chain) string {
	return "You are " + cfg.Agent.Name + ", an autonomous agent running on " + chain.Name +
		" with an ERC-8004 on-chain identity. " + cfg.Agent.Description +
		" Answer concisely and say so when a question needs data you do not have."
}

func (rt *Runtime) openStorage(ctx context.Context) error {
	cfg := rt.cfg
	needDB := cfg.Storage.Driver == "mysql" || (cfg.X402.Enabled && cfg.X402.ReceiptStore == "mysql")
	if needDB && rt.db == nil {
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Storage.MySQL.DSN,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.MySQL.ConnMaxLifetime.Std(),
			ConnMaxIdleTime: cfg.Storage.MySQL.ConnMaxIdleTime.Std(),
			SkipMigrations:  cfg.Storage.MySQL.SkipMigrations,
		})
		if err != nil {
			return err
		}
		rt.db = db
	}
	if cfg.Storage.Redis.Enabled() && rt.redis == nil {
		client, err := redisstore.Open(ctx, redisConfig(cfg))
		if err != nil {
			return err
		}
		rt.redis = client
	}
	return nil
}

func redisConfig(cfg *config.Config) redisstore.Config {
	r := cfg.Storage.Redis
	return redisstore.Config{URL: r.URL, Addr: r.Addr, Password: r.Password, DB: r.DB}
}

// taskStore hands the MySQL pool to the store, which then owns it.
func (rt *Runtime) taskStore() (task.Store, error) {
	if rt.cfg.Storage.Driver != "mysql" {
		return task.NewMemoryStore(), nil
	}
	store, err := task.NewMySQLStore(rt.db)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (rt *Runtime) taskQueue(ctx context.Context) (task.Queue, error) {
	q := rt.cfg.Queue
	switch q.Driver {
	case "memory":
		return task.NewMemoryQueue(q.BufferSize), nil
	case "redis":
		// The queue closes its client, so it gets a dedicated connection.
		client, err := redisstore.Open(ctx, redisConfig(rt.cfg))
		if err != nil {
			return nil, err
		}
		return task.NewRedisQueueWithClient(client, q.RedisKey, q.Wait.Std()), nil
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      q.RabbitMQ.URL,
			Queue:    q.RabbitMQ.Queue,
			Prefetch: q.RabbitMQ.Prefetch,
			Durable:  q.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	}
	return nil, nil
}

func (rt *Runtime) newPaywall() (*x402.Paywall, error) {
	cfg := rt.cfg.X402
	payee := cfg.Payee
	if payee == "" && rt.manager != nil {
		payee = rt.manager.Address()
	}

	var store x402.ReceiptStore = x402.NewMemoryStore()
	if cfg.ReceiptStore == "mysql" {
		store = mysql.NewReceiptLedger(rt.db)
	}
	var verifierOpts []x402.VerifierOption
	if cfg.CheckBalance {
		verifierOpts = append(verifierOpts, x402.WithBalanceCheck(x402.ERC20Balances{Backend: rt.client.Backend()}))
	}
	return x402.NewPaywall(x402.NewVerifier(store, verifierOpts...), rt.chain.ChainID, payee, cfg.Pricing,
		x402.WithObserver(metrics.ObservePayment))
}

func (rt *Runtime) buildEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	rt.server.Routes(engine)
	if rt.paywall != nil {
		engine.GET("/x402/pricing", func(c *gin.Context) {
			c.JSON(http.StatusOK, rt.paywall.Routes())
		})
	}
	if rt.cfg.Observability.MetricsAddr == "" {
		engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return engine
}

// Card returns the served agent card.
func (rt *Runtime) Card() a2a.AgentCard { return rt.server.Card() }

// Identity returns the on-chain identity, nil in dev mode or when
// registration was skipped.
func (rt *Runtime) Identity() *erc8004.AgentIdentity { return rt.identity }

// Chain returns the resolved chain.
func (rt *Runtime) Chain() chains.Chain { return rt.chain }

// Handler returns the HTTP handler with request metrics.
func (rt *Runtime) Handler() http.Handler {
	return metrics.Middleware("agent", rt.engine)
}

// Run starts the task processor and serves HTTP until ctx is done.
func (rt *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if rt.processor != nil {
		go func() {
			if err := rt.processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				rt.log.Error("任务处理器异常退出", slog.Any("error", err))
			}
		}()
	}
	if addr := rt.cfg.Observability.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil {
				rt.log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := &http.Server{
		Addr:              rt.cfg.Server.Address(),
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	rt.log.Info("agent started",
		slog.String("name", rt.cfg.Agent.Name),
		slog.String("chain", rt.chain.Key),
		slog.Bool("dev_mode", rt.cfg.Agent.DevMode()),
		slog.String("a2a", rt.cfg.Server.PublicURL()+a2a.RPCPath),
		slog.String("card", rt.cfg.Server.PublicURL()+a2a.CardPath),
		slog.Bool("async", rt.tasks.Async()),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close releases storage, queues and chain connections.
func (rt *Runtime) Close() {
	rt.closeOnce.Do(func() {
		if rt.tasks != nil {
			if err := rt.tasks.Close(); err != nil {
				rt.log.Warn("关闭任务服务失败", slog.Any("error", err))
			}
		} else if rt.queue != nil {
			_ = rt.queue.Close()
		}
		if rt.db != nil && (rt.tasks == nil || rt.cfg.Storage.Driver != "mysql") {
			_ = rt.db.Close()
		}
		if rt.redis != nil {
			_ = rt.redis.Close()
		}
		if rt.providers != nil {
			rt.providers.Close()
		}
	})
}

func alertDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if url := cfg.Observability.AlertWebhook; url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: url, Token: cfg.Observability.AlertToken})
	}
	if url := cfg.Observability.SlackWebhook; url != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{WebhookURL: url})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
