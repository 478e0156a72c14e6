package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/x402"
	"BNBChain-AgentKit/pkg/logger"
)

// 默认值。
const (
	DefaultAgentName        = "BNB Chain AI Agent"
	DefaultAgentDescription = "An autonomous AI agent on BNB Chain with on-chain identity, reputation, and x402 micropayments."
	DefaultChain            = "bsc-testnet"
	DefaultPort             = 3000
)

// DefaultCapabilities 是未配置时智能体对外声明的能力，每项对应一个 A2A skill。
var DefaultCapabilities = []string{"chat", "analysis", "on-chain-execution"}

// Config 汇总了各个二进制在启动阶段需要的配置。JSON 文件提供基础值，
// 环境变量覆盖同名字段。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Agent         AgentConfig         `json:"agent"`
	Storage       StorageConfig       `json:"storage"`
	Queue         QueueConfig         `json:"queue"`
	X402          X402Config          `json:"x402"`
	LLM           LLMConfig           `json:"llm"`
	Bridge        BridgeConfig        `json:"bridge"`
	Auth          AuthConfig          `json:"auth"`
	Logging       LoggingConfig       `json:"logging"`
	Observability ObservabilityConfig `json:"observability"`
	Chains        ChainsConfig        `json:"chains"`
	MCP           MCPConfig           `json:"mcp"`
	Runtime       RuntimeConfig       `json:"runtime"`
}

// ServerConfig 控制 HTTP 监听参数。
type ServerConfig struct {
	Host    string `json:"host" env:"HOST"`
	Port    int    `json:"port" env:"PORT"`
	BaseURL string `json:"base_url" env:"BASE_URL"`
}

// Address 返回 net/http 使用的监听地址。
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PublicURL 返回对外公布的访问地址，未配置 BASE_URL 时回落到本机端口。
func (s ServerConfig) PublicURL() string {
	if s.BaseURL != "" {
		return strings.TrimRight(s.BaseURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", s.Port)
}

// AgentConfig 描述智能体身份。
type AgentConfig struct {
	Name             string   `json:"name" env:"AGENT_NAME"`
	Description      string   `json:"description" env:"AGENT_DESCRIPTION"`
	Version          string   `json:"version" env:"AGENT_VERSION"`
	Image            string   `json:"image" env:"AGENT_IMAGE"`
	PrivateKey       string   `json:"private_key" env:"PRIVATE_KEY"`
	Chain            string   `json:"chain" env:"CHAIN"`
	Capabilities     []string `json:"capabilities" env:"AGENT_CAPABILITIES" envSeparator:","`
	TrustModels      []string `json:"trust_models" env:"AGENT_TRUST_MODELS" envSeparator:","`
	SkipRegistration bool     `json:"skip_registration" env:"AGENT_SKIP_REGISTRATION"`
	Organization     string   `json:"organization" env:"AGENT_ORGANIZATION"`
}

// DevMode 报告是否以无私钥的开发模式运行。
func (a AgentConfig) DevMode() bool {
	return strings.TrimSpace(a.PrivateKey) == ""
}

// StorageConfig 描述任务与支付记录的存储后端。
type StorageConfig struct {
	// Driver 取值 memory 或 mysql。
	Driver string      `json:"driver" env:"TASK_STORE"`
	MySQL  MySQLConfig `json:"mysql"`
	Redis  RedisConfig `json:"redis"`
}

// MySQLConfig 对应 storage/mysql.Config。
type MySQLConfig struct {
	DSN             string   `json:"dsn" env:"MYSQL_DSN"`
	MaxOpenConns    int      `json:"max_open_conns" env:"MYSQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int      `json:"max_idle_conns" env:"MYSQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" env:"MYSQL_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime Duration `json:"conn_max_idle_time" env:"MYSQL_CONN_MAX_IDLE_TIME"`
	SkipMigrations  bool     `json:"skip_migrations" env:"MYSQL_SKIP_MIGRATIONS"`
}

// RedisConfig 被任务队列、报价缓存、限流与事件广播共用。
type RedisConfig struct {
	URL      string `json:"url" env:"REDIS_URL"`
	Addr     string `json:"addr" env:"REDIS_ADDR"`
	Password string `json:"password" env:"REDIS_PASSWORD"`
	DB       int    `json:"db" env:"REDIS_DB"`
}

// Enabled 报告是否配置了 Redis。
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Addr != ""
}

// QueueConfig 控制任务是否经由队列异步执行。
type QueueConfig struct {
	// Driver 取值 none、memory、redis 或 rabbitmq；none 表示同步执行。
	Driver     string         `json:"driver" env:"TASK_QUEUE"`
	Workers    int            `json:"workers" env:"TASK_WORKERS"`
	MaxRetries int            `json:"max_retries" env:"TASK_MAX_RETRIES"`
	BufferSize int            `json:"buffer_size" env:"TASK_QUEUE_BUFFER"`
	RedisKey   string         `json:"redis_key" env:"TASK_QUEUE_REDIS_KEY"`
	Wait       Duration       `json:"wait" env:"TASK_QUEUE_WAIT"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 AMQP 连接。
type RabbitMQConfig struct {
	URL      string `json:"url" env:"RABBITMQ_URL"`
	Queue    string `json:"queue" env:"RABBITMQ_QUEUE"`
	Durable  bool   `json:"durable" env:"RABBITMQ_DURABLE"`
	Prefetch int    `json:"prefetch" env:"RABBITMQ_PREFETCH"`
}

// X402Config 配置付费路由。
type X402Config struct {
	Enabled bool   `json:"enabled" env:"X402_ENABLED"`
	Payee   string `json:"payee" env:"X402_PAYEE"`
	// ReceiptStore 取值 memory 或 mysql。
	ReceiptStore string               `json:"receipt_store" env:"X402_RECEIPT_STORE"`
	CheckBalance bool                 `json:"check_balance" env:"X402_CHECK_BALANCE"`
	Pricing      []x402.PricingConfig `json:"pricing"`
}

// LLMConfig 配置 chat 技能背后的大模型。
type LLMConfig struct {
	// Provider 取值 none 或 openai。
	Provider      string   `json:"provider" env:"LLM_PROVIDER"`
	APIKey        string   `json:"api_key" env:"OPENAI_API_KEY"`
	BaseURL       string   `json:"base_url" env:"OPENAI_BASE_URL"`
	Model         string   `json:"model" env:"OPENAI_MODEL"`
	Timeout       Duration `json:"timeout" env:"LLM_TIMEOUT"`
	KnowledgeFile string   `json:"knowledge_file" env:"KNOWLEDGE_FILE"`
}

// BridgeConfig 配置跨链报价服务。
type BridgeConfig struct {
	SynapseAPI string   `json:"synapse_api" env:"SYNAPSE_API_URL"`
	QuoteTTL   Duration `json:"quote_ttl" env:"BRIDGE_QUOTE_TTL"`
	RateLimit  int      `json:"rate_limit" env:"RATE_LIMIT_PER_MINUTE"`
}

// AuthConfig 配置 A2A 端点的 bearer token；为空时不校验。
type AuthConfig struct {
	Tokens []string `json:"tokens" env:"A2A_AUTH_TOKENS" envSeparator:","`
}

// LoggingConfig 对应 pkg/logger.Config。
type LoggingConfig struct {
	Level     string   `json:"level" env:"LOG_LEVEL"`
	Format    string   `json:"format" env:"LOG_FORMAT"`
	Outputs   []string `json:"outputs" env:"LOG_OUTPUTS" envSeparator:","`
	AuditPath string   `json:"audit_path" env:"LOG_AUDIT_PATH"`
}

// ObservabilityConfig 配置指标与告警。
type ObservabilityConfig struct {
	MetricsAddr  string `json:"metrics_addr" env:"METRICS_ADDR"`
	AlertWebhook string `json:"alert_webhook" env:"ALERT_WEBHOOK_URL"`
	AlertToken   string `json:"alert_token" env:"ALERT_WEBHOOK_TOKEN"`
	SlackWebhook string `json:"slack_webhook" env:"SLACK_WEBHOOK_URL"`
}

// ChainsConfig 指定链表覆盖文件与单链 RPC 覆盖。
type ChainsConfig struct {
	OverridesFile string            `json:"overrides_file" env:"CHAIN_OVERRIDES"`
	RPC           map[string]string `json:"rpc"`
}

// MCPConfig 配置 erc8004-mcp 的传输方式。
type MCPConfig struct {
	// Transport 取值 stdio 或 http。
	Transport string `json:"transport" env:"MCP_TRANSPORT"`
	HTTPAddr  string `json:"http_addr" env:"MCP_HTTP_ADDR"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" env:"DATA_DIR"`
}

// Load 读取 JSON 配置文件（path 为空时只使用默认值），再用环境变量覆盖。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFiles 将 .env 文件中的变量写入进程环境，不覆盖已存在的变量。
// 文件不存在时忽略。
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("加载 %s 失败: %w", f, err)
		}
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Agent.Name == "" {
		c.Agent.Name = DefaultAgentName
	}
	if c.Agent.Description == "" {
		c.Agent.Description = DefaultAgentDescription
	}
	if c.Agent.Version == "" {
		c.Agent.Version = "1.0.0"
	}
	if c.Agent.Chain == "" {
		c.Agent.Chain = DefaultChain
	}
	if len(c.Agent.Capabilities) == 0 {
		c.Agent.Capabilities = append([]string(nil), DefaultCapabilities...)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "none"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.BufferSize <= 0 {
		c.Queue.BufferSize = 128
	}
	if c.Queue.Wait <= 0 {
		c.Queue.Wait = Duration(5 * time.Second)
	}
	if c.X402.ReceiptStore == "" {
		c.X402.ReceiptStore = c.Storage.Driver
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
		if c.LLM.APIKey != "" {
			c.LLM.Provider = "openai"
		}
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = Duration(60 * time.Second)
	}
	c.LLM.KnowledgeFile = resolvePath(baseDir, c.LLM.KnowledgeFile)

	if c.Bridge.QuoteTTL <= 0 {
		c.Bridge.QuoteTTL = Duration(5 * time.Minute)
	}
	if c.Bridge.RateLimit <= 0 {
		c.Bridge.RateLimit = 100
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = []string{"stdout"}
	}

	if c.MCP.Transport == "" {
		c.MCP.Transport = "stdio"
	}
	if c.MCP.HTTPAddr == "" {
		c.MCP.HTTPAddr = ":3001"
	}

	c.Chains.OverridesFile = resolvePath(baseDir, c.Chains.OverridesFile)
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	}
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Validate 校验枚举字段与依赖关系。
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("端口 %d 超出范围", c.Server.Port))
	}
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			errs = append(errs, errors.New("storage.driver=mysql 需要配置 MYSQL_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的存储驱动 %q", c.Storage.Driver))
	}
	switch c.Queue.Driver {
	case "none", "memory":
	case "redis":
		if !c.Storage.Redis.Enabled() {
			errs = append(errs, errors.New("queue.driver=redis 需要配置 REDIS_URL 或 REDIS_ADDR"))
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("queue.driver=rabbitmq 需要配置 RABBITMQ_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的队列驱动 %q", c.Queue.Driver))
	}
	switch c.X402.ReceiptStore {
	case "memory":
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			errs = append(errs, errors.New("x402.receipt_store=mysql 需要配置 MYSQL_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的收据存储 %q", c.X402.ReceiptStore))
	}
	switch c.MCP.Transport {
	case "stdio", "http":
	default:
		errs = append(errs, fmt.Errorf("未知的 MCP 传输方式 %q", c.MCP.Transport))
	}
	switch c.LLM.Provider {
	case "none":
	case "openai":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.provider=openai 需要配置 OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的大模型提供方 %q", c.LLM.Provider))
	}
	return errors.Join(errs...)
}

// ChainTable 返回叠加了覆盖文件与单链 RPC 配置的链表。
func (c *Config) ChainTable() (*chains.Registry, error) {
	table := chains.Default()
	defs, err := chains.LoadOverrides(c.Chains.OverridesFile)
	if err != nil {
		return nil, err
	}
	if err := table.Apply(defs); err != nil {
		return nil, err
	}
	for name, rpcURL := range c.Chains.RPC {
		if err := table.SetRPC(name, rpcURL); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// LoggerConfig 转换为 pkg/logger 的配置。
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Logging.Level,
		Format:      c.Logging.Format,
		OutputPaths: c.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled: c.Logging.AuditPath != "",
			Path:    c.Logging.AuditPath,
		},
	}
}

// Duration 支持在 JSON 与环境变量中使用 "30s"、"5m" 这样的写法。
type Duration time.Duration

// Std 返回 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalText 实现 encoding.TextUnmarshaler，供环境变量解析使用。
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON 同时接受字符串与纳秒数值。
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("无效的时长 %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON 以字符串形式输出。
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
