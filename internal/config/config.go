package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 AgentFi 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Web3      Web3Config      `json:"web3"`
	Nonce     NonceConfig     `json:"nonce"`
	Workflow  WorkflowConfig  `json:"workflow"`
	RunStore  RunStoreConfig  `json:"run_store"`
	RunQueue  RunQueueConfig  `json:"run_queue"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Alerting  AlertingConfig  `json:"alerting"`
	LLM       LLMConfig       `json:"llm"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与访问密钥。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
}

// LoggingConfig 控制日志输出行为。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// Web3Config 包含访问区块链节点所需的配置。
type Web3Config struct {
	RPCURL       string `json:"rpc_url"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
}

// NonceConfig 控制 nonce 管理器的同步策略。
type NonceConfig struct {
	SyncIntervalSeconds int `json:"sync_interval_seconds"`
	MaxPendingTxs       int `json:"max_pending_txs"`
}

// WorkflowConfig 控制工作流引擎的执行策略。
type WorkflowConfig struct {
	Executor         string `json:"executor"`
	RunBudgetSeconds int    `json:"run_budget_seconds"`
	SignerAddress    string `json:"signer_address"`
}

// RunStoreConfig 描述运行记录的持久化后端。
type RunStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	Retries                int    `json:"retries"`
}

// RunQueueConfig 描述运行请求队列的驱动。
type RunQueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 连接参数，队列与广播共用。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// BroadcastConfig 描述状态广播的输出端。
type BroadcastConfig struct {
	Driver  string      `json:"driver"`
	Subject string      `json:"subject"`
	Redis   RedisConfig `json:"redis"`
	NATSURL string      `json:"nats_url"`
}

// AlertingConfig 描述失败告警的外发渠道，日志渠道始终开启。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// LLMConfig 配置研究类能力所使用的大模型。
type LLMConfig struct {
	Enabled        bool   `json:"enabled"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Knowledge      string `json:"knowledge"`
}

// Timeout 返回大模型调用超时时间。
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Nonce.SyncIntervalSeconds <= 0 {
		c.Nonce.SyncIntervalSeconds = 30
	}
	if c.Nonce.MaxPendingTxs <= 0 {
		c.Nonce.MaxPendingTxs = 10
	}

	if c.Workflow.Executor == "" {
		c.Workflow.Executor = "simulated"
	}

	if c.RunStore.Driver == "" {
		c.RunStore.Driver = "memory"
	}
	if c.RunStore.Retries <= 0 {
		c.RunStore.Retries = 3
	}

	if c.RunQueue.Driver == "" {
		c.RunQueue.Driver = "memory"
	}
	if c.RunQueue.Worker <= 0 {
		c.RunQueue.Worker = 4
	}

	if c.Broadcast.Driver == "" {
		c.Broadcast.Driver = "log"
	}
	if c.Broadcast.Subject == "" {
		c.Broadcast.Subject = "agentfi.status"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.LLM.Knowledge != "" && !filepath.IsAbs(c.LLM.Knowledge) {
		c.LLM.Knowledge = filepath.Join(baseDir, c.LLM.Knowledge)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
