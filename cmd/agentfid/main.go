package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentFi-Mesh/internal/agents"
	"AgentFi-Mesh/internal/api"
	"AgentFi-Mesh/internal/auth"
	"AgentFi-Mesh/internal/broadcast"
	"AgentFi-Mesh/internal/config"
	"AgentFi-Mesh/internal/knowledge"
	"AgentFi-Mesh/internal/nonce"
	"AgentFi-Mesh/internal/observability/alerting"
	"AgentFi-Mesh/internal/observability/metrics"
	runpkg "AgentFi-Mesh/internal/run"
	"AgentFi-Mesh/internal/web3/provider"
	"AgentFi-Mesh/internal/workflow"
	"AgentFi-Mesh/pkg/logger"
)

// main 是 AgentFi 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentfid 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTFI_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentfi.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	nonces := nonce.NewManager(registryCounters{registry: chainRegistry},
		nonce.WithSyncMaxAge(time.Duration(cfg.Nonce.SyncIntervalSeconds)*time.Second),
		nonce.WithMaxPending(cfg.Nonce.MaxPendingTxs),
	)

	sink, closeSink, err := createBroadcastSink(ctx, cfg.Broadcast)
	if err != nil {
		return err
	}
	defer closeSink()

	invoker, err := createInvoker(cfg, sink, nonces, chainRegistry)
	if err != nil {
		return err
	}

	engine := workflow.NewEngine(
		workflow.WithExecutor(invoker),
		workflow.WithRunBudget(time.Duration(cfg.Workflow.RunBudgetSeconds)*time.Second),
	)
	if err := workflow.RegisterBuiltins(engine); err != nil {
		return err
	}

	runStore, err := createRunStore(cfg.RunStore)
	if err != nil {
		return err
	}
	defer func() { _ = runStore.Close() }()

	runQueue, err := createRunQueue(cfg.RunQueue)
	if err != nil {
		return err
	}
	defer func() {
		if err := runQueue.Close(); err != nil {
			logger.L().Warn("关闭运行队列失败", "error", err)
		}
	}()

	checker := runpkg.TemplateChecker(func(id string) bool {
		_, ok := engine.Template(id)
		return ok
	})
	runService := runpkg.NewService(runStore, runQueue, checker, cfg.RunStore.Retries)

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}

	processor := runpkg.NewProcessor(engine, runStore, runQueue, runQueue,
		runpkg.WithWorkerCount(cfg.RunQueue.Worker),
		runpkg.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", "error", err)
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	guard := auth.NewService(cfg.Server.APIKey, cfg.Server.APIKeyEnv)
	server := api.NewServer(cfg.Server.Address, runService, engine, nonces, guard)

	logger.L().Info("agentfid 启动完成",
		"address", cfg.Server.Address,
		"default_chain", chainRegistry.DefaultChain(),
		"run_store", cfg.RunStore.Driver,
		"run_queue", cfg.RunQueue.Driver,
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// registryCounters 让链客户端注册表充当 nonce 管理器的查询源。
type registryCounters struct {
	registry *provider.Registry
}

func (r registryCounters) Counter(chain string) (nonce.TransactionCounter, bool) {
	client, ok := r.registry.Client(chain)
	if !ok {
		return nil, false
	}
	return client, true
}

// createBroadcastSink 按配置构造状态广播出口。外部驱动总是与
// 日志出口组成扇出，保证本地始终留有事件痕迹。
func createBroadcastSink(ctx context.Context, cfg config.BroadcastConfig) (broadcast.Sink, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case "", "log":
		return broadcast.NewLogSink(nil), noop, nil
	case "redis":
		sink, err := broadcast.NewRedisSink(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Subject)
		if err != nil {
			return nil, nil, err
		}
		return broadcast.NewFanoutSink(broadcast.NewLogSink(nil), sink), func() { _ = sink.Close() }, nil
	case "nats":
		sink, err := broadcast.NewNATSSink(cfg.NATSURL, cfg.Subject)
		if err != nil {
			return nil, nil, err
		}
		return broadcast.NewFanoutSink(broadcast.NewLogSink(nil), sink), func() { sink.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知的广播驱动: %s", cfg.Driver)
	}
}

// createInvoker 组装能力分发器并挂载研究与执行两类处理器。
func createInvoker(cfg *config.Config, sink broadcast.Sink, nonces *nonce.Manager, registry *provider.Registry) (*agents.Invoker, error) {
	var knowledgeProvider knowledge.Provider
	if cfg.LLM.Knowledge != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.LLM.Knowledge, 0)
		if err != nil {
			return nil, err
		}
		knowledgeProvider = provider
	}

	var submitter agents.TxSubmitter
	switch cfg.Workflow.Executor {
	case "", "simulated":
		submitter = agents.SimulatedSubmitter{}
	case "chain":
		submitter = agents.NewRegistrySubmitter(registry)
	default:
		return nil, fmt.Errorf("未知的执行器模式: %s", cfg.Workflow.Executor)
	}

	invoker := agents.NewInvoker(agents.WithSink(sink))
	invoker.Register("research", agents.NewResearchHandler(cfg.LLM, knowledgeProvider))
	invoker.Register("execution", agents.NewExecutionHandler(
		nonces, submitter, registry.DefaultChain(), cfg.Workflow.SignerAddress))
	return invoker, nil
}

func createRunStore(cfg config.RunStoreConfig) (runpkg.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return runpkg.NewMemoryStore(), nil
	case "mysql":
		return runpkg.NewMySQLStore(runpkg.MySQLConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

func createRunQueue(cfg config.RunQueueConfig) (runpkg.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return runpkg.NewMemoryQueue(1024), nil
	case "redis":
		return runpkg.NewRedisQueue(runpkg.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return runpkg.NewRabbitMQQueue(runpkg.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}
