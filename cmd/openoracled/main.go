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

	"github.com/ethereum/go-ethereum/common"

	"OpenOracle-Chain/internal/api"
	"OpenOracle-Chain/internal/assertion"
	"OpenOracle-Chain/internal/config"
	"OpenOracle-Chain/internal/events"
	"OpenOracle-Chain/internal/identity"
	"OpenOracle-Chain/internal/market"
	"OpenOracle-Chain/internal/observability/metrics"
	"OpenOracle-Chain/internal/oracle"
	"OpenOracle-Chain/internal/reputation"
	storage "OpenOracle-Chain/internal/storage/mysql"
	loggerpkg "OpenOracle-Chain/pkg/logger"
)

// main 是 OpenOracle 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("openoracled 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("OPENORACLE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "openoracle.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// 初始化结构化日志与审计日志。
	if err := loggerpkg.Init(loggerpkg.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		AddSource:   cfg.Logging.AddSource,
		Audit: loggerpkg.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = loggerpkg.Sync()
	}()

	assertionStore, err := buildAssertionStore(ctx, cfg.Storage.AssertionStore)
	if err != nil {
		return err
	}
	defer func() {
		if assertionStore != nil {
			_ = assertionStore.Close()
		}
	}()

	scoreStore, err := buildReputationStore(ctx, cfg.Storage.ReputationStore)
	if err != nil {
		return err
	}
	defer func() {
		if scoreStore != nil {
			_ = scoreStore.Close()
		}
	}()

	eventQueue, err := buildEventQueue(cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if eventQueue != nil {
			if err := eventQueue.Close(); err != nil {
				loggerpkg.L().Warn("关闭事件队列失败", "error", err)
			}
		}
	}()

	if cfg.Markets.Catalog == "" {
		return errors.New("市场目录未配置")
	}
	catalog, err := market.LoadCatalog(cfg.Markets.Catalog)
	if err != nil {
		return err
	}

	if cfg.Identity.Source == "" {
		return errors.New("身份注册表未配置")
	}
	registry, err := identity.LoadStaticRegistry(cfg.Identity.Source)
	if err != nil {
		return err
	}
	loggerpkg.L().Info("引擎数据源就绪",
		"markets", catalog.Size(),
		"agents", registry.Size(),
	)

	recorderAddr := common.HexToAddress(cfg.Ledger.RecorderAddress)
	recorder, err := reputation.NewRecorder(recorderAddr, scoreStore,
		reputation.WithRecorderEvents(eventQueue),
	)
	if err != nil {
		return err
	}

	adjudicator := oracle.NewManual()

	ledger, err := assertion.NewLedger(recorderAddr, assertionStore, catalog, registry, adjudicator, recorder,
		assertion.WithLedgerEvents(eventQueue),
		assertion.WithLedgerLogger(loggerpkg.Named("ledger")),
	)
	if err != nil {
		return err
	}

	if !cfg.Ledger.Sweeper.Disabled {
		sweeper := assertion.NewSweeper(ledger, assertionStore,
			assertion.WithSweepInterval(cfg.Ledger.Sweeper.Interval()),
			assertion.WithSweeperWorkers(cfg.Ledger.Sweeper.Workers),
			assertion.WithSweeperLogger(loggerpkg.Named("sweeper")),
		)
		sweepCtx, sweepCancel := context.WithCancel(ctx)
		defer sweepCancel()
		go func() {
			if err := sweeper.Start(sweepCtx); err != nil && !errors.Is(err, context.Canceled) {
				loggerpkg.L().Error("结算巡检异常退出", "error", err)
			}
		}()
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				loggerpkg.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	view := reputation.NewView(scoreStore, registry)
	server := api.NewServer(cfg.Server.Address, ledger, view,
		api.WithAdminToken(cfg.Server.AdminToken),
		api.WithRecorderAdmin(recorder),
		api.WithManualOracle(adjudicator),
	)

	if err := server.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func buildAssertionStore(ctx context.Context, cfg config.StoreConfig) (assertion.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return assertion.NewMemoryStore(), nil
	case "mysql":
		return assertion.NewMySQLStore(ctx, storeConfig(cfg))
	default:
		return nil, storage.ErrUnsupportedDriver
	}
}

func buildReputationStore(ctx context.Context, cfg config.StoreConfig) (reputation.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return reputation.NewMemoryStore(), nil
	case "mysql":
		return reputation.NewMySQLStore(ctx, storeConfig(cfg))
	default:
		return nil, storage.ErrUnsupportedDriver
	}
}

func storeConfig(cfg config.StoreConfig) storage.Config {
	return storage.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
	}
}

func buildEventQueue(cfg config.EventsConfig) (events.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return events.NewMemoryQueue(1024), nil
	case "redis":
		return events.NewRedisQueue(events.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: cfg.Redis.BlockWait(),
		})
	case "rabbitmq":
		return events.NewRabbitMQQueue(events.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的事件队列驱动: %s", cfg.Driver)
	}
}
