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

// Config 描述了 OpenOracle 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Events   EventsConfig   `json:"events"`
	Markets  MarketsConfig  `json:"markets"`
	Identity IdentityConfig `json:"identity"`
	Ledger   LedgerConfig   `json:"ledger"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// ServerConfig 控制 API 服务的监听地址与管理端令牌。
type ServerConfig struct {
	Address    string `json:"address"`
	AdminToken string `json:"admin_token"`
}

// LoggingConfig 描述结构化日志与审计日志的输出方式。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	AddSource   bool        `json:"add_source"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志文件及其轮转参数。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// StorageConfig 统一描述断言账本与声誉分数的持久化后端。
type StorageConfig struct {
	AssertionStore  StoreConfig `json:"assertion_store"`
	ReputationStore StoreConfig `json:"reputation_store"`
}

// StoreConfig 描述单个存储后端，默认提供内存实现，可切换到 MySQL。
type StoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// EventsConfig 描述事件流的投递后端。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// BlockWait 返回 BRPOP 的最长阻塞时间。
func (c RedisConfig) BlockWait() time.Duration {
	return time.Duration(c.BlockWaitSeconds) * time.Second
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// MarketsConfig 指向市场目录文件（YAML）。
type MarketsConfig struct {
	Catalog string `json:"catalog"`
}

// IdentityConfig 指向代理身份注册表的静态数据源（JSON）。
type IdentityConfig struct {
	Source string `json:"source"`
}

// LedgerConfig 描述账本自身的记录员身份与结算巡检参数。
type LedgerConfig struct {
	RecorderAddress string        `json:"recorder_address"`
	Sweeper         SweeperConfig `json:"sweeper"`
}

// SweeperConfig 控制结算巡检循环。
type SweeperConfig struct {
	Disabled        bool `json:"disabled"`
	IntervalSeconds int  `json:"interval_seconds"`
	Workers         int  `json:"workers"`
}

// Interval 返回巡检周期。
func (c SweeperConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// MetricsConfig 控制指标服务。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
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
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	} else if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Storage.AssertionStore.Driver == "" {
		c.Storage.AssertionStore.Driver = "memory"
	}
	if c.Storage.ReputationStore.Driver == "" {
		c.Storage.ReputationStore.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Redis.BlockWaitSeconds <= 0 {
		c.Events.Redis.BlockWaitSeconds = 5
	}

	if c.Markets.Catalog != "" && !filepath.IsAbs(c.Markets.Catalog) {
		c.Markets.Catalog = filepath.Join(baseDir, c.Markets.Catalog)
	}
	if c.Identity.Source != "" && !filepath.IsAbs(c.Identity.Source) {
		c.Identity.Source = filepath.Join(baseDir, c.Identity.Source)
	}

	if c.Ledger.Sweeper.IntervalSeconds <= 0 {
		c.Ledger.Sweeper.IntervalSeconds = 15
	}
	if c.Ledger.Sweeper.Workers <= 0 {
		c.Ledger.Sweeper.Workers = 4
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9600"
	}
}
