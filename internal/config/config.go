package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"contractsvc/pkg/config"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// ConsumerConfig 支付事件消费者配置
type ConsumerConfig struct {
	Queue    string        `yaml:"queue"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
	RetryTTL time.Duration `yaml:"retry_ttl"`
}

type Config struct {
	ServiceName string `yaml:"service_name"`
	// Storage is "postgres" or "memory". memory runs without any outside
	// dependency and is meant for local runs.
	Storage string `yaml:"storage"`

	DB        config.DBConfig        `yaml:"db"`
	MQ        config.MQConfig        `yaml:"mq"`
	Redis     config.RedisConfig     `yaml:"redis"`
	JWT       config.JWTConfig       `yaml:"jwt"`
	Server    config.ServerConfig    `yaml:"server"`
	Workspace config.WorkspaceConfig `yaml:"workspace"`
	Outbox    config.OutboxConfig    `yaml:"outbox"`
	OTel      config.OTelConfig      `yaml:"otel"`
	RateLimit config.RateLimitConfig `yaml:"ratelimit"`
	Consumer  ConsumerConfig         `yaml:"consumer"`
}

func Load() *Config {
	// 使用统一配置中心
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfg, err := LoadFrom(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom loads base.yaml plus <env>.yaml from dir, applies env overrides
// and defaults, and validates the result.
func LoadFrom(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideWorkspaceFromEnv(&cfg.Workspace)
	config.OverrideOTelFromEnv(&cfg.OTel)
	if s := os.Getenv("STORAGE"); s != "" {
		cfg.Storage = s
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "contract-service"
	}
	if c.Storage == "" {
		c.Storage = StoragePostgres
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Workspace.Timeout <= 0 {
		c.Workspace.Timeout = 10 * time.Second
	}
	if c.Workspace.MaxElapsed <= 0 {
		c.Workspace.MaxElapsed = 3 * c.Workspace.Timeout
	}
	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = 2 * time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries <= 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Consumer.Queue == "" {
		c.Consumer.Queue = "contracts.payment.milestone.q"
	}
	if c.Consumer.DedupTTL <= 0 {
		c.Consumer.DedupTTL = 24 * time.Hour
	}
	if c.Consumer.RetryTTL <= 0 {
		c.Consumer.RetryTTL = time.Hour
	}
}

// RoomTimeout bounds one whole room provisioning: the client's retry budget
// plus one last request that may start right before the budget runs out.
func (c *Config) RoomTimeout() time.Duration {
	return c.Workspace.MaxElapsed + c.Workspace.Timeout
}

func (c *Config) validate() error {
	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage %q (want %s or %s)", c.Storage, StoragePostgres, StorageMemory)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	return nil
}
