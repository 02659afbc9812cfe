package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
	S3         S3Config         `mapstructure:"s3"`
	SweepRing  SweepRingConfig  `mapstructure:"sweep_ring"`
	Admin      AdminConfig      `mapstructure:"admin"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// RateLimitConfig 限制邀请码尝试次数，防止暴力枚举 6 位邀请码
type RateLimitConfig struct {
	JoinPerMinute int  `mapstructure:"join_per_minute"`
	FailOpen      bool `mapstructure:"fail_open"`
}

type WorkerPoolConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

type KafkaConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Brokers       []string       `mapstructure:"brokers"`
	ConsumerGroup string         `mapstructure:"consumer_group"`
	Topics        TopicsConfig   `mapstructure:"topics"`
	Producer      ProducerConfig `mapstructure:"producer"`
	Consumer      ConsumerConfig `mapstructure:"consumer"`
}

type TopicsConfig struct {
	Events   string `mapstructure:"events"`
	Triggers string `mapstructure:"triggers"`
	DLQ      string `mapstructure:"dlq"`
}

type ProducerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type ConsumerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// LifecycleConfig 群组生命周期相关参数
type LifecycleConfig struct {
	RetentionDays     int           `mapstructure:"retention_days"`
	InviteTTL         time.Duration `mapstructure:"invite_ttl"`
	InviteMaxAttempts int           `mapstructure:"invite_max_attempts"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	SweepConcurrency  int           `mapstructure:"sweep_concurrency"`
	ExpiringFraction  float64       `mapstructure:"expiring_fraction"`
}

type S3Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	Region       string `mapstructure:"region"`
	BaseEndpoint string `mapstructure:"base_endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Bucket       string `mapstructure:"bucket"`
}

// SweepRingConfig 多节点部署时按一致性哈希划分 sweep 负责的群组，为空表示本节点处理全部群组
type SweepRingConfig struct {
	NodeID   string   `mapstructure:"node_id"`
	Nodes    []string `mapstructure:"nodes"`
	Replicas int      `mapstructure:"replicas"`
}

// AdminConfig 允许调用 /admin 接口的运维用户，为空时拒绝所有请求
type AdminConfig struct {
	Operators []string `mapstructure:"operators"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.max_open_conns", 50)

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("jwt.expire_hours", 24)

	v.SetDefault("ratelimit.join_per_minute", 10)
	v.SetDefault("ratelimit.fail_open", true)

	v.SetDefault("worker_pool.size", 8)
	v.SetDefault("worker_pool.queue_size", 256)

	v.SetDefault("kafka.consumer_group", "ephemera-lifecycle")
	v.SetDefault("kafka.topics.events", "ephemera.lifecycle.events")
	v.SetDefault("kafka.topics.triggers", "ephemera.lifecycle.triggers")
	v.SetDefault("kafka.topics.dlq", "ephemera.lifecycle.triggers.dlq")
	v.SetDefault("kafka.producer.max_retries", 3)
	v.SetDefault("kafka.producer.retry_backoff_ms", 100)
	v.SetDefault("kafka.consumer.max_retries", 2)
	v.SetDefault("kafka.consumer.retry_backoff_ms", 200)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("lifecycle.retention_days", 30)
	v.SetDefault("lifecycle.invite_ttl", 7*24*time.Hour)
	v.SetDefault("lifecycle.invite_max_attempts", 10)
	v.SetDefault("lifecycle.sweep_interval", 60*time.Second)
	v.SetDefault("lifecycle.reap_interval", 24*time.Hour)
	v.SetDefault("lifecycle.sweep_concurrency", 8)
	v.SetDefault("lifecycle.expiring_fraction", 0.10)

	v.SetDefault("sweep_ring.replicas", 50)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EPHEMERA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Lifecycle.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验生命周期参数
func (c LifecycleConfig) Validate() error {
	if c.RetentionDays <= 0 {
		return fmt.Errorf("lifecycle.retention_days must be positive, got %d", c.RetentionDays)
	}
	if c.InviteTTL <= 0 {
		return fmt.Errorf("lifecycle.invite_ttl must be positive, got %s", c.InviteTTL)
	}
	if c.InviteMaxAttempts <= 0 {
		return fmt.Errorf("lifecycle.invite_max_attempts must be positive, got %d", c.InviteMaxAttempts)
	}
	if c.SweepConcurrency <= 0 {
		return fmt.Errorf("lifecycle.sweep_concurrency must be positive, got %d", c.SweepConcurrency)
	}
	if c.ExpiringFraction <= 0 || c.ExpiringFraction >= 1 {
		return fmt.Errorf("lifecycle.expiring_fraction must be in (0, 1), got %v", c.ExpiringFraction)
	}
	return nil
}

// Retention 归档保留时长
func (c LifecycleConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
