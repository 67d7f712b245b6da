// Package coordinator wires the coordination managers into a standalone
// daemon: an HTTP API for responders and firers, a callback listener for
// push wake-ups, and background sweeps for zombies and overdue deadlines.
package coordinator

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/nerio-ai/cascade"
	"github.com/nerio-ai/cascade/store"
)

// Config is the daemon configuration, loaded from YAML
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Listener ListenerConfig `yaml:"listener"`
	Sweep    SweepConfig    `yaml:"sweep"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig selects and configures the coordination store backend
type StoreConfig struct {
	// Backend is one of "memory", "dynamodb", "redis"
	Backend  string         `yaml:"backend"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Redis    RedisConfig    `yaml:"redis"`
}

// DynamoDBConfig configures the DynamoDB backend
type DynamoDBConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
}

// RedisConfig configures the Redis backend
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// ListenerConfig configures the push callback listener
type ListenerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	AdvertisedHost string `yaml:"advertisedHost"`
	Bind           string `yaml:"bind"`
}

// SweepConfig configures the background maintenance loops
type SweepConfig struct {
	GraceSeconds    int `yaml:"graceSeconds"`
	IntervalSeconds int `yaml:"intervalSeconds"`
}

// DefaultConfig returns a config suitable for local development
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Addr: ":3000"},
		Store:  StoreConfig{Backend: "memory"},
		Listener: ListenerConfig{
			Enabled:        true,
			AdvertisedHost: "127.0.0.1",
			Bind:           ":0",
		},
		Sweep: SweepConfig{
			GraceSeconds:    30,
			IntervalSeconds: 30,
		},
	}
}

// LoadConfig reads a YAML config file, filling unset fields with defaults
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3000"
	}
	if cfg.Sweep.GraceSeconds <= 0 {
		cfg.Sweep.GraceSeconds = 30
	}
	if cfg.Sweep.IntervalSeconds <= 0 {
		cfg.Sweep.IntervalSeconds = 30
	}
	return cfg, nil
}

// BuildStore constructs the configured coordination store backend
func BuildStore(ctx context.Context, cfg StoreConfig) (cascade.CoordinationStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryStore(), nil

	case "dynamodb":
		if cfg.DynamoDB.Table == "" {
			return nil, fmt.Errorf("dynamodb backend requires store.dynamodb.table")
		}
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.DynamoDB.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.DynamoDB.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		return store.NewDynamoDBStore(client, cfg.DynamoDB.Table), nil

	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis backend requires store.redis.addr")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return store.NewRedisStore(client, cfg.Redis.KeyPrefix), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
