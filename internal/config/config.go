// Package config provides configuration management for the share indexer.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Chain    ChainConfig
	Indexer  IndexerConfig
	Drift    DriftConfig
	Logging  LoggingConfig
}

// ServerConfig holds read API server configuration
type ServerConfig struct {
	Host     string
	Port     string
	CacheTTL time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainConfig holds ledger RPC and contract configuration
type ChainConfig struct {
	RPCPrimary        string
	RPCSecondary      string
	ShareToken        string
	Marketplace       string
	StartBlock        uint64
	RequestsPerSecond int
	MaxConcurrent     int
}

// IndexerConfig holds live-tailing and backfill configuration
type IndexerConfig struct {
	PollInterval     time.Duration
	Confirmations    uint64
	MaxBlocksPerPoll uint64
	ReorgRewind      uint64
	RunLockTTL       time.Duration
}

// DriftConfig holds reconciliation loop configuration
type DriftConfig struct {
	Interval   time.Duration
	SampleSize int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			Port:     getEnv("SERVER_PORT", "8080"),
			CacheTTL: getEnvAsDuration("SERVER_CACHE_TTL", 15*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "share_indexer"),
				User:           getEnv("POSTGRES_USER", "indexer"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "share_indexer"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Chain: ChainConfig{
			RPCPrimary:        getEnv("CHAIN_RPC_PRIMARY", ""),
			RPCSecondary:      getEnv("CHAIN_RPC_SECONDARY", ""),
			ShareToken:        getEnv("SHARE_TOKEN_ADDRESS", ""),
			Marketplace:       getEnv("MARKETPLACE_ADDRESS", ""),
			StartBlock:        getEnvAsUint64("CHAIN_START_BLOCK", 0),
			RequestsPerSecond: getEnvAsInt("CHAIN_REQUESTS_PER_SECOND", 10),
			MaxConcurrent:     getEnvAsInt("CHAIN_MAX_CONCURRENT", 4),
		},
		Indexer: IndexerConfig{
			PollInterval:     getEnvAsDuration("INDEXER_POLL_INTERVAL", 15*time.Second),
			Confirmations:    getEnvAsUint64("INDEXER_CONFIRMATIONS", 6),
			MaxBlocksPerPoll: getEnvAsUint64("INDEXER_MAX_BLOCKS_PER_POLL", 500),
			ReorgRewind:      getEnvAsUint64("INDEXER_REORG_REWIND", 64),
			RunLockTTL:       getEnvAsDuration("INDEXER_RUN_LOCK_TTL", 5*time.Minute),
		},
		Drift: DriftConfig{
			Interval:   getEnvAsDuration("DRIFT_INTERVAL", 10*time.Minute),
			SampleSize: getEnvAsInt("DRIFT_SAMPLE_SIZE", 50),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsUint64 gets an environment variable as a uint64 with a default value
func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
