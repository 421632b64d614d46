// Package config handles application configuration from environment variables
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
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database (optional audit trail; in-memory store used if not set)
	DatabaseURL string

	// Blockchain settings
	RPCURL  string
	ChainID int64

	// Block explorer (Etherscan-compatible)
	ExplorerURL    string
	ExplorerAPIKey string

	// Repository search (GitHub-compatible)
	RepoSearchURL   string
	RepoSearchToken string

	// On-chain report registry
	RegistryContract string
	PrivateKey       string // Hex-encoded submitter key, required for ledger writes

	// DEX factory used for trading-pair detection
	DEXFactory string
	WETH       string

	// Agent settings
	GuardianThreshold int           // 0-100
	SentinelThreshold int           // 0-100
	SentinelInterval  time.Duration // monitoring cycle interval
	MaxAlerts         int           // alert cache capacity

	// Tracing
	OTLPEndpoint string
}

// Base Sepolia defaults
const (
	DefaultRPCURL      = "https://sepolia.base.org"
	DefaultChainID     = 84532 // Base Sepolia
	DefaultExplorerURL = "https://api-sepolia.basescan.org/api"
	DefaultRepoSearch  = "https://api.github.com"
	DefaultDEXFactory  = "0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6" // Uniswap V2 factory on Base
	DefaultWETH        = "0x4200000000000000000000000000000000000006"
	DefaultPort        = "8080"
	DefaultEnv         = "development"
	DefaultLogLevel    = "info"

	DefaultGuardianThreshold = 70
	DefaultSentinelThreshold = 60
	DefaultSentinelInterval  = 60 * time.Second
	DefaultMaxAlerts         = 500
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RPCURL:            getEnv("RPC_URL", DefaultRPCURL),
		ChainID:           getEnvInt64("CHAIN_ID", DefaultChainID),
		ExplorerURL:       getEnv("EXPLORER_URL", DefaultExplorerURL),
		ExplorerAPIKey:    os.Getenv("EXPLORER_API_KEY"),
		RepoSearchURL:     getEnv("REPO_SEARCH_URL", DefaultRepoSearch),
		RepoSearchToken:   os.Getenv("REPO_SEARCH_TOKEN"),
		RegistryContract:  os.Getenv("REGISTRY_CONTRACT"),
		PrivateKey:        os.Getenv("PRIVATE_KEY"),
		DEXFactory:        getEnv("DEX_FACTORY", DefaultDEXFactory),
		WETH:              getEnv("WETH_CONTRACT", DefaultWETH),
		GuardianThreshold: int(getEnvInt64("GUARDIAN_THRESHOLD", DefaultGuardianThreshold)),
		SentinelThreshold: int(getEnvInt64("SENTINEL_THRESHOLD", DefaultSentinelThreshold)),
		SentinelInterval:  getEnvDuration("SENTINEL_INTERVAL", DefaultSentinelInterval),
		MaxAlerts:         int(getEnvInt64("MAX_ALERTS", DefaultMaxAlerts)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.PrivateKey != "" {
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	if c.GuardianThreshold < 0 || c.GuardianThreshold > 100 {
		return fmt.Errorf("GUARDIAN_THRESHOLD must be in [0,100]")
	}
	if c.SentinelThreshold < 0 || c.SentinelThreshold > 100 {
		return fmt.Errorf("SENTINEL_THRESHOLD must be in [0,100]")
	}
	if c.SentinelInterval < time.Second {
		return fmt.Errorf("SENTINEL_INTERVAL must be at least 1s")
	}
	if c.MaxAlerts <= 0 {
		return fmt.Errorf("MAX_ALERTS must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
