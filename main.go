package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go-voter-enrollment/logging"
	redis "go-voter-enrollment/redis"
)

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`

	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`

	VerificationGatewayUrl string `json:"verification_gateway_url"`
	CommitGatewayUrl       string `json:"commit_gateway_url"`
	GatewayTimeoutSeconds  int    `json:"gateway_timeout_seconds,omitempty"`

	MaxVerificationAttempts int `json:"max_verification_attempts,omitempty"`

	ReceiptPrivateKeyPath string `json:"receipt_private_key_path"`
	ReceiptIssuer         string `json:"receipt_issuer"`
	ReceiptTtlMinutes     int    `json:"receipt_ttl_minutes,omitempty"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`
}

const (
	defaultGatewayTimeout = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultReceiptTtl     = 60 * time.Minute
)

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		fatal("please provide a config path using the --config flag", nil)
	}

	config, err := readConfigFile(*configPath)
	if err != nil {
		fatal("failed to read config file", err)
	}

	logging.InitLogger(config.LogLevel, config.LogFormat)
	slog.Info("using config", "path", *configPath)
	slog.Info("hosting on", "host", config.ServerConfig.Host, "port", config.ServerConfig.Port)

	timeout := defaultGatewayTimeout
	if config.GatewayTimeoutSeconds > 0 {
		timeout = time.Duration(config.GatewayTimeoutSeconds) * time.Second
	}

	maxAttempts := config.MaxVerificationAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}

	receiptTtl := defaultReceiptTtl
	if config.ReceiptTtlMinutes > 0 {
		receiptTtl = time.Duration(config.ReceiptTtlMinutes) * time.Minute
	}

	receiptCreator, err := NewJwtReceiptCreator(
		config.ReceiptPrivateKeyPath,
		config.ReceiptIssuer,
		receiptTtl,
	)
	if err != nil {
		fatal("failed to instantiate receipt creator", err)
	}

	sessionStore, err := createSessionStore(&config)
	if err != nil {
		fatal("failed to instantiate session store", err)
	}

	serverState := ServerState{
		sessionStore:   sessionStore,
		registry:       NewSessionRegistry(SessionTimeout),
		verifier:       NewVerificationGatewayClient(config.VerificationGatewayUrl, timeout),
		committer:      NewCommitGatewayClient(config.CommitGatewayUrl, timeout),
		receiptCreator: receiptCreator,
		maxAttempts:    maxAttempts,
	}

	server, err := NewServer(&serverState, config.ServerConfig)
	if err != nil {
		fatal("failed to create server", err)
	}

	err = server.ListenAndServe()
	if err != nil {
		fatal("failed to listen and serve", err)
	}
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	return config, nil
}

func createSessionStore(config *Config) (SessionStore, error) {
	if config.StorageType == "redis" {
		slog.Info("Using redis session storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisSessionStore(client, config.RedisConfig.Namespace), nil
	}
	if config.StorageType == "redis_sentinel" {
		slog.Info("Using redis sentinel session storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisSessionStore(client, config.RedisSentinelConfig.Namespace), nil
	}
	if config.StorageType == "memory" {
		slog.Info("Using in memory session storage")
		return NewInMemorySessionStore(), nil
	}
	return nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
