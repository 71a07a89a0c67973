package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	UnreadStorePostgres = "postgres"
	UnreadStoreRedis    = "redis"
)

type Config struct {
	DatabaseDSN       string
	ServerAddr        string
	SigningKey        []byte
	AllowedOrigins    []string
	MigrationsURL     string
	UnreadStore       string
	RedisAddr         string
	PersistTimeout    time.Duration
	MessagesPerSecond float64
}

// Options holds the raw, unvalidated values collected from the command line.
type Options struct {
	ServerAddr        string
	DatabaseDSN       string
	SigningKey        string
	AllowedOrigins    []string
	MigrationsURL     string
	UnreadStore       string
	RedisAddr         string
	PersistTimeout    time.Duration
	MessagesPerSecond float64
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(opts Options) (*Config, error) {
	if opts.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if opts.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if opts.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(opts.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	store := opts.UnreadStore
	if store == "" {
		store = UnreadStorePostgres
	}
	switch store {
	case UnreadStorePostgres:
	case UnreadStoreRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis address is required for the redis unread store")
		}
	default:
		return nil, fmt.Errorf("unknown unread store %q", store)
	}

	if opts.PersistTimeout <= 0 {
		return nil, fmt.Errorf("persist timeout must be positive")
	}
	if opts.MessagesPerSecond <= 0 {
		return nil, fmt.Errorf("messages per second must be positive")
	}

	return &Config{
		DatabaseDSN:       opts.DatabaseDSN,
		ServerAddr:        opts.ServerAddr,
		SigningKey:        signingKey,
		AllowedOrigins:    opts.AllowedOrigins,
		MigrationsURL:     opts.MigrationsURL,
		UnreadStore:       store,
		RedisAddr:         opts.RedisAddr,
		PersistTimeout:    opts.PersistTimeout,
		MessagesPerSecond: opts.MessagesPerSecond,
	}, nil
}
