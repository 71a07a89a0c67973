package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-watchparty/internal/api"
	"github.com/npezzotti/go-watchparty/internal/config"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/server"
	"github.com/npezzotti/go-watchparty/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr              string
	dsn               string
	signingKey        string
	allowedOrigins    stringSliceFlag
	migrationsURL     string
	unreadStore       string
	redisAddr         string
	persistTimeout    time.Duration
	messagesPerSecond float64
)

type unreadBackend interface {
	database.UnreadStore
	io.Closer
}

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&migrationsURL, "migrations", "file://migrations", "migration source URL, empty to skip migrations")
	flag.StringVar(&unreadStore, "unread-store", config.UnreadStorePostgres, "unread counter backend: postgres or redis")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address for the redis unread store")
	flag.DurationVar(&persistTimeout, "persist-timeout", 5*time.Second, "timeout for each persistence call")
	flag.Float64Var(&messagesPerSecond, "messages-per-second", 20, "inbound events allowed per connection per second")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-watchparty] ", log.LstdFlags)

	cfg, err := config.NewConfig(config.Options{
		ServerAddr:        addr,
		DatabaseDSN:       dsn,
		SigningKey:        signingKey,
		AllowedOrigins:    allowedOrigins,
		MigrationsURL:     migrationsURL,
		UnreadStore:       unreadStore,
		RedisAddr:         redisAddr,
		PersistTimeout:    persistTimeout,
		MessagesPerSecond: messagesPerSecond,
	})
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if cfg.MigrationsURL != "" {
		if err := dbConn.Migrate(cfg.MigrationsURL); err != nil {
			logger.Fatal("db migrate:", err)
		}
		logger.Println("database schema is up to date")
	}

	unread, err := newUnreadStore(cfg, dbConn)
	if err != nil {
		logger.Fatal("unread store:", err)
	}
	defer func() {
		if err := unread.Close(); err != nil {
			logger.Println("unread store close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	chatServer, err := server.NewChatServer(logger, dbConn, unread, statsUpdater, server.Options{
		PersistTimeout:    cfg.PersistTimeout,
		MessagesPerSecond: cfg.MessagesPerSecond,
	})
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	auth := api.NewJwtAuthenticator(cfg.SigningKey, dbConn)
	srv := api.NewApp(mux, logger, chatServer, dbConn, auth, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}

// newUnreadStore picks the unread counter backend. The Postgres store shares
// the repository's connection pool, so closing it is a no-op.
func newUnreadStore(cfg *config.Config, db *database.PgRepository) (unreadBackend, error) {
	if cfg.UnreadStore == config.UnreadStoreRedis {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.PersistTimeout)
		defer cancel()
		return database.NewRedisUnreadStore(ctx, cfg.RedisAddr)
	}

	return nopCloser{db}, nil
}

type nopCloser struct {
	database.UnreadStore
}

func (nopCloser) Close() error { return nil }
