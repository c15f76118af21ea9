package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-roomchat/internal/auth"
	"github.com/npezzotti/go-roomchat/internal/config"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/server"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	tokenTTL       time.Duration
	natsURL        string
	allowedOrigins stringSliceFlag
)

func main() {
	logger := log.New(os.Stderr, "[chatservice] ", log.LstdFlags)

	env, err := config.LoadServiceEnv()
	if err != nil {
		logger.Fatal("env:", err)
	}
	allowedOrigins = env.AllowedOrigins

	flag.StringVar(&addr, "addr", env.Addr, "server address")
	flag.StringVar(&dsn, "dsn", env.DatabaseDSN, "postgres connection string, in-memory storage when empty")
	flag.StringVar(&signingKey, "signing-key", env.SigningKey, "base64 encoded access token signing key")
	flag.DurationVar(&tokenTTL, "token-ttl", env.TokenTTL, "lifetime of issued access tokens")
	flag.StringVar(&natsURL, "nats-url", env.NatsURL, "NATS server for fan-out between instances, disabled when empty")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	cfg, err := config.NewServiceConfig(addr, dsn, signingKey, tokenTTL, natsURL, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var db database.Repository
	if cfg.DatabaseDSN != "" {
		db, err = database.NewPgRepository(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("db open:", err)
		}
	} else {
		logger.Println("no DSN configured, using in-memory storage")
		db = database.NewMemoryRepository()
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	broker := server.NewNopBroker()
	if cfg.NatsURL != "" {
		broker, err = server.NewNatsBroker(cfg.NatsURL, logger)
		if err != nil {
			logger.Fatal("nats:", err)
		}
	}

	chatServer, err := server.NewChatServer(logger, db, auth.NewTokenIssuer(cfg.SigningKey, cfg.TokenTTL), broker, server.NewMetrics())
	if err != nil {
		logger.Fatal("new chat server:", err)
	}
	go chatServer.Run()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: server.NewService(logger, chatServer, cfg.AllowedOrigins).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("starting server on %s\n", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Println("server:", err)
		}
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
