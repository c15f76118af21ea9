package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-roomchat/internal/api"
	"github.com/npezzotti/go-roomchat/internal/config"
	"github.com/npezzotti/go-roomchat/internal/messaging"
	"github.com/npezzotti/go-roomchat/internal/render"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/tokens"
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
	addr            string
	tokenURL        string
	serviceURL      string
	signingKey      string
	allowedOrigins  stringSliceFlag
	expiryWarning   time.Duration
	refreshAttempts int
	refreshDelay    time.Duration
)

func main() {
	logger := log.New(os.Stderr, "[roomchat] ", log.LstdFlags)

	env, err := config.LoadClientEnv()
	if err != nil {
		logger.Fatal("env:", err)
	}
	allowedOrigins = env.AllowedOrigins

	flag.StringVar(&addr, "addr", env.Addr, "server address")
	flag.StringVar(&tokenURL, "token-url", env.TokenURL, "base URL of the token endpoint")
	flag.StringVar(&serviceURL, "service-url", env.ServiceURL, "websocket URL of the chat service")
	flag.StringVar(&signingKey, "signing-key", env.SigningKey, "base64 encoded key signing the handoff cookie")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&expiryWarning, "expiry-warning", env.ExpiryWarning, "how long before token expiry to refresh it")
	flag.IntVar(&refreshAttempts, "refresh-attempts", env.RefreshAttempts, "token refresh attempts before a session fails")
	flag.DurationVar(&refreshDelay, "refresh-delay", env.RefreshDelay, "delay between token refresh attempts")
	flag.Parse()

	cfg, err := config.NewConfig(addr, tokenURL, serviceURL, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.ExpiryWarning = expiryWarning
	cfg.RefreshAttempts = refreshAttempts
	cfg.RefreshDelay = refreshDelay

	templates, err := render.NewTemplates()
	if err != nil {
		logger.Fatal("templates:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	srv := api.NewRoomChatApp(
		mux,
		logger,
		cfg,
		tokens.NewClient(cfg.TokenURL),
		messaging.NewDialer(cfg.ServiceURL, logger, cfg.ExpiryWarning),
		templates,
		statsUpdater,
	)

	statsUpdater.Run()
	defer statsUpdater.Stop()

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
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
