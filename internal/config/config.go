package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"
)

// Config is the configuration of the roomchat web client.
type Config struct {
	ServerAddr      string
	TokenURL        string
	ServiceURL      string
	SigningKey      []byte
	AllowedOrigins  []string
	ExpiryWarning   time.Duration
	RefreshAttempts int
	RefreshDelay    time.Duration
}

// ServiceConfig is the configuration of the chat service.
type ServiceConfig struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	TokenTTL       time.Duration
	NatsURL        string
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret decodes to an empty key")
	}
	return key, nil
}

func validateURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s %q must be an absolute %v URL", name, raw, schemes)
}

func NewConfig(serverAddr, tokenURL, serviceURL, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if tokenURL == "" {
		return nil, fmt.Errorf("token URL cannot be empty")
	}
	if err := validateURL("token URL", tokenURL, "http", "https"); err != nil {
		return nil, err
	}
	if serviceURL == "" {
		return nil, fmt.Errorf("service URL cannot be empty")
	}
	if err := validateURL("service URL", serviceURL, "ws", "wss"); err != nil {
		return nil, err
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		TokenURL:       tokenURL,
		ServiceURL:     serviceURL,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}, nil
}

// NewServiceConfig validates the chat service settings. An empty database
// DSN selects in-memory storage and an empty NATS URL disables fan-out.
func NewServiceConfig(serverAddr, databaseDSN, base64Secret string, tokenTTL time.Duration, natsURL string, allowedOrigins []string) (*ServiceConfig, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if tokenTTL < time.Minute {
		return nil, fmt.Errorf("token TTL must be at least one minute, got %s", tokenTTL)
	}
	if natsURL != "" {
		if err := validateURL("NATS URL", natsURL, "nats", "tls"); err != nil {
			return nil, err
		}
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &ServiceConfig{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		TokenTTL:       tokenTTL,
		NatsURL:        natsURL,
		AllowedOrigins: allowedOrigins,
	}, nil
}
