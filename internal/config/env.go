package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ClientEnv holds the environment defaults for the roomchat flags.
type ClientEnv struct {
	Addr            string        `envconfig:"ADDR" default:"localhost:8000"`
	TokenURL        string        `envconfig:"TOKEN_URL" default:"http://localhost:5000"`
	ServiceURL      string        `envconfig:"SERVICE_URL" default:"ws://localhost:5000/v1/ws"`
	SigningKey      string        `envconfig:"SIGNING_KEY" default:"wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS"`
	ExpiryWarning   time.Duration `envconfig:"EXPIRY_WARNING" default:"3m"`
	RefreshAttempts int           `envconfig:"REFRESH_ATTEMPTS" default:"3"`
	RefreshDelay    time.Duration `envconfig:"REFRESH_DELAY" default:"2s"`
}

// ServiceEnv holds the environment defaults for the chatservice flags.
type ServiceEnv struct {
	Addr           string        `envconfig:"ADDR" default:"localhost:5000"`
	DatabaseDSN    string        `envconfig:"DSN"`
	SigningKey     string        `envconfig:"SIGNING_KEY" default:"wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="`
	TokenTTL       time.Duration `envconfig:"TOKEN_TTL" default:"1h"`
	NatsURL        string        `envconfig:"NATS_URL"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS"`
}

// loadDotenv reads the given files (or ./.env) into the process
// environment. A missing file is not an error.
func loadDotenv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// LoadClientEnv reads ROOMCHAT_* variables, after loading any .env files.
func LoadClientEnv(files ...string) (*ClientEnv, error) {
	if err := loadDotenv(files...); err != nil {
		return nil, err
	}

	var env ClientEnv
	if err := envconfig.Process("roomchat", &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// LoadServiceEnv reads CHATSERVICE_* variables, after loading any .env files.
func LoadServiceEnv(files ...string) (*ServiceEnv, error) {
	if err := loadDotenv(files...); err != nil {
		return nil, err
	}

	var env ServiceEnv
	if err := envconfig.Process("chatservice", &env); err != nil {
		return nil, err
	}
	return &env, nil
}
