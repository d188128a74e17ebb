// Package config loads server and client settings with cleanenv. Values come
// from an optional YAML file and the environment; the environment wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Server holds the backend settings.
type Server struct {
	Env       string        `yaml:"env" env:"CHARFORGE_ENV" env-default:"prod"`
	GRPCAddr  string        `yaml:"grpc_addr" env:"CHARFORGE_GRPC_ADDR" env-default:":8443"`
	HTTPAddr  string        `yaml:"http_addr" env:"CHARFORGE_HTTP_ADDR" env-default:":8080"`
	DSN       string        `yaml:"dsn" env:"CHARFORGE_DSN" env-required:"true"`
	JWTKey    string        `yaml:"jwt_key" env:"CHARFORGE_JWT_KEY" env-required:"true"`
	AccessTTL time.Duration `yaml:"access_ttl" env:"CHARFORGE_ACCESS_TTL" env-default:"15m"`
	TLSCert   string        `yaml:"tls_cert" env:"CHARFORGE_TLS_CERT"`
	TLSKey    string        `yaml:"tls_key" env:"CHARFORGE_TLS_KEY"`

	SubscriptionDays int    `yaml:"subscription_days" env:"CHARFORGE_SUBSCRIPTION_DAYS" env-default:"30"`
	SupportKey       string `yaml:"support_key" env:"CHARFORGE_SUPPORT_KEY"`
	Reflection       bool   `yaml:"reflection" env:"CHARFORGE_REFLECTION"`

	Redis   Redis   `yaml:"redis"`
	Limiter Limiter `yaml:"limiter"`
	Verify  Verify  `yaml:"verify"`
}

// Redis configures the cache and the login limiter store.
type Redis struct {
	Addr        string        `yaml:"addr" env:"CHARFORGE_REDIS_ADDR" env-default:"localhost:6379"`
	Username    string        `yaml:"username" env:"CHARFORGE_REDIS_USER"`
	Password    string        `yaml:"password" env:"CHARFORGE_REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"CHARFORGE_REDIS_DB" env-default:"0"`
	MaxRetries  int           `yaml:"max_retries" env:"CHARFORGE_REDIS_MAX_RETRIES" env-default:"3"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"CHARFORGE_REDIS_DIAL_TIMEOUT" env-default:"5s"`
	Timeout     time.Duration `yaml:"timeout" env:"CHARFORGE_REDIS_TIMEOUT" env-default:"2s"`
	UsageTTL    time.Duration `yaml:"usage_ttl" env:"CHARFORGE_REDIS_USAGE_TTL" env-default:"1m"`
	OutcomeTTL  time.Duration `yaml:"outcome_ttl" env:"CHARFORGE_REDIS_OUTCOME_TTL" env-default:"24h"`
}

// Limiter configures login throttling.
type Limiter struct {
	Window   time.Duration `yaml:"window" env:"CHARFORGE_LOGIN_WINDOW" env-default:"15m"`
	MaxFails int           `yaml:"max_fails" env:"CHARFORGE_LOGIN_MAX_FAILS" env-default:"5"`
	BlockFor time.Duration `yaml:"block_for" env:"CHARFORGE_LOGIN_BLOCK_FOR" env-default:"15m"`
}

// Verify bounds the HTTP verification function.
type Verify struct {
	RatePerSecond float64 `yaml:"rate_per_second" env:"CHARFORGE_VERIFY_RPS" env-default:"5"`
	Burst         int     `yaml:"burst" env:"CHARFORGE_VERIFY_BURST" env-default:"10"`
}

// Dev reports whether development features (reflection) may be enabled.
func (s *Server) Dev() bool { return s.Env == "dev" || s.Reflection }

// TLSEnabled reports whether both certificate and key are set.
func (s *Server) TLSEnabled() bool { return s.TLSCert != "" && s.TLSKey != "" }

// LoadServer reads .env (if present), then the YAML file at path (if not
// empty), then the environment.
func LoadServer(path string) (*Server, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Server
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Server) validate() error {
	if s.SubscriptionDays <= 0 {
		return fmt.Errorf("subscription_days must be positive, got %d", s.SubscriptionDays)
	}
	if (s.TLSCert == "") != (s.TLSKey == "") {
		return errors.New("tls_cert and tls_key must be set together")
	}
	if s.Limiter.MaxFails <= 0 {
		return errors.New("limiter.max_fails must be positive")
	}
	return nil
}
