package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Client holds CLI defaults. Flags override them.
type Client struct {
	ServerAddr     string        `env:"CHARFORGE_SERVER" env-default:"localhost:8443"`
	CACert         string        `env:"CHARFORGE_CA_CERT"`
	Insecure       bool          `env:"CHARFORGE_INSECURE"`
	Plaintext      bool          `env:"CHARFORGE_PLAINTEXT"`
	GeneratorURL   string        `env:"CHARFORGE_GENERATOR_URL" env-default:"http://localhost:8000"`
	PaymentURL     string        `env:"CHARFORGE_PAYMENT_URL" env-default:"http://localhost:3000"`
	PaymentAmount  int64         `env:"CHARFORGE_PAYMENT_AMOUNT" env-default:"5141"`
	ReturnURL      string        `env:"CHARFORGE_RETURN_URL" env-default:"http://localhost:5173/payment-verify"`
	AnonymousLimit int64         `env:"CHARFORGE_ANONYMOUS_LIMIT" env-default:"0"`
	Timeout        time.Duration `env:"CHARFORGE_TIMEOUT" env-default:"2m"`
	ConfigDir      string        `env:"CHARFORGE_CONFIG_DIR"`
	SupportKey     string        `env:"CHARFORGE_SUPPORT_KEY"`
}

// LoadClient reads CLI defaults from the environment.
func LoadClient() (*Client, error) {
	var cfg Client
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read client env: %w", err)
	}
	if cfg.AnonymousLimit < 0 {
		cfg.AnonymousLimit = 0
	}
	return &cfg, nil
}
