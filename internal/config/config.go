// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"chat-relay/internal/auth"
)

// Config holds all configuration for the relay.
type Config struct {
	ServiceName      string        `env:"SERVICE_NAME,default=chat-relay" validate:"required"`
	Port             string        `env:"PORT,default=8000" validate:"required,numeric"`
	Env              string        `env:"ENV,default=development" validate:"oneof=development staging production test"`
	LogLevel         string        `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn error"`
	DataDir          string        `env:"DATA_DIR,default=data" validate:"required"`
	StoreBackend     string        `env:"STORE_BACKEND,default=file" validate:"oneof=file badger"`
	HistoryWindow    time.Duration `env:"HISTORY_WINDOW,default=15m" validate:"gt=0"`
	RetentionHorizon time.Duration `env:"RETENTION_HORIZON,default=24h" validate:"gt=0"`
	SendBuffer       int           `env:"SEND_BUFFER,default=256" validate:"min=1"`
	MaxMessageBytes  int64         `env:"MAX_MESSAGE_BYTES,default=8388608" validate:"min=1024"`
	ValidateImages   bool          `env:"VALIDATE_IMAGES,default=false"`
	AuthTokens       string        `env:"AUTH_TOKENS" validate:"required_without=JWTSecret"`
	JWTSecret        string        `env:"JWT_SECRET"`
	JWTIssuer        string        `env:"JWT_ISSUER"`
	AMQPURL          string        `env:"AMQP_URL"`
	AMQPExchange     string        `env:"AMQP_EXCHANGE,default=chat.events" validate:"required"`
	OTLPEndpoint     string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	GRPCPort         string        `env:"GRPC_PORT" validate:"omitempty,numeric"`
	AllowedOrigins   string        `env:"ALLOWED_ORIGINS,default=*"`
}

var validate = validator.New()

// ErrNoIdentityProvider is returned when neither static tokens nor a JWT secret is configured.
var ErrNoIdentityProvider = errors.New("no identity provider configured")

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnviron(os.Environ())
}

// FromEnviron builds a Config from KEY=VALUE pairs.
func FromEnviron(environ []string) (*Config, error) {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Origins splits ALLOWED_ORIGINS.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// IdentityProvider builds the verifier chain: static tokens first, then JWT.
func (c *Config) IdentityProvider() (auth.Chain, error) {
	var chain auth.Chain
	if c.AuthTokens != "" {
		static, err := auth.ParseStaticTokens(c.AuthTokens)
		if err != nil {
			return nil, fmt.Errorf("AUTH_TOKENS: %w", err)
		}
		if static.Len() > 0 {
			chain = append(chain, static)
		}
	}
	if c.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier(c.JWTSecret, c.JWTIssuer)
		if err != nil {
			return nil, fmt.Errorf("JWT_SECRET: %w", err)
		}
		chain = append(chain, verifier)
	}
	if len(chain) == 0 {
		return nil, ErrNoIdentityProvider
	}
	return chain, nil
}
