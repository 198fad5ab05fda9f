package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (THREADLINE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (THREADLINE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Gateway      GatewayConfig
	Sweep        SweepConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// GatewayConfig holds the payment provider credentials and signature secret.
type GatewayConfig struct {
	BaseURL         string        `usage:"Payment gateway base URL" flag:"gateway-base-url"`
	KeyID           string        `usage:"Payment gateway API key id" flag:"gateway-key-id"`
	KeySecret       string        `usage:"Payment gateway API key secret" flag:"gateway-key-secret"`
	SignatureSecret string        `usage:"HMAC secret for payment signature verification" flag:"gateway-signature-secret"`
	Timeout         time.Duration `default:"10s" usage:"Payment gateway request timeout"`
	Currency        string        `default:"INR" usage:"Payment currency code"`
}

// SweepConfig controls the locked-credit maturation job.
type SweepConfig struct {
	HoldingPeriod time.Duration `default:"480h" usage:"Time a wallet credit stays locked before maturing" flag:"holding-period"`
	Interval      time.Duration `default:"24h" usage:"Interval between maturation passes" flag:"sweep-interval"`
	Parallelism   int           `default:"4" usage:"Concurrent account promotions per pass" flag:"sweep-parallelism"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "THREADLINE",
		Files:     []string{"config.yaml", "/etc/threadline/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set THREADLINE_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Gateway.SignatureSecret == "" {
		return nil, errors.New("gateway signature secret is required: set THREADLINE_GATEWAY_SIGNATURE_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the THREADLINE_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
