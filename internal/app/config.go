package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `default:"redis://localhost:6379/0" usage:"Redis connection URL for cart storage" flag:"redis-url"`
	Currency    string `default:"USD" usage:"Currency code for gateway charges"`
	Gateway     GatewayConfig
	Alerts      AlertsConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// GatewayConfig holds the payment provider credentials and endpoints.
type GatewayConfig struct {
	BaseURL     string        `default:"https://api.paystack.co" usage:"Payment gateway API base URL" flag:"gateway-base-url"`
	SecretKey   string        `usage:"Payment gateway secret key (STORE_GATEWAY_SECRET_KEY)" flag:"gateway-secret-key"`
	CallbackURL string        `usage:"URL the gateway redirects the browser to after checkout" flag:"gateway-callback-url"`
	Timeout     time.Duration `default:"15s" usage:"Gateway request timeout"`
}

// AlertsConfig holds SMTP settings for operational alert emails. Alerting
// stays off unless host, from and to are all set.
type AlertsConfig struct {
	SMTPHost     string `usage:"SMTP host for alert emails" flag:"smtp-host"`
	SMTPPort     int    `default:"587" usage:"SMTP port" flag:"smtp-port"`
	SMTPUsername string `usage:"SMTP username" flag:"smtp-username"`
	SMTPPassword string `usage:"SMTP password (STORE_ALERTS_SMTP_PASSWORD)" flag:"smtp-password"`
	From         string `usage:"Alert sender address" flag:"alerts-from"`
	To           string `usage:"Alert recipient address" flag:"alerts-to"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
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
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Gateway.SecretKey == "" {
		return nil, errors.New("gateway secret key is required: set STORE_GATEWAY_SECRET_KEY")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT to the application's STORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" && c.RedisURL == "redis://localhost:6379/0" {
		c.RedisURL = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
