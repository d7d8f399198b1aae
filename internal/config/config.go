package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port          int
	JWTSecret     string
	DatabaseURL   string
	RedisURL      string
	CORSOrigins   []string
	AdminEmail    string
	AdminPassword string

	BaseURL     string
	FrontendURL string

	PaymentGateway  string
	ZibalMerchant   string
	ZibalBaseURL    string
	GatewayTimeout  time.Duration
	PriceMultiplier int64
	// SweepInterval is how often pending payments are re-verified. Zero disables the sweeper.
	SweepInterval time.Duration

	PricingFile string
	LogLevel    string
	LogFormat   string
}

// CallbackURL is where the gateway sends the user after payment.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/payment/callback"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 4001)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3080,http://localhost:3090")
	v.SetDefault("ADMIN_EMAIL", "admin@qstarmachine.com")
	v.SetDefault("ADMIN_PASSWORD", "admin123")
	v.SetDefault("BASE_URL", "http://localhost:4001")
	v.SetDefault("FRONTEND_URL", "http://localhost:3080")
	v.SetDefault("PAYMENT_GATEWAY", "zibal")
	v.SetDefault("ZIBAL_BASE_URL", "https://gateway.zibal.ir")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("PRICE_MULTIPLIER", 10)
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load reads configuration from environment variables with sensible defaults.
// When CONFIG_FILE is set, that file is read first and the environment overrides it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	jwtSecret := v.GetString("JWT_SECRET")
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbURL := v.GetString("DATABASE_URL")
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	gateway := strings.ToLower(v.GetString("PAYMENT_GATEWAY"))
	switch gateway {
	case "zibal":
		if v.GetString("ZIBAL_MERCHANT") == "" {
			return nil, errors.New("ZIBAL_MERCHANT is required when PAYMENT_GATEWAY=zibal")
		}
	case "mock":
	default:
		return nil, fmt.Errorf("PAYMENT_GATEWAY must be zibal or mock, got %q", gateway)
	}

	timeout := v.GetDuration("GATEWAY_TIMEOUT")
	if timeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %q", v.GetString("GATEWAY_TIMEOUT"))
	}

	multiplier := v.GetInt64("PRICE_MULTIPLIER")
	if multiplier <= 0 {
		return nil, fmt.Errorf("PRICE_MULTIPLIER must be positive, got %d", multiplier)
	}

	sweep := v.GetDuration("SWEEP_INTERVAL")
	if sweep < 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must not be negative, got %q", v.GetString("SWEEP_INTERVAL"))
	}

	origins := strings.Split(v.GetString("CORS_ORIGINS"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return &Config{
		Port:            v.GetInt("PORT"),
		JWTSecret:       jwtSecret,
		DatabaseURL:     dbURL,
		RedisURL:        v.GetString("REDIS_URL"),
		CORSOrigins:     origins,
		AdminEmail:      v.GetString("ADMIN_EMAIL"),
		AdminPassword:   v.GetString("ADMIN_PASSWORD"),
		BaseURL:         v.GetString("BASE_URL"),
		FrontendURL:     v.GetString("FRONTEND_URL"),
		PaymentGateway:  gateway,
		ZibalMerchant:   v.GetString("ZIBAL_MERCHANT"),
		ZibalBaseURL:    v.GetString("ZIBAL_BASE_URL"),
		GatewayTimeout:  timeout,
		PriceMultiplier: multiplier,
		SweepInterval:   sweep,
		PricingFile:     v.GetString("PRICING_FILE"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
	}, nil
}
