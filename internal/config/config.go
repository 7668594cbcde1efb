// Package config содержит логику чтения конфигурации сервиса приёма платежей.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"github.com/Policy-Guru-za/chipin/internal/model"
)

const defaultRunAddress = "localhost:8080"

// Бэкенды хранилища счётчиков и токенов.
const (
	KVBackendMemory   = "memory"
	KVBackendBolt     = "bolt"
	KVBackendDynamoDB = "dynamodb"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	// Environment "production" включает строгую проверку мерчанта PayFast.
	Environment string `env:"APP_ENV" envDefault:"development"`
	TrustProxy  bool   `env:"TRUST_PROXY"`

	Providers []string `env:"PROVIDERS" envDefault:"payfast,ozow,snapscan" envSeparator:","`

	Webhook   WebhookConfig   `envPrefix:"WEBHOOK_"`
	Reconcile ReconcileConfig `envPrefix:"RECONCILE_"`
	HTTP      ProviderHTTP    `envPrefix:"PROVIDER_HTTP_"`
	KV        KVConfig        `envPrefix:"KV_"`
	PayFast   PayFastConfig   `envPrefix:"PAYFAST_"`
	Ozow      OzowConfig      `envPrefix:"OZOW_"`
	SnapScan  SnapScanConfig  `envPrefix:"SNAPSCAN_"`
	Alerts    AlertsConfig    `envPrefix:"ALERT_"`
}

// WebhookConfig - проверки входящих уведомлений.
type WebhookConfig struct {
	MaxAge           time.Duration `env:"MAX_AGE" envDefault:"24h"`
	ClockSkew        time.Duration `env:"CLOCK_SKEW" envDefault:"5m"`
	HourLimit        int64         `env:"RATE_LIMIT_HOUR" envDefault:"120"`
	MinuteBurstLimit int64         `env:"RATE_LIMIT_MINUTE" envDefault:"20"`
	MaxBodyBytes     int64         `env:"MAX_BODY_BYTES" envDefault:"65536"`
}

// ReconcileConfig - окна и расписание сверки.
type ReconcileConfig struct {
	Secret           string        `env:"SECRET"`
	MinAge           time.Duration `env:"MIN_AGE" envDefault:"5m"`
	Lookback         time.Duration `env:"LOOKBACK" envDefault:"2h"`
	LongTailLookback time.Duration `env:"LONG_TAIL_LOOKBACK" envDefault:"72h"`
	Interval         time.Duration `env:"INTERVAL" envDefault:"0s"`
	Timeout          time.Duration `env:"TIMEOUT" envDefault:"10m"`
	MaxPages         int           `env:"MAX_PAGES" envDefault:"50"`
}

// ProviderHTTP - параметры исходящих запросов к API провайдеров.
type ProviderHTTP struct {
	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
	Retries int           `env:"RETRIES" envDefault:"2"`
}

// KVConfig выбирает хранилище счётчиков ограничения частоты и токенов.
type KVConfig struct {
	Backend     string `env:"BACKEND" envDefault:"memory"`
	BoltPath    string `env:"BOLT_PATH" envDefault:"chipin-kv.db"`
	DynamoTable string `env:"DYNAMODB_TABLE"`
}

// PayFastConfig - учётные данные PayFast.
type PayFastConfig struct {
	MerchantID     string   `env:"MERCHANT_ID"`
	Passphrase     string   `env:"PASSPHRASE"`
	AllowedSources []string `env:"ALLOWED_SOURCES" envSeparator:","`
}

// OzowConfig - учётные данные Ozow.
type OzowConfig struct {
	WebhookSecret    string        `env:"WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`
	APIBaseURL       string        `env:"API_BASE_URL"`
	TokenURL         string        `env:"TOKEN_URL"`
	ClientID         string        `env:"CLIENT_ID"`
	ClientSecret     string        `env:"CLIENT_SECRET"`
	Scopes           []string      `env:"SCOPES" envSeparator:","`
	PageSize         int           `env:"PAGE_SIZE" envDefault:"100"`
}

// ListingEnabled сообщает, хватает ли настроек для выгрузки транзакций.
func (c OzowConfig) ListingEnabled() bool {
	return c.APIBaseURL != "" && c.TokenURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// SnapScanConfig - учётные данные SnapScan.
type SnapScanConfig struct {
	WebhookAuthKey string `env:"WEBHOOK_AUTH_KEY"`
	APIBaseURL     string `env:"API_BASE_URL"`
	APIKey         string `env:"API_KEY"`
	PageSize       int    `env:"PAGE_SIZE" envDefault:"100"`
}

// ListingEnabled сообщает, хватает ли настроек для выгрузки транзакций.
func (c SnapScanConfig) ListingEnabled() bool {
	return c.APIBaseURL != "" && c.APIKey != ""
}

// AlertsConfig - каналы оповещений о расхождениях.
type AlertsConfig struct {
	Enabled        bool   `env:"ENABLED"`
	TelegramToken  string `env:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`
	S3Bucket       string `env:"S3_BUCKET"`
	S3Prefix       string `env:"S3_PREFIX" envDefault:"chipin/alerts"`
	Attempts       int    `env:"ATTEMPTS" envDefault:"3"`
}

// Parse считывает конфигурацию из переменных окружения и флагов командной строки.
// Значения из окружения имеют приоритет над флагами.
func Parse(fs *pflag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	fs.StringVarP(&cfg.RunAddress, "address", "a", defaultRunAddress, "address and port for HTTP server")
	fs.StringVarP(&cfg.DatabaseURI, "database", "d", "", "database URI")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	return cfg, nil
}

// IsProduction сообщает, запущен ли сервис в продакшене.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// EnabledProviders возвращает провайдеров из PROVIDERS.
func (c *Config) EnabledProviders() ([]model.Provider, error) {
	var out []model.Provider
	seen := make(map[model.Provider]bool)
	for _, raw := range c.Providers {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		p, err := model.ParseProvider(raw)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// AllowedPayFastSources разбирает список разрешённых сетей PayFast.
// Одиночный адрес трактуется как сеть из одного адреса.
func (c *Config) AllowedPayFastSources() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.PayFast.AllowedSources {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("payfast allowed source %q: %w", raw, err)
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("payfast allowed source %q: %w", raw, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// Validate проверяет согласованность настроек для запуска сервера.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURI == "" {
		errs = append(errs, errors.New("database URI is required"))
	}

	providers, err := c.EnabledProviders()
	if err != nil {
		errs = append(errs, err)
	}
	for _, p := range providers {
		switch p {
		case model.ProviderPayFast:
			if c.PayFast.MerchantID == "" {
				errs = append(errs, errors.New("PAYFAST_MERCHANT_ID is required"))
			}
			if _, err := c.AllowedPayFastSources(); err != nil {
				errs = append(errs, err)
			}
		case model.ProviderOzow:
			if c.Ozow.WebhookSecret == "" {
				errs = append(errs, errors.New("OZOW_WEBHOOK_SECRET is required"))
			}
		case model.ProviderSnapScan:
			if c.SnapScan.WebhookAuthKey == "" {
				errs = append(errs, errors.New("SNAPSCAN_WEBHOOK_AUTH_KEY is required"))
			}
		}
	}

	if c.Reconcile.MinAge < 0 || c.Reconcile.Lookback <= 0 || c.Reconcile.LongTailLookback < 0 || c.Reconcile.Interval < 0 || c.Reconcile.Timeout < 0 {
		errs = append(errs, errors.New("reconcile durations must be non-negative and lookback positive"))
	}
	if c.Webhook.MaxAge < 0 || c.Webhook.ClockSkew < 0 {
		errs = append(errs, errors.New("webhook durations must be non-negative"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_HTTP_TIMEOUT must be positive"))
	}

	switch c.KV.Backend {
	case KVBackendMemory:
	case KVBackendBolt:
		if c.KV.BoltPath == "" {
			errs = append(errs, errors.New("KV_BOLT_PATH is required for the bolt backend"))
		}
	case KVBackendDynamoDB:
		if c.KV.DynamoTable == "" {
			errs = append(errs, errors.New("KV_DYNAMODB_TABLE is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown KV_BACKEND %q", c.KV.Backend))
	}

	if c.Alerts.Enabled {
		telegram := c.Alerts.TelegramToken != "" && c.Alerts.TelegramChatID != 0
		if !telegram && c.Alerts.S3Bucket == "" {
			errs = append(errs, errors.New("alerts enabled without telegram or s3 destination"))
		}
	}

	return errors.Join(errs...)
}
