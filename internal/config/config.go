// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type WebConfig struct {
	Port         int           `yaml:"port"`
	AdminKey     string        `yaml:"admin_key"`
	JWTSecret    string        `yaml:"jwt_secret"`
	CookieDomain string        `yaml:"cookie_domain"`
	SecureCookie bool          `yaml:"secure_cookie"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL       string        `yaml:"url"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	ReplayTTL time.Duration `yaml:"replay_ttl"`
}

// ProviderConfig is the section shape shared by all providers; provider
// specific credentials sit in dedicated fields and only the ones a provider
// reads need to be set.
type StripeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	TestMode      bool   `yaml:"test_mode"`
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	APIBase       string `yaml:"api_base"`
}

type EpayConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TestMode   bool   `yaml:"test_mode"`
	MerchantID string `yaml:"merchant_id"`
	Key        string `yaml:"key"`
	APIBase    string `yaml:"api_base"`
	SignType   string `yaml:"sign_type"`
	Channel    string `yaml:"channel"`
	NotifyURL  string `yaml:"notify_url"`
	ReturnURL  string `yaml:"return_url"`
}

type AlipayConfig struct {
	Enabled         bool   `yaml:"enabled"`
	TestMode        bool   `yaml:"test_mode"`
	AppID           string `yaml:"app_id"`
	PrivateKey      string `yaml:"private_key"`
	AlipayPublicKey string `yaml:"alipay_public_key"`
	GatewayURL      string `yaml:"gateway_url"`
	NotifyURL       string `yaml:"notify_url"`
	ReturnURL       string `yaml:"return_url"`
}

type WeChatPayConfig struct {
	Enabled           bool   `yaml:"enabled"`
	TestMode          bool   `yaml:"test_mode"`
	MchID             string `yaml:"mch_id"`
	AppID             string `yaml:"app_id"`
	SerialNo          string `yaml:"serial_no"`
	PrivateKey        string `yaml:"private_key"`
	APIv3Key          string `yaml:"apiv3_key"`
	PlatformPublicKey string `yaml:"platform_public_key"`
	APIBase           string `yaml:"api_base"`
	NotifyURL         string `yaml:"notify_url"`
}

type PaymentConfig struct {
	DefaultProvider string          `yaml:"default_provider"`
	Stripe          StripeConfig    `yaml:"stripe"`
	Epay            EpayConfig      `yaml:"epay"`
	Alipay          AlipayConfig    `yaml:"alipay"`
	WeChatPay       WeChatPayConfig `yaml:"wechatpay"`
}

type SchedulerConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
}

type NotifyConfig struct {
	TelegramToken string  `yaml:"telegram_token"`
	AdminChatIDs  []int64 `yaml:"admin_chat_ids"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Web       WebConfig       `yaml:"web"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Payment   PaymentConfig   `yaml:"payment"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Web.Port <= 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Web.SessionTTL <= 0 {
		cfg.Web.SessionTTL = 30 * time.Minute
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.ReplayTTL <= 0 {
		cfg.Redis.ReplayTTL = 24 * time.Hour
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = time.Minute
	}
	if cfg.Scheduler.StaleAfter <= 0 {
		cfg.Scheduler.StaleAfter = 10 * time.Minute
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Web.JWTSecret == "" {
		return nil, errors.New("web.jwt_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
