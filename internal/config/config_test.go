//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
database:
  url: postgres://localhost:5432/payments
redis:
  url: redis://localhost:6379
web:
  jwt_secret: test-secret
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig), false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Web.Port != 8080 || cfg.Web.SessionTTL != 30*time.Minute {
		t.Errorf("web defaults: %+v", cfg.Web)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log defaults: %+v", cfg.Log)
	}
	if cfg.Redis.ReplayTTL != 24*time.Hour {
		t.Errorf("replay ttl default = %v", cfg.Redis.ReplayTTL)
	}
	if cfg.Scheduler.ReconcileInterval != time.Minute || cfg.Scheduler.StaleAfter != 10*time.Minute {
		t.Errorf("scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Runtime.Dev {
		t.Error("dev flag leaked into config")
	}
}

func TestLoadConfigProviderSections(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
payment:
  default_provider: epay
  epay:
    enabled: true
    merchant_id: M1001
    key: secret
    api_base: https://pay.example.com
  wechatpay:
    enabled: true
    mch_id: "1900000001"
    apiv3_key: 0123456789abcdef0123456789abcdef
`), true)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Payment.DefaultProvider != "epay" {
		t.Errorf("default provider = %q", cfg.Payment.DefaultProvider)
	}
	if !cfg.Payment.Epay.Enabled || cfg.Payment.Epay.MerchantID != "M1001" {
		t.Errorf("epay section: %+v", cfg.Payment.Epay)
	}
	if len(cfg.Payment.WeChatPay.APIv3Key) != 32 {
		t.Errorf("apiv3 key length = %d", len(cfg.Payment.WeChatPay.APIv3Key))
	}
	if !cfg.Runtime.Dev {
		t.Error("dev flag not carried")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"database.url":   "redis:\n  url: redis://x\nweb:\n  jwt_secret: s\n",
		"redis.url":      "database:\n  url: postgres://x\nweb:\n  jwt_secret: s\n",
		"web.jwt_secret": "database:\n  url: postgres://x\nredis:\n  url: redis://x\n",
	}
	for missing, content := range cases {
		if _, err := LoadConfig(writeConfig(t, content), false); err == nil || !strings.Contains(err.Error(), missing) {
			t.Errorf("missing %s: got %v", missing, err)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), false); err == nil {
		t.Error("expected error for missing file")
	}
}
