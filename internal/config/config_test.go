package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.DatabaseDSN != "reserve.db" {
		t.Errorf("DatabaseDSN = %q, want reserve.db", cfg.DatabaseDSN)
	}
	if cfg.PromotionWindow != 5*time.Minute {
		t.Errorf("PromotionWindow = %v, want 5m", cfg.PromotionWindow)
	}
	if cfg.CartTimeout != 10*time.Minute {
		t.Errorf("CartTimeout = %v, want 10m", cfg.CartTimeout)
	}
	if cfg.ScanInterval != 5*time.Second {
		t.Errorf("ScanInterval = %v, want 5s", cfg.ScanInterval)
	}
	if cfg.NotifyURL != "" {
		t.Errorf("NotifyURL = %q, want empty", cfg.NotifyURL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PROMOTION_WINDOW", "2m")
	t.Setenv("CART_TIMEOUT", "30m")
	t.Setenv("SCAN_INTERVAL", "1s")
	t.Setenv("NOTIFY_URL", "https://notify.internal/hooks")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.PromotionWindow != 2*time.Minute {
		t.Errorf("PromotionWindow = %v, want 2m", cfg.PromotionWindow)
	}
	if cfg.CartTimeout != 30*time.Minute {
		t.Errorf("CartTimeout = %v, want 30m", cfg.CartTimeout)
	}
	if cfg.ScanInterval != time.Second {
		t.Errorf("ScanInterval = %v, want 1s", cfg.ScanInterval)
	}
	if cfg.NotifyURL != "https://notify.internal/hooks" {
		t.Errorf("NotifyURL = %q", cfg.NotifyURL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "not-a-number"},
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"bad window", "PROMOTION_WINDOW", "soon"},
		{"negative window", "PROMOTION_WINDOW", "-5m"},
		{"zero interval", "SCAN_INTERVAL", "0s"},
		{"bad timeout", "CART_TIMEOUT", "10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%q", tc.key, tc.value)
			}
		})
	}
}
