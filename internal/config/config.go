package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the reservation engine.
type Config struct {
	Port            int
	LogLevel        string
	DatabaseDSN     string
	PromotionWindow time.Duration
	CartTimeout     time.Duration
	ScanInterval    time.Duration
	NotifyURL       string
	NotifyTimeout   time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	dsn := getStr("DB_DSN", "reserve.db")

	promotionWindow, err := getDuration("PROMOTION_WINDOW", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid PROMOTION_WINDOW: %w", err)
	}
	if promotionWindow <= 0 {
		return nil, fmt.Errorf("invalid PROMOTION_WINDOW: must be positive")
	}

	cartTimeout, err := getDuration("CART_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid CART_TIMEOUT: %w", err)
	}
	if cartTimeout <= 0 {
		return nil, fmt.Errorf("invalid CART_TIMEOUT: must be positive")
	}

	scanInterval, err := getDuration("SCAN_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SCAN_INTERVAL: %w", err)
	}
	if scanInterval <= 0 {
		return nil, fmt.Errorf("invalid SCAN_INTERVAL: must be positive")
	}

	notifyURL := getStr("NOTIFY_URL", "")

	notifyTimeout, err := getDuration("NOTIFY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_TIMEOUT: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		DatabaseDSN:     dsn,
		PromotionWindow: promotionWindow,
		CartTimeout:     cartTimeout,
		ScanInterval:    scanInterval,
		NotifyURL:       notifyURL,
		NotifyTimeout:   notifyTimeout,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
