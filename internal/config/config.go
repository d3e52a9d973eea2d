package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the analytics core.
type Config struct {
	Server        ServerConfig
	Bus           BusConfig
	Watchdog      WatchdogConfig
	Resilience    ResilienceConfig
	VPIN          VPINConfig
	Series        SeriesConfig
	Exchange      ExchangeConfig
	Settings      SettingsConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// BusConfig sizes the ring buffers backing the snapshot and series busses.
type BusConfig struct {
	SnapshotCapacity   int
	SeriesCapacity     int
	MaxSymbols         int
	ShutdownGracePeriod time.Duration
}

// WatchdogConfig controls the per-provider heartbeat monitor.
type WatchdogConfig struct {
	StaleAfter      time.Duration
	CheckInterval   time.Duration
}

// ResilienceConfig seeds defaults for the resilience/bias calculator.
type ResilienceConfig struct {
	RollingWindowSize int
	ShockTimeout      time.Duration
	TradeShockZ       float64
	SpreadShockZ      float64
	// DepthDropThreshold is the z-score drop, against the P²-tracked
	// median/MAD of immediacy-weighted depth, that marks a side newly
	// depleted.
	DepthDropThreshold float64
	BiasHysteresis     float64
}

// VPINConfig seeds defaults for the VPIN bucketing engine.
type VPINConfig struct {
	BucketVolumeSize float64
}

// SettingsConfig points at the plugin-shell-owned settings directory
// internal/settings.Reader loads per-plugin overrides from. Dir empty
// (the default) disables settings-seeded overrides entirely.
type SettingsConfig struct {
	Dir string
}

// SeriesConfig controls the default aggregation window for derived study points.
type SeriesConfig struct {
	DefaultWindow string
}

// ExchangeConfig controls the reference exchange connector.
type ExchangeConfig struct {
	BinanceWSEndpoint  string
	Symbols            []string
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BackoffMultiplier  float64
	MaxReconnectAttempts int
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	ServiceName    string
	LogLevel       string
	LogFormat      string
	MetricsPort    int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			ReadTimeout:  getDurationEnv("READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("IDLE_TIMEOUT", 60*time.Second),
		},
		Bus: BusConfig{
			SnapshotCapacity:    getIntEnv("BUS_SNAPSHOT_CAPACITY", 1024),
			SeriesCapacity:      getIntEnv("BUS_SERIES_CAPACITY", 256),
			MaxSymbols:          getIntEnv("BUS_MAX_SYMBOLS", 64),
			ShutdownGracePeriod: getDurationEnv("BUS_SHUTDOWN_GRACE_PERIOD", 5*time.Second),
		},
		Watchdog: WatchdogConfig{
			StaleAfter:    getDurationEnv("WATCHDOG_STALE_AFTER", 30*time.Second),
			CheckInterval: getDurationEnv("WATCHDOG_CHECK_INTERVAL", 5*time.Second),
		},
		Resilience: ResilienceConfig{
			RollingWindowSize:  getIntEnv("RESILIENCE_ROLLING_WINDOW_SIZE", 500),
			ShockTimeout:       getDurationEnv("RESILIENCE_SHOCK_TIMEOUT", 10*time.Second),
			TradeShockZ:        getFloatEnv("RESILIENCE_TRADE_SHOCK_Z", 2.0),
			SpreadShockZ:       getFloatEnv("RESILIENCE_SPREAD_SHOCK_Z", 2.0),
			DepthDropThreshold: getFloatEnv("RESILIENCE_DEPTH_DROP_THRESHOLD", 3.0),
			BiasHysteresis:     getFloatEnv("RESILIENCE_BIAS_HYSTERESIS", 0.20),
		},
		VPIN: VPINConfig{
			BucketVolumeSize: getFloatEnv("VPIN_BUCKET_VOLUME_SIZE", 50.0),
		},
		Series: SeriesConfig{
			DefaultWindow: getEnv("SERIES_DEFAULT_WINDOW", "1s"),
		},
		Settings: SettingsConfig{
			Dir: getEnv("SETTINGS_DIR", ""),
		},
		Exchange: ExchangeConfig{
			BinanceWSEndpoint:    getEnv("BINANCE_WS_ENDPOINT", "wss://stream.binance.com:9443"),
			Symbols:              getSliceEnv("EXCHANGE_SYMBOLS", []string{"btcusdt"}),
			InitialBackoff:       getDurationEnv("EXCHANGE_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:           getDurationEnv("EXCHANGE_MAX_BACKOFF", 60*time.Second),
			BackoffMultiplier:    getFloatEnv("EXCHANGE_BACKOFF_MULTIPLIER", 2.0),
			MaxReconnectAttempts: getIntEnv("EXCHANGE_MAX_RECONNECT_ATTEMPTS", 10),
		},
		Observability: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "marketpulse-resilience"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsPort:    getIntEnv("METRICS_PORT", 9090),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Bus.SnapshotCapacity <= 0 || c.Bus.SnapshotCapacity&(c.Bus.SnapshotCapacity-1) != 0 {
		return fmt.Errorf("BUS_SNAPSHOT_CAPACITY must be a positive power of two, got %d", c.Bus.SnapshotCapacity)
	}
	if c.Bus.SeriesCapacity <= 0 || c.Bus.SeriesCapacity&(c.Bus.SeriesCapacity-1) != 0 {
		return fmt.Errorf("BUS_SERIES_CAPACITY must be a positive power of two, got %d", c.Bus.SeriesCapacity)
	}
	if len(c.Exchange.Symbols) == 0 {
		return fmt.Errorf("EXCHANGE_SYMBOLS must name at least one symbol")
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
