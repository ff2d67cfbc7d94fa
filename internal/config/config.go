// Package config centralizes the environment-variable configuration
// generalized from the teacher's scattered `getEnv(key, default)` calls in
// `backend/auction/cmd/main.go` into one typed, validated struct loaded
// once at startup (SPEC_FULL.md A1).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rivalapexmediation/auctionhouse/internal/lifecycle"
)

// Config holds every tunable the composition root needs. Defaults match the
// constants named throughout spec.md/SPEC_FULL.md.
type Config struct {
	TCPAddr       string // e.g. ":8888" — the auction protocol's listener
	AdminAddr     string // e.g. ":8081" — the admin HTTP surface

	SnapshotPath     string
	SnapshotInterval time.Duration

	SweepInterval  time.Duration
	AntiSnipeWindow time.Duration

	RedisAddr     string
	RedisPassword string
	KillswitchOn  bool

	PrometheusEnabled bool
	OTelEndpoint      string
	OTelServiceName   string

	AdminBearerToken string
	AdminIPAllowlist string
}

// Load reads Config from the environment, applying the same defaults the
// teacher's main.go hardcodes for its own equivalents.
func Load() (*Config, error) {
	c := &Config{
		TCPAddr:          ":" + getEnv("PORT", "8888"),
		AdminAddr:        ":" + getEnv("ADMIN_PORT", "8081"),
		SnapshotPath:     getEnv("SNAPSHOT_PATH", "auctionhouse.snapshot.json"),
		SnapshotInterval: 30 * time.Second,
		SweepInterval:    lifecycle.DefaultInterval,
		AntiSnipeWindow:  30 * time.Second,
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		KillswitchOn:     boolEnv("KILLSWITCH_ENABLED", false),
		PrometheusEnabled: boolEnv("PROM_EXPORTER_ENABLED", false),
		OTelEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTelServiceName:   getEnv("OTEL_SERVICE_NAME", "auctionhouse"),
		AdminBearerToken:  strings.TrimSpace(os.Getenv("ADMIN_API_BEARER")),
		AdminIPAllowlist:  strings.TrimSpace(os.Getenv("ADMIN_IP_ALLOWLIST")),
	}

	if v := getEnv("SNAPSHOT_INTERVAL_SECONDS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("SNAPSHOT_INTERVAL_SECONDS: invalid value %q", v)
		}
		c.SnapshotInterval = time.Duration(n) * time.Second
	}
	if v := getEnv("SWEEP_INTERVAL_SECONDS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("SWEEP_INTERVAL_SECONDS: invalid value %q", v)
		}
		c.SweepInterval = time.Duration(n) * time.Second
	}
	if v := getEnv("ANTI_SNIPE_WINDOW_SECONDS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("ANTI_SNIPE_WINDOW_SECONDS: invalid value %q", v)
		}
		c.AntiSnipeWindow = time.Duration(n) * time.Second
	}

	return c, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func boolEnv(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v == "true" || v == "1" || strings.EqualFold(v, "true")
}
