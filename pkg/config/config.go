// Package config defines the gateway configuration and its YAML loader.
package config

import (
	"fmt"
	"time"
)

// GatewayConfig is the root configuration for the gateway process.
type GatewayConfig struct {
	Server   ServerConfig           `yaml:"server"`
	Cache    CacheConfig            `yaml:"cache"`
	Upstream UpstreamConfig         `yaml:"upstream"`
	Models   map[string]ModelLimits `yaml:"models"`
}

// ServerConfig holds the listen ports for the API and metrics servers.
type ServerConfig struct {
	Port        int `yaml:"port"`
	MetricsPort int `yaml:"metrics_port"`
}

// CacheConfig holds the content cache tunables.
type CacheConfig struct {
	DefaultTTLSeconds int     `yaml:"default_ttl_seconds"`
	MaxEntries        int     `yaml:"max_entries"`
	CleanupThreshold  float64 `yaml:"cleanup_threshold"`
}

// DefaultTTL returns the configured TTL as a duration.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// UpstreamConfig describes the OpenAI-compatible inference endpoint.
type UpstreamConfig struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured upstream timeout as a duration.
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// ModelLimits is the static per-model rate limit profile. It is read-only
// after load; the limiter never mutates it.
type ModelLimits struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerDay    int `yaml:"requests_per_day"`
	BurstLimit        int `yaml:"burst_limit"`
}

const (
	defaultPort        = 8080
	defaultMetricsPort = 9190

	defaultCacheTTLSeconds  = 86400 // 24h
	defaultCacheMaxEntries  = 1000
	defaultCleanupThreshold = 0.8

	defaultUpstreamTimeoutSeconds = 60
)

// applyDefaults fills zero values with the documented defaults.
func applyDefaults(cfg *GatewayConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = defaultMetricsPort
	}
	if cfg.Cache.DefaultTTLSeconds == 0 {
		cfg.Cache.DefaultTTLSeconds = defaultCacheTTLSeconds
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = defaultCacheMaxEntries
	}
	if cfg.Cache.CleanupThreshold == 0 {
		cfg.Cache.CleanupThreshold = defaultCleanupThreshold
	}
	if cfg.Upstream.TimeoutSeconds == 0 {
		cfg.Upstream.TimeoutSeconds = defaultUpstreamTimeoutSeconds
	}
}

// validate rejects configurations the gateway cannot run with.
func validate(cfg *GatewayConfig) error {
	if cfg.Cache.DefaultTTLSeconds < 0 {
		return fmt.Errorf("cache.default_ttl_seconds must not be negative: %d", cfg.Cache.DefaultTTLSeconds)
	}
	if cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative: %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.CleanupThreshold < 0 || cfg.Cache.CleanupThreshold > 1 {
		return fmt.Errorf("cache.cleanup_threshold must be in [0,1]: %v", cfg.Cache.CleanupThreshold)
	}
	for model, limits := range cfg.Models {
		if limits.RequestsPerMinute < 0 || limits.RequestsPerDay < 0 || limits.BurstLimit < 0 {
			return fmt.Errorf("model %q has negative limits", model)
		}
	}
	return nil
}
