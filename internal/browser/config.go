// Package browser maintains a pool of headless Chromium instances for
// the few shop categories that only render their product data with
// JavaScript.
package browser

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/avmeta/harvester/internal/common/config"
)

// Config holds pool and instance settings.
type Config struct {
	PoolSize        string // "auto" or integer string
	NavigateTimeout time.Duration
	ShutdownTimeout time.Duration

	// Restart policies
	RestartAfterCount int
	RestartAfterTime  time.Duration
}

// FromAppConfig converts the YAML browser section.
func FromAppConfig(cfg config.BrowserConfig) *Config {
	return &Config{
		PoolSize:          cfg.PoolSize,
		NavigateTimeout:   time.Duration(cfg.NavigateTimeout),
		ShutdownTimeout:   time.Duration(cfg.ShutdownTimeout),
		RestartAfterCount: cfg.RestartAfterCount,
		RestartAfterTime:  time.Duration(cfg.RestartAfterTime),
	}
}

// DefaultConfig is used in tests to avoid constructing full Config structs.
func DefaultConfig() *Config {
	return &Config{
		PoolSize:          "auto",
		NavigateTimeout:   30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RestartAfterCount: 100,
		RestartAfterTime:  time.Hour,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PoolSize != "auto" {
		size, err := strconv.Atoi(c.PoolSize)
		if err != nil {
			return fmt.Errorf("pool size must be 'auto' or a valid integer")
		}
		if size <= 0 {
			return fmt.Errorf("pool size must be positive")
		}
	}
	if c.NavigateTimeout <= 0 {
		return fmt.Errorf("navigate timeout must be positive")
	}
	if c.RestartAfterCount <= 0 {
		return fmt.Errorf("restart after count must be positive")
	}
	if c.RestartAfterTime <= 0 {
		return fmt.Errorf("restart after time must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// CalculatePoolSize determines the pool size, deriving it from system
// RAM when set to "auto".
func (c *Config) CalculatePoolSize() int {
	if c.PoolSize == "auto" {
		return c.calculateAutoPoolSize()
	}
	size, err := strconv.Atoi(c.PoolSize)
	if err != nil || size <= 0 {
		return c.calculateAutoPoolSize()
	}
	return size
}

// calculateAutoPoolSize reserves 2 GB for the rest of the process and
// budgets roughly 500 MB per Chromium. Scraping a handful of sites
// never needs more than a few tabs, so the ceiling is low.
func (c *Config) calculateAutoPoolSize() int {
	var totalRAMBytes int64
	v, err := mem.VirtualMemory()
	if err != nil {
		totalRAMBytes = 8 << 30 // conservative fallback
	} else {
		totalRAMBytes = int64(v.Total)
	}

	availableBytes := totalRAMBytes - 2<<30
	poolSize := int(availableBytes / (500 << 20))

	if poolSize < 1 {
		poolSize = 1
	}
	if poolSize > 8 {
		poolSize = 8
	}
	return poolSize
}
