package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigCalculatePoolSize(t *testing.T) {
	cfg := DefaultConfig()

	cfg.PoolSize = "4"
	assert.Equal(t, 4, cfg.CalculatePoolSize())

	cfg.PoolSize = "auto"
	auto := cfg.CalculatePoolSize()
	assert.GreaterOrEqual(t, auto, 1)
	assert.LessOrEqual(t, auto, 8)

	// Garbage falls back to auto instead of failing at runtime.
	cfg.PoolSize = "lots"
	assert.Equal(t, auto, cfg.CalculatePoolSize())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"explicit size", func(c *Config) { c.PoolSize = "3" }, false},
		{"negative pool size", func(c *Config) { c.PoolSize = "-1" }, true},
		{"non-numeric pool size", func(c *Config) { c.PoolSize = "many" }, true},
		{"zero restart count", func(c *Config) { c.RestartAfterCount = 0 }, true},
		{"zero navigate timeout", func(c *Config) { c.NavigateTimeout = 0 }, true},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
