package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
[engine]
symbols = ["btcusdt", "ETHUSDT"]

[[adapters]]
id = "technical"
type = "technical"
enabled = true
`

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	assert.NoError(t, err)

	// Symbols normalized to upper case.
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Engine.Symbols)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, ":9980", cfg.App.HTTPAddr)
	assert.Equal(t, "paper", cfg.Venue.Mode)
	assert.Equal(t, 10000.0, cfg.Venue.EquityUSD)
	assert.Equal(t, 2, cfg.Ensemble.QuorumMinimum)
	assert.InDelta(t, 0.3, cfg.Ensemble.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 0.1, cfg.Risk.MaxPositionSize, 1e-9)
	assert.InDelta(t, 0.02, cfg.Risk.MaxDailyLoss, 1e-9)
	assert.Equal(t, 20, cfg.Risk.MaxLeverage)
	assert.Equal(t, "15m", cfg.Engine.CycleInterval)
	assert.Equal(t, "data/quorum.db", cfg.Store.Path)
	assert.InDelta(t, 1.0, cfg.Adapters[0].Weight, 1e-9)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[risk]
max_leverage = 5
max_position_size = 0.2

[engine]
symbols = ["BTCUSDT"]
cycle_interval = "1h"

[[adapters]]
id = "mom"
type = "momentum"
enabled = true
weight = 2.5
`))
	assert.NoError(t, err)
	assert.Equal(t, 5, cfg.Risk.MaxLeverage)
	assert.InDelta(t, 0.2, cfg.Risk.MaxPositionSize, 1e-9)
	assert.Equal(t, "1h", cfg.Engine.CycleInterval)
	assert.InDelta(t, 2.5, cfg.Adapters[0].Weight, 1e-9)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no symbols": `
[[adapters]]
id = "ta"
type = "technical"
enabled = true
`,
		"duplicate symbol": `
[engine]
symbols = ["BTCUSDT", "btcusdt"]

[[adapters]]
id = "ta"
type = "technical"
enabled = true
`,
		"no enabled adapter": `
[engine]
symbols = ["BTCUSDT"]

[[adapters]]
id = "ta"
type = "technical"
enabled = false
`,
		"remote without url": `
[engine]
symbols = ["BTCUSDT"]

[[adapters]]
id = "llm"
type = "remote"
enabled = true
`,
		"unknown adapter type": `
[engine]
symbols = ["BTCUSDT"]

[[adapters]]
id = "x"
type = "astrology"
enabled = true
`,
		"bad venue mode": `
[venue]
mode = "ftx"

[engine]
symbols = ["BTCUSDT"]

[[adapters]]
id = "ta"
type = "technical"
enabled = true
`,
		"binance without keys": `
[venue]
mode = "binance"

[engine]
symbols = ["BTCUSDT"]

[[adapters]]
id = "ta"
type = "technical"
enabled = true
`,
		"telegram incomplete": `
[engine]
symbols = ["BTCUSDT"]

[[adapters]]
id = "ta"
type = "technical"
enabled = true

[notify.telegram]
enabled = true
`,
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
	_, err = Load("")
	assert.Error(t, err)
}

func TestEnabledAdapters(t *testing.T) {
	cfg := &Config{Adapters: []AdapterConfig{
		{ID: "a", Enabled: true},
		{ID: "b", Enabled: false},
		{ID: " ", Enabled: true},
	}}
	out := cfg.EnabledAdapters()
	assert.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}
