package config

import "strings"

// Config is the main configuration carrier for quorum.
type Config struct {
	App      AppConfig       `toml:"app"`
	Market   MarketConfig    `toml:"market"`
	Venue    VenueConfig     `toml:"venue"`
	Ensemble EnsembleConfig  `toml:"ensemble"`
	Risk     RiskConfig      `toml:"risk"`
	Engine   EngineConfig    `toml:"engine"`
	Adapters []AdapterConfig `toml:"adapters"`
	Notify   NotifyConfig    `toml:"notify"`
	Store    StoreConfig     `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// MarketConfig describes the market data source used to build snapshots.
type MarketConfig struct {
	Source       string `toml:"source"`
	RESTBaseURL  string `toml:"rest_base_url"`
	Interval     string `toml:"interval"`
	HistoryLimit int    `toml:"history_limit"`
}

// VenueConfig describes the order execution venue.
// Mode "paper" runs against the built-in simulated venue; "binance" runs
// against Binance USDⓈ-M futures.
type VenueConfig struct {
	Mode           string  `toml:"mode"`
	APIKey         string  `toml:"api_key"`
	APISecret      string  `toml:"api_secret"`
	RESTBaseURL    string  `toml:"rest_base_url"`
	EquityUSD      float64 `toml:"equity_usd"`
	PlaceTimeoutS  int     `toml:"place_timeout_seconds"`
	StatusRetries  int     `toml:"status_retries"`
	StatusBackoffS int     `toml:"status_backoff_seconds"`
}

// EnsembleConfig controls the opinion aggregation rules.
type EnsembleConfig struct {
	QuorumMinimum       int     `toml:"quorum_minimum"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	TieEpsilon          float64 `toml:"tie_epsilon"`
	DefaultSize         float64 `toml:"default_size"`
	DefaultLeverage     int     `toml:"default_leverage"`
}

// RiskConfig mirrors risk.Policy; values are fractions of equity unless noted.
type RiskConfig struct {
	MaxPositionSize    float64 `toml:"max_position_size"`
	MaxDailyLoss       float64 `toml:"max_daily_loss"`
	MaxLeverage        int     `toml:"max_leverage"`
	DefaultStopLossPct float64 `toml:"default_stop_loss_pct"`
	MaxOpenPositions   int     `toml:"max_open_positions"` // 0 disables the check
	MinEquityUSD       float64 `toml:"min_equity_usd"`     // 0 disables the check
}

type EngineConfig struct {
	Symbols              []string `toml:"symbols"`
	CycleInterval        string   `toml:"cycle_interval"`
	AdapterTimeoutS      int      `toml:"adapter_timeout_seconds"`
	RunImmediately       bool     `toml:"run_immediately"`
	BreakerThreshold     int      `toml:"breaker_threshold"`
	BreakerCooldownS     int      `toml:"breaker_cooldown_seconds"`
	WatchRiskPolicy      bool     `toml:"watch_risk_policy"`
	NotifyDailyReport    bool     `toml:"notify_daily_report"`
	SnapshotMaxAgeSecond int      `toml:"snapshot_max_age_seconds"`
}

// AdapterConfig declares one advisory signal adapter.
// Type is one of "technical", "momentum", "remote".
type AdapterConfig struct {
	ID       string            `toml:"id"`
	Type     string            `toml:"type"`
	Enabled  bool              `toml:"enabled"`
	Weight   float64           `toml:"weight"`
	TimeoutS int               `toml:"timeout_seconds"`
	URL      string            `toml:"url"`     // remote only
	APIKey   string            `toml:"api_key"` // remote only
	Headers  map[string]string `toml:"headers"` // remote only
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// EnabledAdapters returns the adapters that participate in the ensemble.
func (c *Config) EnabledAdapters() []AdapterConfig {
	out := make([]AdapterConfig, 0, len(c.Adapters))
	for _, a := range c.Adapters {
		if !a.Enabled {
			continue
		}
		if strings.TrimSpace(a.ID) == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}

// keySet tracks field paths explicitly present in the config file so
// defaults never clobber an intentional zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
