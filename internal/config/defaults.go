package config

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9980"
	defaultAppLogPath  = ""

	defaultMarketSource  = "binance"
	defaultMarketREST    = "https://fapi.binance.com"
	defaultMarketKline   = "15m"
	defaultMarketHistory = 200

	defaultVenueMode          = "paper"
	defaultVenueEquity        = 10000
	defaultVenuePlaceTimeout  = 10
	defaultVenueStatusRetries = 3
	defaultVenueStatusBackoff = 2

	defaultEnsembleQuorum     = 2
	defaultEnsembleThreshold  = 0.3
	defaultEnsembleTieEpsilon = 1e-9
	defaultEnsembleSize       = 0.02
	defaultEnsembleLeverage   = 1

	defaultRiskMaxPositionSize = 0.1
	defaultRiskMaxDailyLoss    = 0.02
	defaultRiskMaxLeverage     = 20
	defaultRiskStopLossPct     = 0.05
	defaultRiskMaxOpen         = 5

	defaultEngineInterval        = "15m"
	defaultEngineAdapterTimeout  = 30
	defaultEngineBreakerFailures = 5
	defaultEngineBreakerCooldown = 120

	defaultAdapterWeight = 1.0

	defaultStorePath = "data/quorum.db"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Venue.applyDefaults(keys)
	c.Ensemble.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	for i := range c.Adapters {
		a := &c.Adapters[i]
		if a.Weight <= 0 {
			a.Weight = defaultAdapterWeight
		}
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.interval", &m.Interval, defaultMarketKline),
		intFieldDefault("market.history_limit", &m.HistoryLimit, defaultMarketHistory),
	)
}

func (v *VenueConfig) applyDefaults(keys keySet) {
	if v == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("venue.mode", &v.Mode, defaultVenueMode),
		floatFieldDefault("venue.equity_usd", &v.EquityUSD, defaultVenueEquity),
		intFieldDefault("venue.place_timeout_seconds", &v.PlaceTimeoutS, defaultVenuePlaceTimeout),
		intFieldDefault("venue.status_retries", &v.StatusRetries, defaultVenueStatusRetries),
		intFieldDefault("venue.status_backoff_seconds", &v.StatusBackoffS, defaultVenueStatusBackoff),
	)
}

func (e *EnsembleConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("ensemble.quorum_minimum", &e.QuorumMinimum, defaultEnsembleQuorum),
		floatFieldDefault("ensemble.confidence_threshold", &e.ConfidenceThreshold, defaultEnsembleThreshold),
		floatFieldDefault("ensemble.tie_epsilon", &e.TieEpsilon, defaultEnsembleTieEpsilon),
		floatFieldDefault("ensemble.default_size", &e.DefaultSize, defaultEnsembleSize),
		intFieldDefault("ensemble.default_leverage", &e.DefaultLeverage, defaultEnsembleLeverage),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("risk.max_position_size", &r.MaxPositionSize, defaultRiskMaxPositionSize),
		floatFieldDefault("risk.max_daily_loss", &r.MaxDailyLoss, defaultRiskMaxDailyLoss),
		intFieldDefault("risk.max_leverage", &r.MaxLeverage, defaultRiskMaxLeverage),
		floatFieldDefault("risk.default_stop_loss_pct", &r.DefaultStopLossPct, defaultRiskStopLossPct),
		intFieldDefault("risk.max_open_positions", &r.MaxOpenPositions, defaultRiskMaxOpen),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("engine.cycle_interval", &e.CycleInterval, defaultEngineInterval),
		intFieldDefault("engine.adapter_timeout_seconds", &e.AdapterTimeoutS, defaultEngineAdapterTimeout),
		intFieldDefault("engine.breaker_threshold", &e.BreakerThreshold, defaultEngineBreakerFailures),
		intFieldDefault("engine.breaker_cooldown_seconds", &e.BreakerCooldownS, defaultEngineBreakerCooldown),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func applyFieldDefaults(keys keySet, defaults ...fieldDefault) {
	for _, d := range defaults {
		if keys.isSet(d.key) {
			continue
		}
		if d.need == nil || d.need() {
			d.apply()
		}
	}
}

func stringFieldDefault(key string, target *string, value string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == "" },
		apply: func() { *target = value },
	}
}

func intFieldDefault(key string, target *int, value int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = value },
	}
}

func floatFieldDefault(key string, target *float64, value float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = value },
	}
}
