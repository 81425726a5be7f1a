package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Ensemble.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Venue.validate(); err != nil {
		return err
	}
	if err := validateAdapters(c.Adapters); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if len(e.Symbols) == 0 {
		return fmt.Errorf("engine.symbols requires at least one symbol")
	}
	seen := make(map[string]struct{}, len(e.Symbols))
	for i, sym := range e.Symbols {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" {
			return fmt.Errorf("engine.symbols contains an empty entry")
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("engine.symbols contains duplicate symbol: %s", s)
		}
		seen[s] = struct{}{}
		e.Symbols[i] = s
	}
	return nil
}

func (e *EnsembleConfig) validate() error {
	if e.QuorumMinimum < 1 {
		return fmt.Errorf("ensemble.quorum_minimum must be >= 1")
	}
	if e.ConfidenceThreshold < 0 || e.ConfidenceThreshold > 1 {
		return fmt.Errorf("ensemble.confidence_threshold must be within [0,1]")
	}
	if e.DefaultSize <= 0 || e.DefaultSize > 1 {
		return fmt.Errorf("ensemble.default_size must be within (0,1]")
	}
	if e.DefaultLeverage < 1 {
		return fmt.Errorf("ensemble.default_leverage must be >= 1")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxPositionSize <= 0 || r.MaxPositionSize > 1 {
		return fmt.Errorf("risk.max_position_size must be within (0,1]")
	}
	if r.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if r.MaxLeverage < 1 {
		return fmt.Errorf("risk.max_leverage must be >= 1")
	}
	if r.DefaultStopLossPct <= 0 || r.DefaultStopLossPct >= 1 {
		return fmt.Errorf("risk.default_stop_loss_pct must be within (0,1)")
	}
	if r.MaxOpenPositions < 0 {
		return fmt.Errorf("risk.max_open_positions must be >= 0")
	}
	return nil
}

func (v *VenueConfig) validate() error {
	mode := strings.ToLower(strings.TrimSpace(v.Mode))
	switch mode {
	case "paper":
		if v.EquityUSD <= 0 {
			return fmt.Errorf("venue.equity_usd must be > 0 in paper mode")
		}
	case "binance":
		if strings.TrimSpace(v.APIKey) == "" || strings.TrimSpace(v.APISecret) == "" {
			return fmt.Errorf("venue.api_key and venue.api_secret are required in binance mode")
		}
	default:
		return fmt.Errorf("venue.mode must be \"paper\" or \"binance\", got %q", v.Mode)
	}
	v.Mode = mode
	return nil
}

func validateAdapters(adapters []AdapterConfig) error {
	enabled := 0
	seen := make(map[string]struct{}, len(adapters))
	for _, a := range adapters {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return fmt.Errorf("adapters contains entry without id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("adapters contains duplicate id: %s", id)
		}
		seen[id] = struct{}{}
		if !a.Enabled {
			continue
		}
		enabled++
		switch strings.ToLower(strings.TrimSpace(a.Type)) {
		case "technical", "momentum":
		case "remote":
			if strings.TrimSpace(a.URL) == "" {
				return fmt.Errorf("adapters.%s is remote but has no url", id)
			}
		default:
			return fmt.Errorf("adapters.%s has unknown type %q", id, a.Type)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("adapters requires at least one enabled entry")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}
