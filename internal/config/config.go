// Package config loads, defaults and validates the TOML configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	present := make(keySet)
	markPresentKeys("", v.AllSettings(), present)
	cfg.applyDefaults(present)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// markPresentKeys walks the parsed settings tree and records every key
// path that the file actually set, lowercased and dot-joined.
func markPresentKeys(prefix string, node any, dest keySet) {
	join := func(key string) string {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" || prefix == "" {
			return key
		}
		return prefix + "." + key
	}
	switch val := node.(type) {
	case map[string]any:
		for k, child := range val {
			if p := join(k); p != "" {
				markPresentKeys(p, child, dest)
			}
		}
	case map[any]any:
		for k, child := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			if p := join(ks); p != "" {
				markPresentKeys(p, child, dest)
			}
		}
	case []any:
		dest.mark(prefix)
		for _, item := range val {
			markPresentKeys(prefix, item, dest)
		}
	default:
		dest.mark(prefix)
	}
}
