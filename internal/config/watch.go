package config

import (
	"fmt"
	"strings"
	"sync"

	"quorum/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RiskListener receives the risk section after a successful config reload.
type RiskListener func(RiskConfig)

// Watcher re-reads the config file on change and republishes the risk
// policy. Only the [risk] table is hot-reloadable; everything else needs a
// restart, so edits elsewhere are ignored with a log line.
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.Mutex
	current   RiskConfig
	listeners []RiskListener
}

func NewWatcher(path string, initial RiskConfig) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	w := &Watcher{path: path, v: v, current: initial}
	v.OnConfigChange(func(evt fsnotify.Event) {
		w.reload(evt)
	})
	v.WatchConfig()
	return w, nil
}

func (w *Watcher) OnRiskChange(fn RiskListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) reload(evt fsnotify.Event) {
	if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		logger.Errorf("config reload ignored, invalid file: %v", err)
		return
	}
	w.mu.Lock()
	changed := cfg.Risk != w.current
	if changed {
		w.current = cfg.Risk
	}
	listeners := append([]RiskListener(nil), w.listeners...)
	w.mu.Unlock()
	if !changed {
		return
	}
	logger.Infof("risk policy reloaded from %s", w.path)
	for _, fn := range listeners {
		fn(cfg.Risk)
	}
}
