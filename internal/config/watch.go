package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/angel122382/rpcdevtools/internal/assert"
	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/angel122382/rpcdevtools/internal/rpctype"
)

// RuleWatcher reloads type_rules when the config file changes and installs
// the new resolver on the classifier. Other settings need a restart.
type RuleWatcher struct {
	path       string
	classifier *rpctype.Classifier
	interval   time.Duration
	baseline   time.Time
	stopChan   chan struct{}
	stopOnce   sync.Once
	reloads    int
	mu         sync.Mutex
}

// NewRuleWatcher watches path every interval (5s when zero). The file's
// current modification time is the baseline: any later change is reloaded,
// even one made before Watch starts.
func NewRuleWatcher(path string, classifier *rpctype.Classifier, interval time.Duration) (*RuleWatcher, error) {
	if err := assert.Check(path != "", "config path must not be empty"); err != nil {
		return nil, err
	}
	if err := assert.NotNil(classifier, "classifier"); err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	var baseline time.Time
	if stat, err := os.Stat(absPath); err == nil {
		baseline = stat.ModTime()
	}
	return &RuleWatcher{
		path:       absPath,
		classifier: classifier,
		interval:   interval,
		baseline:   baseline,
		stopChan:   make(chan struct{}),
	}, nil
}

// Reload reads the file and swaps the resolver. On error the current
// resolver stays in place.
func (w *RuleWatcher) Reload() error {
	cfg := Default()
	if err := loadFile(w.path, cfg); err != nil {
		return err
	}
	r, err := cfg.Resolver()
	if err != nil {
		return err
	}
	w.classifier.SetResolver(r)

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	logging.Info("type_rules_reloaded", logging.Fields{Component: "config", Status: strconv.Itoa(len(cfg.TypeRules)) + "_rules"})
	return nil
}

// Reloads returns how many times rules were swapped.
func (w *RuleWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Watch polls the file modification time in a background goroutine.
func (w *RuleWatcher) Watch() {
	lastMod := w.baseline
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		const maxWatchTicks = 1 << 30
		for i := 0; i < maxWatchTicks; i++ {
			select {
			case <-ticker.C:
				stat, err := os.Stat(w.path)
				if err != nil || stat.ModTime().Equal(lastMod) {
					continue
				}
				if err := w.Reload(); err != nil {
					logging.Warn("type_rules_reload_failed", logging.Fields{Component: "config", Error: err.Error()})
					continue
				}
				lastMod = stat.ModTime()
			case <-w.stopChan:
				return
			}
		}
	}()
}

// Stop ends the watch loop. Safe to call more than once.
func (w *RuleWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
}
