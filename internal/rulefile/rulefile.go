// Package rulefile loads automation rules from a YAML file and keeps the
// rule store in step with it.
package rulefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// File is the document layout:
//
//	rules:
//	  - id: door-alarm
//	    name: Door alarm
//	    enabled: true
//	    trigger: {...}
type File struct {
	Rules []any `yaml:"rules"`
}

// Parse decodes a rule file. Rules go through their JSON codecs so the YAML
// keys match the API field names.
func Parse(data []byte) ([]models.AutomationRule, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	rules := make([]models.AutomationRule, 0, len(f.Rules))
	seen := make(map[string]bool, len(f.Rules))
	for i, raw := range f.Rules {
		js, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		var rule models.AutomationRule
		if err := json.Unmarshal(js, &rule); err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		if rule.ID == "" {
			return nil, fmt.Errorf("rules[%d]: missing id", i)
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("rules[%d]: duplicate id %q", i, rule.ID)
		}
		seen[rule.ID] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// Syncer reconciles the engine with the full rule set
type Syncer interface {
	SyncRules(ctx context.Context, rules []models.AutomationRule) engine.SyncReport
}

// Loader applies a rule file to the rule store and resyncs the engine.
// Stored rules carry their source, so rules that disappear from the file
// are deleted from the store even across restarts; rules created through
// the API are left alone.
type Loader struct {
	path   string
	store  engine.RuleStore
	engine Syncer
	logger zerolog.Logger

	mu sync.Mutex
}

func NewLoader(path string, store engine.RuleStore, eng Syncer) *Loader {
	return &Loader{
		path:   path,
		store:  store,
		engine: eng,
		logger: log.With().Str("component", "rulefile").Str("path", path).Logger(),
	}
}

// Load reads the file and applies it. An invalid rule is not saved; the
// stored version of that rule, if any, is kept.
func (l *Loader) Load(ctx context.Context) (engine.SyncReport, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return engine.SyncReport{}, fmt.Errorf("read rules %s: %w", l.path, err)
	}
	rules, err := Parse(data)
	if err != nil {
		return engine.SyncReport{}, fmt.Errorf("%s: %w", l.path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stored, err := l.store.ListRules(ctx)
	if err != nil {
		return engine.SyncReport{}, fmt.Errorf("list rules: %w", err)
	}

	current := make(map[string]bool, len(rules))
	rejected := map[string]string{}
	for _, rule := range rules {
		current[rule.ID] = true
		rule.Source = models.RuleSourceFile
		if err := rule.Validate(); err != nil {
			rejected[rule.ID] = err.Error()
			l.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("invalid rule in file, stored version kept")
			continue
		}
		if err := l.store.SaveRule(ctx, rule); err != nil {
			return engine.SyncReport{}, fmt.Errorf("save rule %s: %w", rule.ID, err)
		}
	}
	for _, rule := range stored {
		if rule.Source != models.RuleSourceFile || current[rule.ID] {
			continue
		}
		if err := l.store.DeleteRule(ctx, rule.ID); err != nil && !errors.Is(err, engine.ErrRuleNotFound) {
			l.logger.Warn().Err(err).Str("rule_id", rule.ID).Msg("failed to delete removed rule")
		}
	}

	all, err := l.store.ListRules(ctx)
	if err != nil {
		return engine.SyncReport{}, fmt.Errorf("list rules: %w", err)
	}
	report := l.engine.SyncRules(ctx, all)
	if report.Invalid == nil {
		report.Invalid = map[string]string{}
	}
	for id, reason := range rejected {
		report.Invalid[id] = reason
	}
	l.logger.Info().
		Int("file_rules", len(rules)).
		Int("registered", len(report.Registered)).
		Int("removed", len(report.Removed)).
		Int("invalid", len(report.Invalid)).
		Msg("rule file applied")
	for id, reason := range report.Invalid {
		l.logger.Warn().Str("rule_id", id).Str("reason", reason).Msg("invalid rule")
	}
	return report, nil
}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so editors that replace the file are handled.
func (l *Loader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return fmt.Errorf("rules watcher add %s: %w", l.path, err)
	}

	go func() {
		defer w.Close()
		target := filepath.Clean(l.path)
		var debounce <-chan time.Time
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					debounce = time.After(200 * time.Millisecond)
				}
			case <-debounce:
				debounce = nil
				if _, err := l.Load(ctx); err != nil {
					// keep the previous rule set
					l.logger.Error().Err(err).Msg("reload failed")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn().Err(err).Msg("watcher error")
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
