package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// MemoryRuleStore is an engine.RuleStore kept in a map
type MemoryRuleStore struct {
	mu    sync.Mutex
	rules map[string]models.AutomationRule
}

var _ engine.RuleStore = (*MemoryRuleStore)(nil)

func NewMemoryRuleStore(rules ...models.AutomationRule) *MemoryRuleStore {
	s := &MemoryRuleStore{rules: map[string]models.AutomationRule{}}
	for _, r := range rules {
		s.rules[r.ID] = r
	}
	return s
}

func (s *MemoryRuleStore) ListRules(context.Context) ([]models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AutomationRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryRuleStore) GetRule(_ context.Context, ruleID string) (*models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return nil, engine.ErrRuleNotFound
	}
	return &r, nil
}

func (s *MemoryRuleStore) SaveRule(_ context.Context, rule models.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
	return nil
}

func (s *MemoryRuleStore) DeleteRule(_ context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[ruleID]; !ok {
		return engine.ErrRuleNotFound
	}
	delete(s.rules, ruleID)
	return nil
}
