package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

var _ engine.RuleStore = (*DB)(nil)

// ListRules fetches all rules
func (d *DB) ListRules(ctx context.Context) ([]models.AutomationRule, error) {
	rows, err := d.pool.Query(ctx, "SELECT definition FROM automation_rules ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.AutomationRule
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r models.AutomationRule
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetRule fetches a rule
func (d *DB) GetRule(ctx context.Context, id string) (*models.AutomationRule, error) {
	var raw []byte
	err := d.pool.QueryRow(ctx, "SELECT definition FROM automation_rules WHERE id = $1", id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	var r models.AutomationRule
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode rule %s: %w", id, err)
	}
	return &r, nil
}

// SaveRule inserts or replaces a rule
func (d *DB) SaveRule(ctx context.Context, rule models.AutomationRule) error {
	raw, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	_, err = d.pool.Exec(ctx,
		`INSERT INTO automation_rules (id, name, enabled, definition, source, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, enabled = EXCLUDED.enabled,
		   definition = EXCLUDED.definition, source = EXCLUDED.source, updated_at = NOW()`,
		rule.ID, rule.Name, rule.Enabled, raw, rule.Source)
	return err
}

// DeleteRule removes a rule
func (d *DB) DeleteRule(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, "DELETE FROM automation_rules WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrRuleNotFound
	}
	return nil
}
