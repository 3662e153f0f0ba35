package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// TriggerType selects how a rule is initiated
type TriggerType string

const (
	TriggerEvent     TriggerType = "event"
	TriggerScheduled TriggerType = "scheduled"
)

// Trigger is either an event trigger (Conditions set) or a scheduled
// trigger (CronExpression set, TimeZone optional when the rule has a
// location scope).
type Trigger struct {
	Type           TriggerType `json:"type"`
	Conditions     *RuleGroup  `json:"conditions,omitempty"`
	CronExpression string      `json:"cronExpression,omitempty"`
	TimeZone       string      `json:"timeZone,omitempty"`
}

// RuleSourceFile marks rules owned by the rule file. Rules without a source
// were created through the API.
const RuleSourceFile = "file"

// AutomationRule represents a rule model
type AutomationRule struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Enabled            bool                `json:"enabled"`
	OrganizationID     string              `json:"organizationId,omitempty"`
	LocationScopeID    string              `json:"locationScopeId,omitempty"`
	Trigger            Trigger             `json:"trigger"`
	TemporalConditions []TemporalCondition `json:"temporalConditions,omitempty"`
	Actions            []Action            `json:"actions"`
	Source             string              `json:"source,omitempty"`
}

// IsScheduled reports whether the rule fires from the cron scheduler
func (r *AutomationRule) IsScheduled() bool {
	return r.Trigger.Type == TriggerScheduled
}

// Fingerprint returns a stable hash of the rule content. Two rules with the
// same fingerprint evaluate identically.
func (r *AutomationRule) Fingerprint() string {
	raw, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// TemporalType is the predicate applied to the count of matching events
type TemporalType string

const (
	TemporalEventOccurred                TemporalType = "eventOccurred"
	TemporalNoEventOccurred              TemporalType = "noEventOccurred"
	TemporalEventCountEquals             TemporalType = "eventCountEquals"
	TemporalEventCountLessThan           TemporalType = "eventCountLessThan"
	TemporalEventCountGreaterThan        TemporalType = "eventCountGreaterThan"
	TemporalEventCountLessThanOrEqual    TemporalType = "eventCountLessThanOrEqual"
	TemporalEventCountGreaterThanOrEqual TemporalType = "eventCountGreaterThanOrEqual"
)

// IsCountBased reports whether the type compares against ExpectedEventCount
func (t TemporalType) IsCountBased() bool {
	switch t {
	case TemporalEventCountEquals, TemporalEventCountLessThan, TemporalEventCountGreaterThan,
		TemporalEventCountLessThanOrEqual, TemporalEventCountGreaterThanOrEqual:
		return true
	}
	return false
}

// Scoping restricts historical events by organizational topology
type Scoping string

const (
	ScopeAnywhere     Scoping = "anywhere"
	ScopeSameArea     Scoping = "sameArea"
	ScopeSameLocation Scoping = "sameLocation"
)

// TemporalCondition is a predicate over a window of historical events
// relative to the triggering event's timestamp.
type TemporalCondition struct {
	ID                      string       `json:"id"`
	Type                    TemporalType `json:"type"`
	ExpectedEventCount      *uint        `json:"expectedEventCount,omitempty"`
	Scoping                 Scoping      `json:"scoping"`
	EventFilter             *RuleGroup   `json:"eventFilter"`
	TimeWindowSecondsBefore *int         `json:"timeWindowSecondsBefore,omitempty"`
	TimeWindowSecondsAfter  *int         `json:"timeWindowSecondsAfter,omitempty"`
}
