package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/austin-smith/fusion-bridge-sub010/internal/action"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// FrontDoor is a door sensor in the armed hallway of the main office
var FrontDoor = models.DeviceContext{
	DeviceID:         "dev-door-1",
	Name:             "Front Door",
	Type:             "DoorSensor",
	Vendor:           "genea",
	AreaID:           "area-hall",
	AreaName:         "Hallway",
	AreaArmedState:   "ARMED",
	LocationID:       "loc-hq",
	LocationName:     "HQ",
	LocationTimeZone: "America/New_York",
	OrganizationID:   "org-1",
}

// HQ is the location of FrontDoor
var HQ = models.Location{ID: "loc-hq", Name: "HQ", TimeZone: "America/New_York", OrganizationID: "org-1"}

// DoorOpen returns a DOOR_OPEN event from FrontDoor at ts
func DoorOpen(id string, ts time.Time) models.StandardizedEvent {
	return models.StandardizedEvent{
		ID:        id,
		DeviceID:  FrontDoor.DeviceID,
		Timestamp: ts,
		Category:  "ACCESS_CONTROL",
		Type:      "DOOR_OPEN",
		Payload:   map[string]any{"doorState": "open"},
	}
}

// EventRule builds an enabled event-triggered rule
func EventRule(id string, conditions *models.RuleGroup, actions ...models.Action) models.AutomationRule {
	return models.AutomationRule{
		ID:      id,
		Name:    "rule " + id,
		Enabled: true,
		Trigger: models.Trigger{Type: models.TriggerEvent, Conditions: conditions},
		Actions: actions,
	}
}

// ScheduledRule builds an enabled scheduled rule with an explicit timezone
func ScheduledRule(id, cronExpr, tz string, actions ...models.Action) models.AutomationRule {
	return models.AutomationRule{
		ID:      id,
		Name:    "rule " + id,
		Enabled: true,
		Trigger: models.Trigger{Type: models.TriggerScheduled, CronExpression: cronExpr, TimeZone: tz},
		Actions: actions,
	}
}

// HTTPAction is a sendHttpRequest action against url
func HTTPAction(url string) models.Action {
	return models.NewAction(models.SendHTTPRequestParams{URLTemplate: url, Method: "POST"})
}

// DeviceAction is a setDeviceState action
func DeviceAction(deviceID string, state models.DeviceState) models.Action {
	return models.NewAction(models.SetDeviceStateParams{TargetDeviceID: deviceID, TargetState: state})
}

// PushAction is a sendPushNotification action
func PushAction(message string) models.Action {
	return models.NewAction(models.SendPushNotificationParams{MessageTemplate: message})
}

// ErrTransient and ErrPermanent are returned by ScriptedExecutor results
var (
	ErrTransient = errors.New("temporarily unavailable")
	ErrPermanent = errors.New("rejected")
)

// Call is one recorded executor invocation
type Call struct {
	Params models.ActionParams
	Org    action.OrgContext
}

// ScriptedExecutor returns the scripted results in order, repeating the
// last one, and records every call.
type ScriptedExecutor struct {
	mu      sync.Mutex
	results []action.Result
	calls   []Call
	// Delay is slept before returning, honouring ctx
	Delay time.Duration
}

func Script(results ...action.Result) *ScriptedExecutor {
	if len(results) == 0 {
		results = []action.Result{action.Ok(nil)}
	}
	return &ScriptedExecutor{results: results}
}

func (s *ScriptedExecutor) Execute(ctx context.Context, params models.ActionParams, org action.OrgContext) action.Result {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, Call{Params: params, Org: org})
	res := s.results[min(n, len(s.results)-1)]
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return action.Transient(ctx.Err())
		}
	}
	return res
}

func (s *ScriptedExecutor) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
