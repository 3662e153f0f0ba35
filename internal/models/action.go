package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ActionType is the closed set of action kinds
type ActionType string

const (
	ActionCreateEvent          ActionType = "createEvent"
	ActionCreateBookmark       ActionType = "createBookmark"
	ActionSendHTTPRequest      ActionType = "sendHttpRequest"
	ActionSetDeviceState       ActionType = "setDeviceState"
	ActionSendPushNotification ActionType = "sendPushNotification"
	ActionArmArea              ActionType = "armArea"
	ActionDisarmArea           ActionType = "disarmArea"
)

// ActionParams is implemented by one params struct per ActionType
type ActionParams interface {
	ActionType() ActionType
	// ResolveTemplates returns a copy with every string field passed through resolve.
	ResolveTemplates(resolve func(string) string) ActionParams
	Validate() error
}

// Action is one step of a rule's ordered action list
type Action struct {
	Type   ActionType
	Params ActionParams
}

// NewAction wraps params into an Action of the matching type
func NewAction(params ActionParams) Action {
	return Action{Type: params.ActionType(), Params: params}
}

type actionJSON struct {
	Type   ActionType      `json:"type"`
	Params json.RawMessage `json:"params"`
}

// MarshalJSON encodes {"type": ..., "params": {...}}
func (a Action) MarshalJSON() ([]byte, error) {
	if a.Params == nil {
		return nil, fmt.Errorf("action %s: params missing", a.Type)
	}
	params, err := json.Marshal(a.Params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(actionJSON{Type: a.Type, Params: params})
}

// UnmarshalJSON decodes the params into the struct registered for the type
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw actionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	params, err := newParams(raw.Type)
	if err != nil {
		return err
	}
	if len(raw.Params) > 0 && string(raw.Params) != "null" {
		if err := json.Unmarshal(raw.Params, params); err != nil {
			return fmt.Errorf("action %s params: %w", raw.Type, err)
		}
	}
	a.Type = raw.Type
	a.Params = derefParams(params)
	return nil
}

// newParams returns a pointer to the zero params struct for t
func newParams(t ActionType) (any, error) {
	switch t {
	case ActionCreateEvent:
		return &CreateEventParams{}, nil
	case ActionCreateBookmark:
		return &CreateBookmarkParams{}, nil
	case ActionSendHTTPRequest:
		return &SendHTTPRequestParams{}, nil
	case ActionSetDeviceState:
		return &SetDeviceStateParams{}, nil
	case ActionSendPushNotification:
		return &SendPushNotificationParams{}, nil
	case ActionArmArea:
		return &ArmAreaParams{}, nil
	case ActionDisarmArea:
		return &DisarmAreaParams{}, nil
	}
	return nil, fmt.Errorf("unknown action type %q", t)
}

func derefParams(p any) ActionParams {
	switch v := p.(type) {
	case *CreateEventParams:
		return *v
	case *CreateBookmarkParams:
		return *v
	case *SendHTTPRequestParams:
		return *v
	case *SetDeviceStateParams:
		return *v
	case *SendPushNotificationParams:
		return *v
	case *ArmAreaParams:
		return *v
	case *DisarmAreaParams:
		return *v
	}
	return nil
}

// CreateEventParams records a synthetic event in the event history
type CreateEventParams struct {
	DeviceID            string `json:"deviceId,omitempty"`
	Category            string `json:"category"`
	Type                string `json:"type"`
	Subtype             string `json:"subtype,omitempty"`
	CaptionTemplate     string `json:"captionTemplate"`
	DescriptionTemplate string `json:"descriptionTemplate,omitempty"`
}

func (CreateEventParams) ActionType() ActionType { return ActionCreateEvent }

func (p CreateEventParams) ResolveTemplates(resolve func(string) string) ActionParams {
	p.DeviceID = resolve(p.DeviceID)
	p.Category = resolve(p.Category)
	p.Type = resolve(p.Type)
	p.Subtype = resolve(p.Subtype)
	p.CaptionTemplate = resolve(p.CaptionTemplate)
	p.DescriptionTemplate = resolve(p.DescriptionTemplate)
	return p
}

func (p CreateEventParams) Validate() error {
	if p.CaptionTemplate == "" {
		return errors.New("captionTemplate is required")
	}
	return nil
}

// CreateBookmarkParams marks a span of recorded video on a device
type CreateBookmarkParams struct {
	DeviceID            string   `json:"deviceId"`
	NameTemplate        string   `json:"nameTemplate"`
	DescriptionTemplate string   `json:"descriptionTemplate,omitempty"`
	DurationMs          int64    `json:"durationMs,omitempty"`
	Tags                []string `json:"tags,omitempty"`
}

func (CreateBookmarkParams) ActionType() ActionType { return ActionCreateBookmark }

func (p CreateBookmarkParams) ResolveTemplates(resolve func(string) string) ActionParams {
	p.DeviceID = resolve(p.DeviceID)
	p.NameTemplate = resolve(p.NameTemplate)
	p.DescriptionTemplate = resolve(p.DescriptionTemplate)
	p.Tags = resolveAll(p.Tags, resolve)
	return p
}

func (p CreateBookmarkParams) Validate() error {
	if p.NameTemplate == "" {
		return errors.New("nameTemplate is required")
	}
	if p.DurationMs < 0 {
		return errors.New("durationMs must not be negative")
	}
	return nil
}

// HeaderParam is one templated HTTP header
type HeaderParam struct {
	KeyTemplate   string `json:"keyTemplate"`
	ValueTemplate string `json:"valueTemplate"`
}

// SendHTTPRequestParams calls an external webhook
type SendHTTPRequestParams struct {
	URLTemplate  string        `json:"urlTemplate"`
	Method       string        `json:"method"`
	Headers      []HeaderParam `json:"headers,omitempty"`
	ContentType  string        `json:"contentType,omitempty"`
	BodyTemplate string        `json:"bodyTemplate,omitempty"`
}

func (SendHTTPRequestParams) ActionType() ActionType { return ActionSendHTTPRequest }

func (p SendHTTPRequestParams) ResolveTemplates(resolve func(string) string) ActionParams {
	p.URLTemplate = resolve(p.URLTemplate)
	p.Method = resolve(p.Method)
	p.ContentType = resolve(p.ContentType)
	p.BodyTemplate = resolve(p.BodyTemplate)
	if p.Headers != nil {
		headers := make([]HeaderParam, len(p.Headers))
		for i, h := range p.Headers {
			headers[i] = HeaderParam{KeyTemplate: resolve(h.KeyTemplate), ValueTemplate: resolve(h.ValueTemplate)}
		}
		p.Headers = headers
	}
	return p
}

func (p SendHTTPRequestParams) Validate() error {
	if p.URLTemplate == "" {
		return errors.New("urlTemplate is required")
	}
	switch p.Method {
	case "GET", "POST", "PUT", "PATCH", "DELETE":
		return nil
	}
	return fmt.Errorf("unsupported method %q", p.Method)
}

// DeviceState is the on/off target for setDeviceState
type DeviceState string

const (
	DeviceStateOn  DeviceState = "ON"
	DeviceStateOff DeviceState = "OFF"
)

// SetDeviceStateParams switches a device on or off
type SetDeviceStateParams struct {
	TargetDeviceID string      `json:"targetDeviceId"`
	TargetState    DeviceState `json:"targetState"`
}

func (SetDeviceStateParams) ActionType() ActionType { return ActionSetDeviceState }

func (p SetDeviceStateParams) ResolveTemplates(resolve func(string) string) ActionParams {
	p.TargetDeviceID = resolve(p.TargetDeviceID)
	p.TargetState = DeviceState(resolve(string(p.TargetState)))
	return p
}

func (p SetDeviceStateParams) Validate() error {
	if p.TargetDeviceID == "" {
		return errors.New("targetDeviceId is required")
	}
	if p.TargetState != DeviceStateOn && p.TargetState != DeviceStateOff {
		return fmt.Errorf("targetState must be ON or OFF, got %q", p.TargetState)
	}
	return nil
}

// SendPushNotificationParams notifies users of the organization
type SendPushNotificationParams struct {
	TitleTemplate         string `json:"titleTemplate,omitempty"`
	MessageTemplate       string `json:"messageTemplate"`
	TargetUserKeyTemplate string `json:"targetUserKeyTemplate,omitempty"`
	Priority              int    `json:"priority,omitempty"`
}

func (SendPushNotificationParams) ActionType() ActionType { return ActionSendPushNotification }

func (p SendPushNotificationParams) ResolveTemplates(resolve func(string) string) ActionParams {
	p.TitleTemplate = resolve(p.TitleTemplate)
	p.MessageTemplate = resolve(p.MessageTemplate)
	p.TargetUserKeyTemplate = resolve(p.TargetUserKeyTemplate)
	return p
}

func (p SendPushNotificationParams) Validate() error {
	if p.MessageTemplate == "" {
		return errors.New("messageTemplate is required")
	}
	if p.Priority < -2 || p.Priority > 2 {
		return errors.New("priority must be between -2 and 2")
	}
	return nil
}

// AreaScoping selects which areas an arm/disarm action targets
type AreaScoping string

const (
	AreaScopeSpecific      AreaScoping = "SPECIFIC_AREAS"
	AreaScopeAllInLocation AreaScoping = "ALL_AREAS_IN_SCOPE"
)

// ArmMode is the requested arming mode
type ArmMode string

const (
	ArmModeAway ArmMode = "AWAY"
	ArmModeStay ArmMode = "STAY"
)

// ArmAreaParams arms one or more areas
type ArmAreaParams struct {
	Scoping       AreaScoping `json:"scoping"`
	TargetAreaIDs []string    `json:"targetAreaIds,omitempty"`
	ArmMode       ArmMode     `json:"armMode,omitempty"`
}

func (ArmAreaParams) ActionType() ActionType { return ActionArmArea }

func (p ArmAreaParams) ResolveTemplates(resolve func(string) string) ActionParams {
	p.TargetAreaIDs = resolveAll(p.TargetAreaIDs, resolve)
	p.ArmMode = ArmMode(resolve(string(p.ArmMode)))
	return p
}

func (p ArmAreaParams) Validate() error {
	if err := validateAreaScoping(p.Scoping, p.TargetAreaIDs); err != nil {
		return err
	}
	switch p.ArmMode {
	case "", ArmModeAway, ArmModeStay:
		return nil
	}
	return fmt.Errorf("unsupported armMode %q", p.ArmMode)
}

// DisarmAreaParams disarms one or more areas
type DisarmAreaParams struct {
	Scoping       AreaScoping `json:"scoping"`
	TargetAreaIDs []string    `json:"targetAreaIds,omitempty"`
}

func (DisarmAreaParams) ActionType() ActionType { return ActionDisarmArea }

func (p DisarmAreaParams) ResolveTemplates(resolve func(string) string) ActionParams {
	p.TargetAreaIDs = resolveAll(p.TargetAreaIDs, resolve)
	return p
}

func (p DisarmAreaParams) Validate() error {
	return validateAreaScoping(p.Scoping, p.TargetAreaIDs)
}

func validateAreaScoping(scoping AreaScoping, ids []string) error {
	switch scoping {
	case AreaScopeSpecific:
		if len(ids) == 0 {
			return errors.New("targetAreaIds is required for SPECIFIC_AREAS")
		}
		return nil
	case AreaScopeAllInLocation:
		return nil
	}
	return fmt.Errorf("unsupported scoping %q", scoping)
}

func resolveAll(in []string, resolve func(string) string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = resolve(s)
	}
	return out
}
