package models

import "time"

// StandardizedEvent is the vendor-neutral event delivered by the event source
type StandardizedEvent struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"deviceId"`
	Timestamp time.Time      `json:"timestamp"`
	Category  string         `json:"category"`
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// DeviceContext is the denormalized topology of a device
type DeviceContext struct {
	DeviceID         string `json:"deviceId"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Vendor           string `json:"vendor,omitempty"`
	AreaID           string `json:"areaId,omitempty"`
	AreaName         string `json:"areaName,omitempty"`
	AreaArmedState   string `json:"areaArmedState,omitempty"`
	LocationID       string `json:"locationId,omitempty"`
	LocationName     string `json:"locationName,omitempty"`
	LocationTimeZone string `json:"locationTimeZone,omitempty"`
	OrganizationID   string `json:"organizationId,omitempty"`
}

// Location is the subset of location data the engine needs
type Location struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	TimeZone       string `json:"timeZone"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// HistoricalEvent pairs a stored event with its device context
type HistoricalEvent struct {
	Event  StandardizedEvent
	Device DeviceContext
}

// Bookmark marks a span of recorded video on a device
type Bookmark struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"deviceId"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	StartTime      time.Time `json:"startTime"`
	DurationMs     int64     `json:"durationMs"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedByRule  string    `json:"createdByRule,omitempty"`
}

// PushNotification is a queued notification for the users of an organization
type PushNotification struct {
	OrganizationID string `json:"organizationId,omitempty"`
	Title          string `json:"title,omitempty"`
	Message        string `json:"message"`
	TargetUserKey  string `json:"targetUserKey,omitempty"`
	Priority       int    `json:"priority"`
	RuleID         string `json:"ruleId,omitempty"`
	ExecutionID    string `json:"executionId,omitempty"`
}
