package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/austin-smith/fusion-bridge-sub010/internal/action"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/utils"
)

// DeviceCommand is published to devices/{id}/commands
type DeviceCommand struct {
	Command     string `json:"command"`
	State       string `json:"state,omitempty"`
	ArmMode     string `json:"armMode,omitempty"`
	RuleID      string `json:"ruleId,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

// DeviceStateExecutor switches devices on or off over MQTT
type DeviceStateExecutor struct {
	publisher Publisher
}

func (e *DeviceStateExecutor) Execute(ctx context.Context, params models.ActionParams, org action.OrgContext) action.Result {
	p, ok := params.(models.SetDeviceStateParams)
	if !ok {
		return wrongParams(models.ActionSetDeviceState, params)
	}
	if err := p.Validate(); err != nil {
		return action.Permanent(err)
	}
	payload, _ := json.Marshal(DeviceCommand{
		Command:     "setState",
		State:       string(p.TargetState),
		RuleID:      org.RuleID,
		ExecutionID: org.ExecutionID,
	})
	topic := utils.DeviceCommandTopic(p.TargetDeviceID)
	if err := e.publisher.Publish(ctx, topic, payload); err != nil {
		return action.Transient(fmt.Errorf("publish to %s: %w", topic, err))
	}
	return action.Ok(map[string]any{"deviceId": p.TargetDeviceID, "state": string(p.TargetState)})
}
