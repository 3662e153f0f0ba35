package executors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/action"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/utils"
)

// AreaExecutor arms and disarms areas over MQTT. The cached context of the
// targeted areas is dropped after each command so later events read the
// new armed state.
type AreaExecutor struct {
	publisher Publisher
	areas     AreaLister
	cache     AreaInvalidator
}

func (e *AreaExecutor) Execute(ctx context.Context, params models.ActionParams, org action.OrgContext) action.Result {
	var (
		scoping models.AreaScoping
		ids     []string
		cmd     DeviceCommand
	)
	switch p := params.(type) {
	case models.ArmAreaParams:
		mode := p.ArmMode
		if mode == "" {
			mode = models.ArmModeAway
		}
		scoping, ids = p.Scoping, p.TargetAreaIDs
		cmd = DeviceCommand{Command: "arm", ArmMode: string(mode)}
	case models.DisarmAreaParams:
		scoping, ids = p.Scoping, p.TargetAreaIDs
		cmd = DeviceCommand{Command: "disarm"}
	default:
		return action.Permanent(fmt.Errorf("area executor: unexpected params %T", params))
	}
	cmd.RuleID, cmd.ExecutionID = org.RuleID, org.ExecutionID

	if scoping == models.AreaScopeAllInLocation {
		if e.areas == nil {
			return action.Permanent(errors.New("area lookup is not configured"))
		}
		if org.LocationID == "" {
			return action.Permanent(errors.New("rule has no location in scope"))
		}
		var err error
		ids, err = e.areas.ListAreaIDs(ctx, org.OrganizationID, org.LocationID)
		if err != nil {
			return action.Transient(fmt.Errorf("list areas of location %s: %w", org.LocationID, err))
		}
	}
	if len(ids) == 0 {
		return action.Permanent(errors.New("no target areas"))
	}

	payload, _ := json.Marshal(cmd)
	var errs []error
	for _, id := range ids {
		topic := utils.AreaCommandTopic(id)
		if err := e.publisher.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", topic, err))
		}
	}
	if len(errs) > 0 {
		// arm/disarm commands are idempotent, so the whole set is resent on retry
		return action.Transient(errors.Join(errs...))
	}
	if e.cache != nil {
		for _, id := range ids {
			if err := e.cache.InvalidateArea(ctx, id); err != nil {
				log.Warn().Err(err).Str("area_id", id).Str("rule_id", org.RuleID).Msg("area context invalidation failed")
			}
		}
	}

	areaIDs := make([]any, len(ids))
	for i, id := range ids {
		areaIDs[i] = id
	}
	return action.Ok(map[string]any{"command": cmd.Command, "areaIds": areaIDs})
}
