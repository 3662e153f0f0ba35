// Package executors implements the side effects of each action type.
package executors

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/austin-smith/fusion-bridge-sub010/internal/action"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// Publisher sends a command message to the device bus
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// AreaLister resolves the areas of a location
type AreaLister interface {
	ListAreaIDs(ctx context.Context, organizationID, locationID string) ([]string, error)
}

// AreaInvalidator drops cached context of every device in an area
type AreaInvalidator interface {
	InvalidateArea(ctx context.Context, areaID string) error
}

// EventWriter appends synthetic events to the event history
type EventWriter interface {
	InsertEvent(ctx context.Context, event models.StandardizedEvent, organizationID string) error
}

// BookmarkWriter stores video bookmarks
type BookmarkWriter interface {
	InsertBookmark(ctx context.Context, b models.Bookmark) error
}

// PushEnqueuer hands notifications to the delivery queue
type PushEnqueuer interface {
	EnqueuePush(ctx context.Context, n models.PushNotification) (string, error)
}

// Deps are the collaborators of the built-in executors. Nil collaborators
// leave their action types unregistered, so such actions fail permanently.
type Deps struct {
	HTTPClient *http.Client
	Publisher  Publisher
	Areas      AreaLister
	AreaCache  AreaInvalidator
	Events     EventWriter
	Bookmarks  BookmarkWriter
	Push       PushEnqueuer
	Now        func() time.Time
}

// Register adds every executor whose dependencies are present
func Register(reg *action.Registry, deps Deps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	reg.Register(models.ActionSendHTTPRequest, NewHTTPExecutor(deps.HTTPClient))
	if deps.Publisher != nil {
		reg.Register(models.ActionSetDeviceState, &DeviceStateExecutor{publisher: deps.Publisher})
		area := &AreaExecutor{publisher: deps.Publisher, areas: deps.Areas, cache: deps.AreaCache}
		reg.Register(models.ActionArmArea, area)
		reg.Register(models.ActionDisarmArea, area)
	}
	if deps.Events != nil {
		reg.Register(models.ActionCreateEvent, &CreateEventExecutor{writer: deps.Events, now: deps.Now})
	}
	if deps.Bookmarks != nil {
		reg.Register(models.ActionCreateBookmark, &BookmarkExecutor{writer: deps.Bookmarks, now: deps.Now})
	}
	if deps.Push != nil {
		reg.Register(models.ActionSendPushNotification, &PushExecutor{queue: deps.Push})
	}
}

func wrongParams(want models.ActionType, got models.ActionParams) action.Result {
	return action.Permanent(fmt.Errorf("%s executor: unexpected params %T", want, got))
}
