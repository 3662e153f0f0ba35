// Package temporal evaluates conditions over windows of historical events.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/automation"
	"github.com/austin-smith/fusion-bridge-sub010/internal/facts"
	"github.com/austin-smith/fusion-bridge-sub010/internal/metrics"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// ErrScopeUnresolved is returned when a scoped condition's anchor device has
// no area or location.
var ErrScopeUnresolved = errors.New("temporal: anchor scope unresolved")

// ErrWindowTooLarge is returned when a window holds more candidate events
// than the service will count.
var ErrWindowTooLarge = errors.New("temporal: too many events in window")

// DefaultMaxEvents bounds the candidates of one query
const DefaultMaxEvents = 10000

// Query selects historical events. Nil bounds are unbounded. Empty topology
// ids mean no filter on that level.
type Query struct {
	From           *time.Time
	To             *time.Time
	OrganizationID string
	AreaID         string
	LocationID     string
	ExcludeEventID string
	// Limit caps the returned events, oldest first. Zero means no cap.
	Limit int
}

// HistoryStore is the event-history collaborator
type HistoryStore interface {
	QueryEvents(ctx context.Context, q Query) ([]models.HistoricalEvent, error)
}

// Anchor is the triggering event and its device context
type Anchor struct {
	Event  models.StandardizedEvent
	Device models.DeviceContext
}

// Service checks temporal conditions against the history store
type Service struct {
	store     HistoryStore
	timeout   time.Duration
	maxEvents int
	metrics   metrics.Sink
	logger    zerolog.Logger
}

// NewService creates a temporal service. timeout bounds each history query;
// zero disables the bound.
func NewService(store HistoryStore, timeout time.Duration, sink metrics.Sink) *Service {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Service{
		store:     store,
		timeout:   timeout,
		maxEvents: DefaultMaxEvents,
		metrics:   sink,
		logger:    log.With().Str("component", "temporal").Logger(),
	}
}

// SetMaxEvents changes the candidate bound. Windows holding more events fail
// with ErrWindowTooLarge instead of being counted short. Zero removes the bound.
func (s *Service) SetMaxEvents(n int) {
	s.maxEvents = n
}

// Window returns the query bounds of cond around the anchor time. A nil
// bound is unbounded in that direction; when both are nil the window
// degenerates to the anchor instant.
func Window(cond models.TemporalCondition, anchor time.Time) (from, to *time.Time) {
	if cond.TimeWindowSecondsBefore == nil && cond.TimeWindowSecondsAfter == nil {
		at := anchor
		return &at, &at
	}
	if cond.TimeWindowSecondsBefore != nil {
		f := anchor.Add(-time.Duration(*cond.TimeWindowSecondsBefore) * time.Second)
		from = &f
	}
	if cond.TimeWindowSecondsAfter != nil {
		t := anchor.Add(time.Duration(*cond.TimeWindowSecondsAfter) * time.Second)
		to = &t
	}
	return from, to
}

// BuildQuery computes the window and scope filter for cond
func BuildQuery(cond models.TemporalCondition, anchor Anchor) (Query, error) {
	from, to := Window(cond, anchor.Event.Timestamp)
	q := Query{
		From:           from,
		To:             to,
		OrganizationID: anchor.Device.OrganizationID,
		ExcludeEventID: anchor.Event.ID,
	}
	switch cond.Scoping {
	case models.ScopeAnywhere, "":
	case models.ScopeSameArea:
		if anchor.Device.AreaID == "" {
			return q, fmt.Errorf("%w: device %s has no area", ErrScopeUnresolved, anchor.Event.DeviceID)
		}
		q.AreaID = anchor.Device.AreaID
	case models.ScopeSameLocation:
		if anchor.Device.LocationID == "" {
			return q, fmt.Errorf("%w: device %s has no location", ErrScopeUnresolved, anchor.Event.DeviceID)
		}
		q.LocationID = anchor.Device.LocationID
	default:
		return q, fmt.Errorf("temporal: unknown scoping %q", cond.Scoping)
	}
	return q, nil
}

// Check reports whether cond holds for the anchor. Any error means the
// condition is not met.
func (s *Service) Check(ctx context.Context, cond models.TemporalCondition, anchor Anchor) (bool, error) {
	q, err := BuildQuery(cond, anchor)
	if err != nil {
		return false, err
	}

	qctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.maxEvents > 0 {
		q.Limit = s.maxEvents + 1
	}
	started := time.Now()
	candidates, err := s.store.QueryEvents(qctx, q)
	if err == nil && s.maxEvents > 0 && len(candidates) > s.maxEvents {
		err = fmt.Errorf("%w: more than %d", ErrWindowTooLarge, s.maxEvents)
	}
	if err != nil {
		s.metrics.TemporalQuery(metrics.OutcomeError, time.Since(started))
		return false, fmt.Errorf("temporal: query history for condition %s: %w", cond.ID, err)
	}
	s.metrics.TemporalQuery(metrics.OutcomeSuccess, time.Since(started))

	n := 0
	for _, candidate := range candidates {
		if automation.Evaluate(cond.EventFilter, facts.Resolve(candidate.Event, candidate.Device)) {
			n++
		}
	}
	return Predicate(cond, n), nil
}

// CheckAll ANDs conds, stopping at the first unmet condition. Failures are
// logged and count as unmet.
func (s *Service) CheckAll(ctx context.Context, conds []models.TemporalCondition, anchor Anchor) bool {
	for _, cond := range conds {
		met, err := s.Check(ctx, cond, anchor)
		if err != nil {
			s.logger.Error().Err(err).
				Str("condition_id", cond.ID).
				Str("event_id", anchor.Event.ID).
				Msg("temporal condition could not be evaluated")
			return false
		}
		if !met {
			s.logger.Debug().Str("condition_id", cond.ID).Str("event_id", anchor.Event.ID).Msg("temporal condition not met")
			return false
		}
	}
	return true
}

// Predicate applies the condition type to a matching-event count
func Predicate(cond models.TemporalCondition, n int) bool {
	var expected int
	if cond.ExpectedEventCount != nil {
		expected = int(*cond.ExpectedEventCount)
	}
	switch cond.Type {
	case models.TemporalEventOccurred:
		return n >= 1
	case models.TemporalNoEventOccurred:
		return n == 0
	case models.TemporalEventCountEquals:
		return n == expected
	case models.TemporalEventCountLessThan:
		return n < expected
	case models.TemporalEventCountGreaterThan:
		return n > expected
	case models.TemporalEventCountLessThanOrEqual:
		return n <= expected
	case models.TemporalEventCountGreaterThanOrEqual:
		return n >= expected
	}
	return false
}
