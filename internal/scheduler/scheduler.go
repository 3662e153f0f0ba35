package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ResolutionError reports a cron expression or timezone that cannot be
// turned into a schedule. Rules with this error never fire.
type ResolutionError struct {
	RuleID string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("schedule resolution: %v", e.Err)
	}
	return fmt.Sprintf("schedule resolution for rule %s: %v", e.RuleID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a 5-field cron expression (or @descriptor) evaluated
// in the IANA timezone tz.
func ParseSchedule(expression, tz string) (cron.Schedule, error) {
	expr := strings.TrimSpace(expression)
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, &ResolutionError{Err: fmt.Errorf("timezone must not be embedded in %q", expression)}
	}
	if tz == "" {
		return nil, &ResolutionError{Err: fmt.Errorf("no timezone for %q", expression)}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &ResolutionError{Err: fmt.Errorf("load timezone: %w", err)}
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, &ResolutionError{Err: fmt.Errorf("parse cron: %w", err)}
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}
	return sched, nil
}

type job struct {
	entryID  cron.EntryID
	schedule cron.Schedule
}

// Scheduler manages time-based triggers, one cron entry per rule
type Scheduler struct {
	cron      *cron.Cron
	jobMap    map[string]job // Maps rule ID to its cron entry
	jobMapMux sync.RWMutex   // Protects jobMap
	logger    zerolog.Logger
}

// NewScheduler creates a scheduler
func NewScheduler() *Scheduler {
	logger := log.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{logger}))),
		jobMap: make(map[string]job),
		logger: logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("cron scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("cron scheduler stopped")
}

// Schedule arms fn for ruleID, replacing any previous entry of that rule
func (s *Scheduler) Schedule(ruleID string, sched cron.Schedule, fn func()) {
	s.jobMapMux.Lock()
	defer s.jobMapMux.Unlock()

	if existing, ok := s.jobMap[ruleID]; ok {
		s.cron.Remove(existing.entryID)
	}
	entryID := s.cron.Schedule(sched, cron.FuncJob(fn))
	s.jobMap[ruleID] = job{entryID: entryID, schedule: sched}
	s.logger.Info().Str("rule_id", ruleID).Int("entry_id", int(entryID)).Msg("scheduled rule")
}

// Remove cancels the pending fire of ruleID. A fire already running
// completes normally.
func (s *Scheduler) Remove(ruleID string) {
	s.jobMapMux.Lock()
	defer s.jobMapMux.Unlock()

	if existing, exists := s.jobMap[ruleID]; exists {
		s.cron.Remove(existing.entryID)
		delete(s.jobMap, ruleID)
		s.logger.Info().Str("rule_id", ruleID).Int("entry_id", int(existing.entryID)).Msg("removed schedule")
	}
}

// NextFire returns the next fire instant of ruleID
func (s *Scheduler) NextFire(ruleID string) (time.Time, bool) {
	s.jobMapMux.RLock()
	defer s.jobMapMux.RUnlock()

	j, ok := s.jobMap[ruleID]
	if !ok {
		return time.Time{}, false
	}
	if next := s.cron.Entry(j.entryID).Next; !next.IsZero() {
		return next, true
	}
	return j.schedule.Next(time.Now()), true
}

// JobCount returns the number of currently scheduled rules
func (s *Scheduler) JobCount() int {
	s.jobMapMux.RLock()
	defer s.jobMapMux.RUnlock()
	return len(s.jobMap)
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
