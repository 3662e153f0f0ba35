package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austin-smith/fusion-bridge-sub010/internal/action"
	"github.com/austin-smith/fusion-bridge-sub010/internal/audit"
	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/temporal"
	"github.com/austin-smith/fusion-bridge-sub010/internal/testutil"
)

type reports chan engine.ExecutionReport

func (r reports) ExecutionCompleted(report engine.ExecutionReport) { r <- report }

type fixture struct {
	engine   *engine.Engine
	store    *testutil.MemoryAuditStore
	history  *testutil.MemoryHistory
	topology *testutil.StaticTopology
	registry *action.Registry
	audit    *audit.Service
	done     reports
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    testutil.NewMemoryAuditStore(),
		history:  testutil.NewMemoryHistory(),
		topology: testutil.NewStaticTopology().AddDevice(testutil.FrontDoor).AddLocation(testutil.HQ),
		registry: action.NewRegistry(),
		done:     make(reports, 16),
	}
	f.audit = audit.NewService(f.store)
	f.engine = engine.NewEngine(engine.Deps{
		Topology: f.topology,
		Temporal: temporal.NewService(f.history, time.Second, nil),
		Pipeline: action.NewPipeline(f.registry, f.audit, action.Config{
			ActionTimeout:  time.Second,
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		}, nil),
		Audit:           f.audit,
		DefaultTimeZone: "UTC",
	})
	f.engine.AddObserver(f.done)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.engine.Shutdown(ctx)
	})
	return f
}

func (f *fixture) register(t *testing.T, rule models.AutomationRule) engine.RuleState {
	t.Helper()
	st, err := f.engine.RegisterRule(context.Background(), rule)
	require.NoError(t, err)
	return st
}

func (f *fixture) wait(t *testing.T) engine.ExecutionReport {
	t.Helper()
	select {
	case r := <-f.done:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("execution did not complete")
	}
	return engine.ExecutionReport{}
}

func armedDoorRule(id string) models.AutomationRule {
	return testutil.EventRule(id, models.All(
		models.Cond("eventType", models.OpEqual, "DOOR_OPEN"),
		models.Cond("areaState", models.OpEqual, "ARMED"),
	), testutil.PushAction("{{deviceName}} opened"))
}

// quietDoorRule matches an armed door open with no motion in the last five
// minutes, so every dispatch queries the history store.
func quietDoorRule(id string) models.AutomationRule {
	before := 300
	rule := armedDoorRule(id)
	rule.TemporalConditions = []models.TemporalCondition{{
		ID:                      "no-motion",
		Type:                    models.TemporalNoEventOccurred,
		Scoping:                 models.ScopeAnywhere,
		EventFilter:             models.All(models.Cond("eventType", models.OpEqual, "MOTION")),
		TimeWindowSecondsBefore: &before,
	}}
	return rule
}

func TestDispatchEvent_MatchesArmedDoor(t *testing.T) {
	f := newFixture(t)
	push := testutil.Script(action.Ok(map[string]any{"taskId": "t-1"}))
	f.registry.Register(models.ActionSendPushNotification, push)
	f.register(t, armedDoorRule("rule-1"))

	ids, err := f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-1", time.Now()))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	report := f.wait(t)
	assert.Equal(t, ids[0], report.ExecutionID)
	assert.Equal(t, models.ExecutionStatusSuccess, report.Status)

	summary, err := f.audit.GetExecutionSummary(context.Background(), ids[0])
	require.NoError(t, err)
	exec := summary.Execution
	assert.Equal(t, "rule-1", exec.AutomationID)
	require.NotNil(t, exec.TriggerEventID)
	assert.Equal(t, "evt-1", *exec.TriggerEventID)
	require.NotNil(t, exec.StateConditionsMet)
	assert.True(t, *exec.StateConditionsMet)
	assert.Nil(t, exec.TemporalConditionsMet)
	assert.Equal(t, "DOOR_OPEN", exec.TriggerContext["eventType"])

	require.Len(t, push.Calls(), 1)
	assert.Equal(t, "Front Door opened", push.Calls()[0].Params.(models.SendPushNotificationParams).MessageTemplate)
	org := push.Calls()[0].Org
	assert.Equal(t, "org-1", org.OrganizationID)
	assert.Equal(t, "loc-hq", org.LocationID)
	assert.Equal(t, ids[0], org.ExecutionID)
}

func TestDispatchEvent_DisarmedAreaDoesNotMatch(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(models.ActionSendPushNotification, testutil.Script())
	disarmed := testutil.FrontDoor
	disarmed.DeviceID = "dev-door-2"
	disarmed.AreaArmedState = "DISARMED"
	f.topology.AddDevice(disarmed)
	f.register(t, armedDoorRule("rule-1"))

	evt := testutil.DoorOpen("evt-2", time.Now())
	evt.DeviceID = "dev-door-2"
	ids, err := f.engine.DispatchEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, f.store.Executions("rule-1"))
}

func TestDispatchEvent_UnknownDeviceStillEvaluates(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(models.ActionSendPushNotification, testutil.Script())
	f.register(t, testutil.EventRule("rule-1", models.All(models.Cond("eventType", models.OpEqual, "DOOR_OPEN")), testutil.PushAction("x")))
	f.register(t, armedDoorRule("rule-2"))

	evt := testutil.DoorOpen("evt-1", time.Now())
	evt.DeviceID = "dev-unknown"
	ids, err := f.engine.DispatchEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Len(t, ids, 1, "only the rule that needs no topology facts matches")
	f.wait(t)
}

func TestDispatchEvent_TemporalConditions(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(models.ActionSendPushNotification, testutil.Script())
	before, after := 300, 0
	rule := armedDoorRule("rule-1")
	rule.TemporalConditions = []models.TemporalCondition{{
		ID:                      "no-motion",
		Type:                    models.TemporalNoEventOccurred,
		Scoping:                 models.ScopeSameArea,
		EventFilter:             models.All(models.Cond("eventType", models.OpEqual, "MOTION")),
		TimeWindowSecondsBefore: &before,
		TimeWindowSecondsAfter:  &after,
	}}
	f.register(t, rule)

	now := time.Now()
	ids, err := f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-1", now))
	require.NoError(t, err)
	require.Len(t, ids, 1)
	f.wait(t)
	summary, err := f.audit.GetExecutionSummary(context.Background(), ids[0])
	require.NoError(t, err)
	require.NotNil(t, summary.Execution.TemporalConditionsMet)
	assert.True(t, *summary.Execution.TemporalConditionsMet)

	f.history.Add(models.StandardizedEvent{ID: "m-1", DeviceID: "dev-pir", Type: "MOTION", Timestamp: now.Add(time.Minute)}, testutil.FrontDoor)
	ids, err = f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-2", now.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDispatchEvent_OrganizationScope(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(models.ActionSendPushNotification, testutil.Script())
	rule := armedDoorRule("rule-1")
	rule.OrganizationID = "org-2"
	f.register(t, rule)

	ids, err := f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-1", time.Now()))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDispatchEvent_PartialFailure(t *testing.T) {
	f := newFixture(t)
	first := testutil.Script(action.Ok(nil))
	failing := testutil.Script(action.Permanent(testutil.ErrPermanent))
	last := testutil.Script(action.Ok(nil))
	f.registry.Register(models.ActionSendPushNotification, first)
	f.registry.Register(models.ActionSetDeviceState, failing)
	f.registry.Register(models.ActionCreateBookmark, last)

	rule := armedDoorRule("rule-1")
	rule.Actions = []models.Action{
		testutil.PushAction("one"),
		testutil.DeviceAction("dev-siren", models.DeviceStateOn),
		models.NewAction(models.CreateBookmarkParams{NameTemplate: "three"}),
	}
	f.register(t, rule)

	_, err := f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-1", time.Now()))
	require.NoError(t, err)
	report := f.wait(t)

	assert.Equal(t, models.ExecutionStatusPartialFailure, report.Status)
	assert.Equal(t, 2, report.SuccessfulActions)
	assert.Equal(t, 1, report.FailedActions)
	assert.Len(t, last.Calls(), 1)
}

func TestRegisterRule_Validation(t *testing.T) {
	f := newFixture(t)
	rule := armedDoorRule("rule-1")
	rule.Actions = nil
	_, err := f.engine.RegisterRule(context.Background(), rule)

	var verrs models.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	_, ok := f.engine.Rule("rule-1")
	assert.False(t, ok)
}

func TestRegisterRule_ReRegistrationSwapsVersion(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(models.ActionSendPushNotification, testutil.Script())
	rule := armedDoorRule("rule-1")
	f.register(t, rule)

	ids, _ := f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-1", time.Now()))
	require.Len(t, ids, 1)
	f.wait(t)

	// identical content behaves identically after unregister and register
	assert.True(t, f.engine.UnregisterRule("rule-1"))
	f.register(t, rule)
	ids, _ = f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-2", time.Now()))
	require.Len(t, ids, 1)
	f.wait(t)

	changed := rule
	changed.Trigger.Conditions = models.All(models.Cond("eventType", models.OpEqual, "DOOR_FORCED"))
	f.register(t, changed)
	ids, _ = f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-3", time.Now()))
	assert.Empty(t, ids, "the old version no longer matches")
	assert.Len(t, f.engine.Rules(), 1)
}

func TestRegisterRule_DisabledIsRemoved(t *testing.T) {
	f := newFixture(t)
	rule := armedDoorRule("rule-1")
	f.register(t, rule)

	rule.Enabled = false
	st := f.register(t, rule)
	assert.Equal(t, engine.RuleStatusDisabled, st.Status)
	_, ok := f.engine.Rule("rule-1")
	assert.False(t, ok)
	assert.False(t, f.engine.UnregisterRule("rule-1"))
}

func TestScheduledRule_StateAndManualFire(t *testing.T) {
	f := newFixture(t)
	push := testutil.Script()
	f.registry.Register(models.ActionSendPushNotification, push)

	rule := testutil.ScheduledRule("rule-cron", "0 8 * * MON-FRI", "America/New_York", testutil.PushAction("fired at {{schedule.firedAt}}"))
	st := f.register(t, rule)
	assert.Equal(t, engine.RuleStatusActive, st.Status)
	assert.Equal(t, "America/New_York", st.TimeZone)
	require.NotNil(t, st.NextFireAt)
	ny, _ := time.LoadLocation("America/New_York")
	assert.Equal(t, 8, st.NextFireAt.In(ny).Hour())

	execID, err := f.engine.FireRule(context.Background(), "rule-cron")
	require.NoError(t, err)
	report := f.wait(t)
	assert.Equal(t, execID, report.ExecutionID)
	assert.Nil(t, report.TriggerEventID)

	summary, err := f.audit.GetExecutionSummary(context.Background(), execID)
	require.NoError(t, err)
	assert.Nil(t, summary.Execution.StateConditionsMet)
	assert.Nil(t, summary.Execution.TriggerEventID)
	require.Len(t, push.Calls(), 1)
	assert.NotEqual(t, "fired at ", push.Calls()[0].Params.(models.SendPushNotificationParams).MessageTemplate)
}

func TestScheduledRule_LocationTimeZone(t *testing.T) {
	f := newFixture(t)
	rule := testutil.ScheduledRule("rule-cron", "@daily", "", testutil.PushAction("x"))
	rule.LocationScopeID = "loc-hq"
	st := f.register(t, rule)
	assert.Equal(t, engine.RuleStatusActive, st.Status)
	assert.Equal(t, "America/New_York", st.TimeZone)
}

func TestScheduledRule_ResolutionErrorKeepsRuleInErrorState(t *testing.T) {
	f := newFixture(t)
	rule := testutil.ScheduledRule("rule-bad-tz", "0 8 * * *", "Mars/Olympus", testutil.PushAction("x"))
	st, err := f.engine.RegisterRule(context.Background(), rule)
	require.NoError(t, err)
	assert.Equal(t, engine.RuleStatusError, st.Status)
	assert.Contains(t, st.LastError, "timezone")
	assert.Nil(t, st.NextFireAt)

	_, err = f.engine.FireRule(context.Background(), "rule-bad-tz")
	assert.ErrorIs(t, err, engine.ErrRuleInactive)
}

func TestFireRule_Errors(t *testing.T) {
	f := newFixture(t)
	f.register(t, armedDoorRule("rule-event"))

	_, err := f.engine.FireRule(context.Background(), "missing")
	assert.ErrorIs(t, err, engine.ErrRuleNotFound)
	_, err = f.engine.FireRule(context.Background(), "rule-event")
	assert.ErrorIs(t, err, engine.ErrNotScheduled)
}

func TestSyncRules(t *testing.T) {
	f := newFixture(t)
	keep := armedDoorRule("rule-keep")
	change := armedDoorRule("rule-change")
	remove := armedDoorRule("rule-remove")
	broken := armedDoorRule("rule-broken")
	for _, r := range []models.AutomationRule{keep, change, remove, broken} {
		f.register(t, r)
	}

	change.Name = "renamed"
	added := armedDoorRule("rule-new")
	invalid := armedDoorRule("rule-invalid")
	invalid.Actions = nil
	broken.Actions = nil

	report := f.engine.SyncRules(context.Background(), []models.AutomationRule{keep, change, added, invalid, broken})
	assert.ElementsMatch(t, []string{"rule-change", "rule-new"}, report.Registered)
	assert.ElementsMatch(t, []string{"rule-remove", "rule-broken"}, report.Removed)
	assert.Equal(t, 1, report.Unchanged)
	assert.Contains(t, report.Invalid, "rule-invalid")
	assert.Contains(t, report.Invalid, "rule-broken")

	var ids []string
	for _, st := range f.engine.Rules() {
		ids = append(ids, st.Rule.ID)
	}
	assert.Equal(t, []string{"rule-change", "rule-keep", "rule-new"}, ids)

	f.registry.Register(models.ActionSendPushNotification, testutil.Script())
	ids, err := f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-1", time.Now()))
	require.NoError(t, err)
	assert.Len(t, ids, 3, "the rejected edit leaves nothing of the old version armed")
	for range ids {
		f.wait(t)
	}
}

func TestShutdown_SkipsActionsNotStarted(t *testing.T) {
	f := newFixture(t)
	slow := testutil.Script(action.Ok(nil))
	slow.Delay = 10 * time.Second
	f.registry.Register(models.ActionSendHTTPRequest, slow)
	f.registry.Register(models.ActionSendPushNotification, testutil.Script())

	rule := armedDoorRule("rule-1")
	rule.Actions = []models.Action{testutil.HTTPAction("https://hooks.example.com/slow"), testutil.PushAction("after")}
	f.register(t, rule)

	ids, err := f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-1", time.Now()))
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Eventually(t, func() bool { return len(slow.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.engine.Shutdown(ctx), context.DeadlineExceeded)

	report := f.wait(t)
	assert.Equal(t, models.ExecutionStatusFailure, report.Status)
	assert.Equal(t, 2, report.FailedActions)

	summary, err := f.audit.GetExecutionSummary(context.Background(), ids[0])
	require.NoError(t, err)
	require.Len(t, summary.Actions, 2)
	assert.Equal(t, models.ActionStatusFailure, summary.Actions[0].Status)
	assert.Equal(t, models.ActionStatusSkipped, summary.Actions[1].Status)
	assert.True(t, f.store.Completed(ids[0]))

	_, err = f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-2", time.Now()))
	assert.ErrorIs(t, err, engine.ErrShuttingDown)
}

type dispatchResult struct {
	ids []string
	err error
}

func TestShutdown_WaitsForDispatchInEvaluation(t *testing.T) {
	f := newFixture(t)
	push := testutil.Script()
	f.registry.Register(models.ActionSendPushNotification, push)
	f.register(t, quietDoorRule("rule-1"))
	f.history.Block = make(chan struct{})

	dispatched := make(chan dispatchResult, 1)
	go func() {
		ids, err := f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-1", time.Now()))
		dispatched <- dispatchResult{ids, err}
	}()
	require.Eventually(t, func() bool { return len(f.history.Queries()) == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopped <- f.engine.Shutdown(ctx)
	}()
	select {
	case err := <-stopped:
		t.Fatalf("shutdown returned %v while a dispatch was evaluating", err)
	case <-time.After(100 * time.Millisecond):
	}

	_, err := f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-2", time.Now()))
	assert.ErrorIs(t, err, engine.ErrShuttingDown)

	close(f.history.Block)
	res := <-dispatched
	require.NoError(t, res.err)
	require.Len(t, res.ids, 1)
	require.NoError(t, <-stopped)

	report := f.wait(t)
	assert.Equal(t, models.ExecutionStatusSuccess, report.Status)
	assert.Len(t, push.Calls(), 1)
	assert.True(t, f.store.Completed(res.ids[0]))
}

func TestShutdown_DeadlineCancelsDispatchInEvaluation(t *testing.T) {
	f := newFixture(t)
	push := testutil.Script()
	f.registry.Register(models.ActionSendPushNotification, push)
	f.register(t, quietDoorRule("rule-1"))
	f.history.Block = make(chan struct{})

	dispatched := make(chan dispatchResult, 1)
	go func() {
		ids, err := f.engine.DispatchEvent(context.Background(), testutil.DoorOpen("evt-1", time.Now()))
		dispatched <- dispatchResult{ids, err}
	}()
	require.Eventually(t, func() bool { return len(f.history.Queries()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.engine.Shutdown(ctx), context.DeadlineExceeded)

	res := <-dispatched
	require.NoError(t, res.err)
	assert.Empty(t, res.ids, "no execution starts after the deadline")
	assert.Empty(t, push.Calls())
}

func TestDispatchEvent_ConcurrentWithRuleEdits(t *testing.T) {
	f := newFixture(t)
	push := testutil.Script()
	f.registry.Register(models.ActionSendPushNotification, push)
	go func() {
		for range f.done {
		}
	}()

	// two versions of one rule, told apart by action count and message
	v1 := armedDoorRule("rule-1")
	v1.Actions = []models.Action{testutil.PushAction("v1")}
	v2 := armedDoorRule("rule-1")
	v2.Actions = []models.Action{testutil.PushAction("v2"), testutil.PushAction("v2")}
	f.register(t, v1)

	const producers, events = 8, 25
	var (
		mu  sync.Mutex
		ids []string
		wg  sync.WaitGroup
	)
	stop := make(chan struct{})
	editorDone := make(chan struct{})
	go func() {
		defer close(editorDone)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			switch i % 3 {
			case 0:
				_, _ = f.engine.RegisterRule(context.Background(), v2)
			case 1:
				f.engine.UnregisterRule("rule-1")
			default:
				_, _ = f.engine.RegisterRule(context.Background(), v1)
			}
		}
	}()

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < events; i++ {
				got, err := f.engine.DispatchEvent(context.Background(), testutil.DoorOpen(fmt.Sprintf("evt-%d-%d", p, i), time.Now()))
				assert.NoError(t, err)
				mu.Lock()
				ids = append(ids, got...)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	close(stop)
	<-editorDone
	f.engine.Wait()

	require.NotEmpty(t, ids)
	for _, id := range ids {
		assert.True(t, f.store.Completed(id), id)
		summary, err := f.audit.GetExecutionSummary(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusSuccess, summary.Execution.ExecutionStatus)

		var params map[string]any
		require.NotEmpty(t, summary.Actions)
		require.NoError(t, json.Unmarshal(summary.Actions[0].ActionParams, &params))
		version := params["messageTemplate"]
		want := map[any]int{"v1": 1, "v2": 2}[version]
		require.NotZero(t, want, "unexpected version %v", version)
		assert.Equal(t, want, summary.Execution.TotalActions)
		assert.Len(t, summary.Actions, want)
		for _, a := range summary.Actions {
			require.NoError(t, json.Unmarshal(a.ActionParams, &params))
			assert.Equal(t, version, params["messageTemplate"])
		}
	}
}
