package rulefile_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/rulefile"
	"github.com/austin-smith/fusion-bridge-sub010/internal/testutil"
)

const doorRules = `
rules:
  - id: door-alarm
    name: Door alarm
    enabled: true
    trigger:
      type: event
      conditions:
        all:
          - fact: eventType
            operator: equal
            value: DOOR_OPEN
          - any:
              - fact: areaState
                operator: in
                value: [ARMED_AWAY, ARMED_STAY]
    actions:
      - type: sendPushNotification
        params:
          messageTemplate: "{{deviceName}} opened"
  - id: nightly-arm
    name: Nightly arm
    enabled: true
    locationScopeId: loc-hq
    trigger:
      type: scheduled
      cronExpression: "0 22 * * *"
    actions:
      - type: armArea
        params:
          scoping: ALL_AREAS_IN_SCOPE
`

type recordingSyncer struct {
	mu    sync.Mutex
	calls [][]models.AutomationRule
}

func (s *recordingSyncer) SyncRules(_ context.Context, rules []models.AutomationRule) engine.SyncReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rules)
	return engine.SyncReport{}
}

func (s *recordingSyncer) last() []models.AutomationRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1]
}

func ids(rules []models.AutomationRule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ID)
	}
	return out
}

func TestParse(t *testing.T) {
	rules, err := rulefile.Parse([]byte(doorRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	door := rules[0]
	assert.Equal(t, models.TriggerEvent, door.Trigger.Type)
	require.NotNil(t, door.Trigger.Conditions)
	assert.Equal(t, models.CombinatorAll, door.Trigger.Conditions.Combinator)
	require.Len(t, door.Trigger.Conditions.Children, 2)
	_, nested := door.Trigger.Conditions.Children[1].(*models.RuleGroup)
	assert.True(t, nested)
	require.Len(t, door.Actions, 1)
	assert.Equal(t, models.SendPushNotificationParams{MessageTemplate: "{{deviceName}} opened"}, door.Actions[0].Params)
	assert.NoError(t, door.Validate())

	assert.True(t, rules[1].IsScheduled())
	assert.Equal(t, "0 22 * * *", rules[1].Trigger.CronExpression)
}

func TestParse_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"yaml":         "rules: [",
		"missing id":   "rules:\n  - name: x\n",
		"duplicate id": "rules:\n  - id: a\n  - id: a\n",
		"bad action":   "rules:\n  - id: a\n    actions:\n      - type: launchRocket\n",
	} {
		_, err := rulefile.Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoader_AppliesAndRemovesFileRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doorRules), 0o644))

	apiRule := testutil.EventRule("api-rule", models.All(models.Cond("eventType", models.OpEqual, "MOTION")), testutil.PushAction("x"))
	store := testutil.NewMemoryRuleStore(apiRule)
	syncer := &recordingSyncer{}
	loader := rulefile.NewLoader(path, store, syncer)

	_, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"api-rule", "door-alarm", "nightly-arm"}, ids(syncer.last()))

	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o644))
	_, err = loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"api-rule"}, ids(syncer.last()), "rules removed from the file are deleted, API rules kept")
}

func TestLoader_RemovedWhileStoppedIsDeleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doorRules), 0o644))

	apiRule := testutil.EventRule("api-rule", models.All(models.Cond("eventType", models.OpEqual, "MOTION")), testutil.PushAction("x"))
	store := testutil.NewMemoryRuleStore(apiRule)
	_, err := rulefile.NewLoader(path, store, &recordingSyncer{}).Load(context.Background())
	require.NoError(t, err)
	stored, err := store.GetRule(context.Background(), "door-alarm")
	require.NoError(t, err)
	assert.Equal(t, models.RuleSourceFile, stored.Source)

	// a new process sees only what the store remembers
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o644))
	syncer := &recordingSyncer{}
	_, err = rulefile.NewLoader(path, store, syncer).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"api-rule"}, ids(syncer.last()))
}

func TestLoader_InvalidEditKeepsStoredRule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doorRules), 0o644))
	store := testutil.NewMemoryRuleStore()
	syncer := &recordingSyncer{}
	loader := rulefile.NewLoader(path, store, syncer)
	_, err := loader.Load(context.Background())
	require.NoError(t, err)

	edited := `
rules:
  - id: door-alarm
    name: Door alarm
    enabled: true
    trigger:
      type: event
      conditions:
        all:
          - fact: eventType
            operator: equal
            value: DOOR_FORCED
    actions: []
`
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
	report, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.Invalid, "door-alarm")

	stored, err := store.GetRule(context.Background(), "door-alarm")
	require.NoError(t, err)
	assert.Len(t, stored.Actions, 1, "the stored version is not replaced")
	assert.Equal(t, []string{"door-alarm"}, ids(syncer.last()), "nightly-arm was removed from the file")
}

func TestLoader_BadFileKeepsStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doorRules), 0o644))
	store := testutil.NewMemoryRuleStore()
	loader := rulefile.NewLoader(path, store, &recordingSyncer{})
	_, err := loader.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o644))
	_, err = loader.Load(context.Background())
	require.Error(t, err)
	rules, _ := store.ListRules(context.Background())
	assert.Len(t, rules, 2)
}

func TestLoader_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o644))

	syncer := &recordingSyncer{}
	loader := rulefile.NewLoader(path, testutil.NewMemoryRuleStore(), syncer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, loader.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte(doorRules), 0o644))
	require.Eventually(t, func() bool {
		return len(syncer.last()) == 2
	}, 5*time.Second, 20*time.Millisecond)
}
