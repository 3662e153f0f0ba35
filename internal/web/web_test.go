package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austin-smith/fusion-bridge-sub010/internal/action"
	"github.com/austin-smith/fusion-bridge-sub010/internal/audit"
	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/metrics"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/temporal"
	"github.com/austin-smith/fusion-bridge-sub010/internal/testutil"
	"github.com/austin-smith/fusion-bridge-sub010/internal/web"
	webModels "github.com/austin-smith/fusion-bridge-sub010/internal/web/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/web/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const secret = "test-secret"

type server struct {
	handler http.Handler
	rules   *testutil.MemoryRuleStore
	engine  *engine.Engine
	audit   *audit.Service
	push    *testutil.ScriptedExecutor
	hub     *stream.Hub
}

func newServer(t *testing.T, jwtSecret string) *server {
	t.Helper()
	s := &server{
		rules: testutil.NewMemoryRuleStore(),
		push:  testutil.Script(action.Ok(nil)),
		hub:   stream.NewHub(),
	}
	registry := action.NewRegistry()
	registry.Register(models.ActionSendPushNotification, s.push)
	s.audit = audit.NewService(testutil.NewMemoryAuditStore())
	promReg := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(promReg)
	topology := testutil.NewStaticTopology().AddDevice(testutil.FrontDoor).AddLocation(testutil.HQ)
	s.engine = engine.NewEngine(engine.Deps{
		Topology:        topology,
		Temporal:        temporal.NewService(testutil.NewMemoryHistory(), time.Second, sink),
		Pipeline:        action.NewPipeline(registry, s.audit, action.Config{ActionTimeout: time.Second, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, sink),
		Audit:           s.audit,
		Metrics:         sink,
		DefaultTimeZone: "UTC",
	})
	s.engine.AddObserver(s.hub)
	t.Cleanup(func() {
		s.hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.engine.Shutdown(ctx)
	})

	s.handler = web.NewWebServer(web.Deps{
		Rules:      s.rules,
		Engine:     s.engine,
		Executions: s.audit,
		Events: func(ctx context.Context, event models.StandardizedEvent) (bool, error) {
			_, err := s.engine.DispatchEvent(ctx, event)
			return false, err
		},
		Stream:    s.hub,
		Topology:  topology,
		JWTSecret: jwtSecret,
		Gatherer:  promReg,
	}).Handler()
	return s
}

func (s *server) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func doorRule(id string) models.AutomationRule {
	return testutil.EventRule(id, models.All(models.Cond("eventType", models.OpEqual, "DOOR_OPEN")), testutil.PushAction("{{deviceName}} opened"))
}

func TestRuleCRUD(t *testing.T) {
	s := newServer(t, "")

	rec := s.do(t, http.MethodPost, "/automations/rules", doorRule("door"), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[webModels.RuleResponse](t, rec)
	assert.Equal(t, "door", created.ID)
	assert.Equal(t, engine.RuleStatusActive, created.Status)
	_, registered := s.engine.Rule("door")
	assert.True(t, registered)

	rec = s.do(t, http.MethodPost, "/automations/rules", doorRule("door"), "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	disabled := doorRule("door")
	disabled.Enabled = false
	rec = s.do(t, http.MethodPut, "/automations/rules/door", disabled, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, engine.RuleStatusDisabled, decode[webModels.RuleResponse](t, rec).Status)
	_, registered = s.engine.Rule("door")
	assert.False(t, registered)

	rec = s.do(t, http.MethodGet, "/automations/rules", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]webModels.RuleResponse](t, rec), 1)

	rec = s.do(t, http.MethodDelete, "/automations/rules/door", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/automations/rules/door", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPut, "/automations/rules/door", doorRule("door"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRule_GeneratesID(t *testing.T) {
	s := newServer(t, "")
	rec := s.do(t, http.MethodPost, "/automations/rules", doorRule(""), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[webModels.RuleResponse](t, rec).ID)
}

func TestCreateRule_ValidationErrors(t *testing.T) {
	s := newServer(t, "")
	bad := doorRule("bad")
	bad.Trigger.Conditions = models.All(models.Cond("eventType", "like", "DOOR"))
	rec := s.do(t, http.MethodPost, "/automations/rules", bad, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[webModels.ErrorResponse](t, rec)
	require.NotEmpty(t, resp.Fields)
	assert.Contains(t, resp.Fields[0].Field, "operator")

	rules, _ := s.rules.ListRules(context.Background())
	assert.Empty(t, rules, "invalid rules are not stored")
}

func TestFireRule(t *testing.T) {
	s := newServer(t, "")
	rec := s.do(t, http.MethodPost, "/automations/rules", testutil.ScheduledRule("nightly", "0 22 * * *", "UTC", testutil.PushAction("nightly")), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, decode[webModels.RuleResponse](t, rec).NextFireAt)

	rec = s.do(t, http.MethodPost, "/automations/rules/nightly/fire", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	execID := decode[webModels.FireResponse](t, rec).ExecutionID
	require.NotEmpty(t, execID)

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/executions/"+execID, nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		return decode[models.ExecutionSummary](t, rec).Execution.ExecutionStatus == models.ExecutionStatusSuccess
	}, 3*time.Second, 10*time.Millisecond)

	s.do(t, http.MethodPost, "/automations/rules", doorRule("door"), "")
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/automations/rules/door/fire", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/automations/rules/missing/fire", nil, "").Code)
}

func TestPostEvent_RunsMatchingRule(t *testing.T) {
	s := newServer(t, "")
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/automations/rules", doorRule("door"), "").Code)

	rec := s.do(t, http.MethodPost, "/events", testutil.DoorOpen("evt-1", time.Now()), "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool { return len(s.push.Calls()) == 1 }, 3*time.Second, 10*time.Millisecond)
	params := s.push.Calls()[0].Params.(models.SendPushNotificationParams)
	assert.Equal(t, "Front Door opened", params.MessageTemplate)

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/executions?ruleId=door", nil, "")
		return rec.Code == http.StatusOK && len(decode[[]models.AutomationExecution](t, rec)) == 1
	}, 3*time.Second, 10*time.Millisecond)

	rec = s.do(t, http.MethodPost, "/events", map[string]any{"id": "evt-2"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/executions?limit=-1", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/executions/missing", nil, "").Code)
}

func token(t *testing.T, key string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestAuth(t *testing.T) {
	s := newServer(t, secret)
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"valid", token(t, secret, time.Now().Add(time.Hour)), http.StatusOK},
		{"expired", token(t, secret, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"wrong key", token(t, "other", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(t, http.MethodGet, "/automations/rules", nil, tt.token).Code)
		})
	}
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil, "").Code, "health is public")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, "")
	s.do(t, http.MethodPost, "/events", testutil.DoorOpen("evt-1", time.Now()), "")
	rec := s.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "automation_events_dispatched_total")
}

func TestExecutionStream(t *testing.T) {
	s := newServer(t, "")
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/executions/stream", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.hub.ExecutionCompleted(engine.ExecutionReport{ExecutionID: "exec-1", RuleID: "door", Status: models.ExecutionStatusSuccess})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var report engine.ExecutionReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "exec-1", report.ExecutionID)
	assert.Equal(t, models.ExecutionStatusSuccess, report.Status)
}

func TestDeviceContext(t *testing.T) {
	s := newServer(t, "")
	rec := s.do(t, http.MethodGet, "/devices/dev-door-1/context", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testutil.FrontDoor, decode[models.DeviceContext](t, rec))

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/devices/nope/context", nil, "").Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/devices/dev-door-1/context", nil, "").Code)
}
