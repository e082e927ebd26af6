package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coriolis-labs/agentrun/internal/approval"
	"github.com/coriolis-labs/agentrun/internal/auth"
	"github.com/coriolis-labs/agentrun/internal/config"
	"github.com/coriolis-labs/agentrun/internal/mcp"
	"github.com/coriolis-labs/agentrun/internal/ratelimit"
	"github.com/coriolis-labs/agentrun/internal/runmodel"
	"github.com/coriolis-labs/agentrun/internal/runqueue"
	"github.com/coriolis-labs/agentrun/internal/runstore"
)

type noopDispatcher struct {
	mu      sync.Mutex
	started []string
}

func (d *noopDispatcher) StartRun(ctx context.Context, runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = append(d.started, runID)
}

func (d *noopDispatcher) ResumeRun(runID string) {}

func (d *noopDispatcher) hasStarted(runID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.started {
		if id == runID {
			return true
		}
	}
	return false
}

func waitForStart(t *testing.T, d *noopDispatcher, runID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if d.hasStarted(runID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("dispatcher never started run %s", runID)
}

type noopToolCaller struct{}

func (noopToolCaller) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) *mcp.ToolCallResult {
	return &mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: "ok"}}}
}

type stubProfiles struct{ snap *config.Snapshot }

func (s stubProfiles) Snapshot() *config.Snapshot { return s.snap }

type stubTools struct{}

func (stubTools) Status() []mcp.ServerStatus          { return nil }
func (stubTools) AllTools() map[string][]*mcp.MCPTool { return nil }

func newTestServer(t *testing.T) (*Server, runstore.Store, *noopDispatcher) {
	t.Helper()
	store := runstore.NewMemoryStore()
	dispatcher := &noopDispatcher{}
	gate := approval.New(store, noopToolCaller{}, dispatcher, false)

	srv := NewServer(Deps{
		Store:      store,
		Queue:      runqueue.Unconfigured,
		Dispatcher: dispatcher,
		Gate:       gate,
		Profiles: stubProfiles{snap: &config.Snapshot{
			Profiles: map[string]*config.AgentProfile{
				"ops": {ID: "ops", Name: "Ops Responder", Enabled: true},
			},
		}},
		Tools: stubTools{},
	})
	return srv, store, dispatcher
}

func TestCreateRunDispatchesInProcess(t *testing.T) {
	srv, store, dispatcher := newTestServer(t)
	router := srv.Router()

	body, _ := json.Marshal(createRunRequest{Goal: "check disk space", AgentProfileID: "ops"})
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "pending", resp.Status)

	_, err := store.GetRunByID(context.Background(), resp.RunID)
	require.NoError(t, err)
	waitForStart(t, dispatcher, resp.RunID)
}

func TestCreateRunRejectsMissingGoal(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	body, _ := json.Marshal(createRunRequest{})
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRunIdempotentOnTerminalRun(t *testing.T) {
	srv, store, _ := newTestServer(t)
	router := srv.Router()

	run, err := store.CreateRun(context.Background(), "goal", "ops", nil, false)
	require.NoError(t, err)
	completed := runmodel.StatusCompleted
	_, err = store.UpdateRun(context.Background(), run.RunID, runmodel.UpdateFields{Status: &completed})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/runs/"+run.RunID+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "completed")
}

func TestApproveRequiresApprovedTrue(t *testing.T) {
	srv, store, _ := newTestServer(t)
	router := srv.Router()

	run, err := store.CreateRun(context.Background(), "goal", "ops", nil, false)
	require.NoError(t, err)

	body, _ := json.Marshal(approveRunRequest{Approved: false})
	req := httptest.NewRequest(http.MethodPost, "/runs/"+run.RunID+"/approve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAgentProfilesFiltersDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.profiles = stubProfiles{snap: &config.Snapshot{
		Profiles: map[string]*config.AgentProfile{
			"ops":    {ID: "ops", Name: "Ops Responder", Enabled: true},
			"legacy": {ID: "legacy", Name: "Legacy", Enabled: false},
		},
	}}
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/agent-profiles", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ops")
	assert.NotContains(t, rec.Body.String(), "legacy")
}

func TestRateLimitTripsAfterBurst(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 1, BurstSize: 2, Enabled: true})
	router := srv.Router()

	body, _ := json.Marshal(createRunRequest{Goal: "check disk space", AgentProfileID: "ops"})
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAPIKeyRequiredWhenConfigured(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.apiKeys = auth.NewAPIKeyChecker([]string{"secret"})
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req2.Header.Set("X-API-Key", "secret")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}
