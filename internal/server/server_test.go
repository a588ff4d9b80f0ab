package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearbox-ai/gearbox/internal/auth"
	"github.com/gearbox-ai/gearbox/internal/engine"
	"github.com/gearbox-ai/gearbox/internal/llm"
	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/server"
	"github.com/gearbox-ai/gearbox/internal/storage"
	"github.com/gearbox-ai/gearbox/internal/strategy"
	"github.com/gearbox-ai/gearbox/internal/testutil"
	"github.com/gearbox-ai/gearbox/internal/tool"
)

var (
	testSrv     *httptest.Server
	testDB      *storage.DB
	adminToken  string
	agentToken  string
	readerToken string
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	jwtMgr, _ := auth.NewJWTManager("", "", 24*time.Hour)

	tools := tool.NewRegistry()
	tool.RegisterShopTools(tools, testDB, &tool.LogMessenger{Logger: logger})

	strategies := strategy.NewRegistry()
	strategies.Register(&strategy.Simple{Tools: tools})
	strategies.Register(&strategy.OpenAI{Tools: tools, Completer: llm.NoopCompleter{}, MaxSteps: 8})
	strategies.Register(&strategy.Fleet{Tools: tools})
	strategies.Register(&strategy.Approvals{Tools: tools})

	coordinator := engine.New(testDB, strategies, logger)

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		JWTMgr:              jwtMgr,
		Coordinator:         coordinator,
		Embedder:            llm.NewNoopEmbedder(1536),
		Logger:              logger,
		Version:             "test",
		DefaultStrategy:     "simple",
		MaxRequestBodyBytes: 1 * 1024 * 1024,
	})

	if err := srv.Handlers().SeedAdmin(ctx, "test-admin-key"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed admin: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	testSrv = httptest.NewServer(srv.Handler())

	adminToken = getToken(testSrv.URL, "admin", "test-admin-key")
	createActor(testSrv.URL, adminToken, "test-agent", "Test Agent", "agent", "test-agent-key")
	agentToken = getToken(testSrv.URL, "test-agent", "test-agent-key")
	createActor(testSrv.URL, adminToken, "test-reader", "Test Reader", "reader", "test-reader-key")
	readerToken = getToken(testSrv.URL, "test-reader", "test-reader-key")

	code := m.Run()

	testSrv.Close()
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

func getToken(baseURL, actorID, apiKey string) string {
	body, _ := json.Marshal(model.AuthTokenRequest{ActorID: actorID, APIKey: apiKey})
	resp, err := http.Post(baseURL+"/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("getToken: request failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("getToken: status %d, body: %s", resp.StatusCode, string(data)))
	}
	var result struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		panic(fmt.Sprintf("getToken: unmarshal failed: %v, body: %s", err, string(data)))
	}
	if result.Data.Token == "" {
		panic(fmt.Sprintf("getToken: empty token, body: %s", string(data)))
	}
	return result.Data.Token
}

func createActor(baseURL, token, actorID, name, role, apiKey string) {
	body, _ := json.Marshal(model.CreateActorRequest{
		ActorID: actorID, Name: name, Role: model.Role(role), APIKey: apiKey,
	})
	req, _ := http.NewRequest("POST", baseURL+"/v1/actors", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		panic(fmt.Sprintf("createActor: status %d, body: %s", resp.StatusCode, string(data)))
	}
	_ = resp.Body.Close()
}

func authedRequest(method, url, token string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var result struct {
		Data T `json:"data"`
	}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &result), "body: %s", string(data))
	return result.Data
}

func runEvents(t *testing.T, token string, runID uuid.UUID) []model.PlannerEvent {
	t.Helper()
	resp, err := authedRequest("GET", testSrv.URL+"/v1/runs/"+runID.String()+"/events", token, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decodeData[struct {
		Events []model.PlannerEvent `json:"events"`
	}](t, resp)
	return payload.Events
}

func startRun(t *testing.T, token string, req model.StartRunRequest) model.StartRunResponse {
	t.Helper()
	resp, err := authedRequest("POST", testSrv.URL+"/v1/runs", token, req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeData[model.StartRunResponse](t, resp)
}

func TestHealthEndpoint(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health := decodeData[model.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Postgres)
}

func TestAuthFlow(t *testing.T) {
	token := getToken(testSrv.URL, "admin", "test-admin-key")
	assert.NotEmpty(t, token)

	// Invalid credentials.
	body, _ := json.Marshal(model.AuthTokenRequest{ActorID: "admin", APIKey: "wrong"})
	resp, err := http.Post(testSrv.URL+"/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Unknown actor gets the same answer as a wrong key.
	body, _ = json.Marshal(model.AuthTokenRequest{ActorID: "ghost", APIKey: "anything"})
	resp2, err := http.Post(testSrv.URL+"/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestUnauthenticatedAccess(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/runs")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestReaderCannotStartRuns(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/runs", readerToken,
		model.StartRunRequest{Goal: "should be rejected"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBrakeInspectionRun(t *testing.T) {
	res := startRun(t, agentToken, model.StartRunRequest{
		Goal:    "brake inspection for Dana Whitfield",
		Planner: "simple",
		Context: map[string]any{"customer_name": "Dana Whitfield"},
	})
	assert.False(t, res.AlreadyExists)
	assert.Equal(t, model.RunStatusSucceeded, res.Status)
	assert.Nil(t, res.Error)

	// Replay the event log: plan events bracket the tool activity, the
	// lookup misses, the recovery path creates the customer, a work
	// order is opened, and the final event closes the run.
	events := runEvents(t, agentToken, res.RunID)
	require.NotEmpty(t, events)

	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Step, "steps must be gap-free")
	}
	assert.Equal(t, model.EventPlan, events[0].Kind)
	assert.Equal(t, model.EventFinal, events[len(events)-1].Kind)

	kinds := make(map[model.EventKind]int)
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	assert.GreaterOrEqual(t, kinds[model.EventToolCall], 3, "lookup, create_customer recovery, create_work_order")
	assert.Equal(t, 1, kinds[model.EventWorkOrderCreated])
}

func TestIdempotentRepeat(t *testing.T) {
	key := "repeat-" + uuid.NewString()
	req := model.StartRunRequest{
		Goal:           "oil change for Sam Ortiz",
		Planner:        "simple",
		Context:        map[string]any{"customer_name": "Sam Ortiz"},
		IdempotencyKey: &key,
	}

	first := startRun(t, agentToken, req)
	assert.False(t, first.AlreadyExists)

	second := startRun(t, agentToken, req)
	assert.True(t, second.AlreadyExists)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, model.RunStatusSucceeded, second.Status)
}

func TestFailedRunStillReturns200(t *testing.T) {
	// Fleet runs never create customers, so an unknown fleet account
	// fails the run. The request still succeeds at the transport level.
	res := startRun(t, agentToken, model.StartRunRequest{
		Goal:    "winter service across the fleet",
		Planner: "fleet",
		Context: map[string]any{
			"customer_name": "No Such Fleet",
			"vehicle_ids":   []any{uuid.NewString()},
		},
	})
	assert.Equal(t, model.RunStatusFailed, res.Status)
	require.NotNil(t, res.Error)

	events := runEvents(t, agentToken, res.RunID)
	require.NotEmpty(t, events)
	assert.Equal(t, model.EventError, events[len(events)-1].Kind)

	// The failed lookup leaves a tool_call with no matching tool_result.
	var calls, results int
	for _, ev := range events {
		switch ev.Kind {
		case model.EventToolCall:
			calls++
		case model.EventToolResult:
			results++
		}
	}
	assert.Greater(t, calls, results)
}

func TestUnknownPlannerRejected(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/runs", agentToken,
		model.StartRunRequest{Goal: "anything", Planner: "quantum"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEmptyGoalRejected(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/runs", agentToken,
		model.StartRunRequest{Goal: "   "})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApprovalsRun(t *testing.T) {
	res := startRun(t, agentToken, model.StartRunRequest{
		Goal:    "refund invoice 4417",
		Planner: "approvals",
		Context: map[string]any{"reason": "customer complaint"},
	})
	assert.Equal(t, model.RunStatusSucceeded, res.Status)

	events := runEvents(t, agentToken, res.RunID)

	var sawApproval bool
	for _, ev := range events {
		if ev.Kind == model.EventApprovalRequested {
			sawApproval = true
		}
	}
	assert.True(t, sawApproval)
}

func TestOpenAIPlannerWithNoopModel(t *testing.T) {
	// The noop completer immediately returns a final decision, so the
	// run succeeds with no tool calls.
	res := startRun(t, agentToken, model.StartRunRequest{
		Goal:    "summarize outstanding work",
		Planner: "openai",
	})
	assert.Equal(t, model.RunStatusSucceeded, res.Status)
}

func TestGetRunWithEvents(t *testing.T) {
	res := startRun(t, agentToken, model.StartRunRequest{
		Goal:    "tire rotation",
		Planner: "simple",
	})

	resp, err := authedRequest("GET", testSrv.URL+"/v1/runs/"+res.RunID.String(), readerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeData[struct {
		Run    model.Run            `json:"run"`
		Events []model.PlannerEvent `json:"events"`
	}](t, resp)
	assert.Equal(t, res.RunID, payload.Run.ID)
	assert.NotEmpty(t, payload.Events)
}

func TestGetRunNotFound(t *testing.T) {
	resp, err := authedRequest("GET", testSrv.URL+"/v1/runs/"+uuid.NewString(), agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRunsWithStatusFilter(t *testing.T) {
	startRun(t, agentToken, model.StartRunRequest{Goal: "list filter seed", Planner: "simple"})

	resp, err := authedRequest("GET", testSrv.URL+"/v1/runs?status=succeeded&limit=5", readerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeData[struct {
		Runs []model.Run `json:"runs"`
	}](t, resp)
	require.NotEmpty(t, payload.Runs)
	for _, run := range payload.Runs {
		assert.Equal(t, model.RunStatusSucceeded, run.Status)
	}
}

func TestSimilarRuns(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/runs/similar", readerToken,
		model.SimilarRunsRequest{Goal: "brake inspection", Limit: 5})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateActorDuplicate(t *testing.T) {
	createActor(testSrv.URL, adminToken, "dupe-actor", "Dupe", "reader", "dupe-key")

	body, _ := json.Marshal(model.CreateActorRequest{
		ActorID: "dupe-actor", Name: "Dupe Again", Role: model.RoleReader, APIKey: "other-key",
	})
	resp, err := authedRequest("POST", testSrv.URL+"/v1/actors", adminToken, json.RawMessage(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateActorRequiresAdmin(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/actors", agentToken,
		model.CreateActorRequest{ActorID: "sneaky", Name: "Sneaky", Role: model.RoleAdmin, APIKey: "k"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
