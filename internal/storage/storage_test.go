package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/storage"
	"github.com/gearbox-ai/gearbox/internal/testutil"
	"github.com/gearbox-ai/gearbox/migrations"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

// newTenant creates a fresh tenant for test isolation.
func newTenant(t *testing.T) uuid.UUID {
	t.Helper()
	slug := "t-" + uuid.NewString()
	id, err := testDB.EnsureDefaultTenant(context.Background(), "Test Shop", slug)
	require.NoError(t, err)
	return id
}

// newRun inserts a running run for the given tenant and returns it.
func newRun(t *testing.T, tenantID uuid.UUID, key *string) *model.Run {
	t.Helper()
	run := &model.Run{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ActorID:        "actor-" + uuid.NewString(),
		Goal:           "replace brake pads",
		StrategyKind:   "simple",
		Context:        map[string]any{},
		IdempotencyKey: key,
		Status:         model.RunStatusRunning,
	}
	require.NoError(t, testDB.CreateRun(context.Background(), run))
	return run
}

func TestCreateAndGetRun(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t)

	run := newRun(t, tenantID, nil)

	got, err := testDB.GetRun(ctx, tenantID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "replace brake pads", got.Goal)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestGetRunWrongTenant(t *testing.T) {
	ctx := context.Background()
	run := newRun(t, newTenant(t), nil)

	_, err := testDB.GetRun(ctx, newTenant(t), run.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFinishRunOneShot(t *testing.T) {
	ctx := context.Background()
	run := newRun(t, newTenant(t), nil)

	require.NoError(t, testDB.FinishRun(ctx, run.ID, model.RunStatusSucceeded, nil))

	got, err := testDB.GetRun(ctx, run.TenantID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// A second transition must not overwrite the terminal status.
	msg := "late failure"
	err = testDB.FinishRun(ctx, run.ID, model.RunStatusFailed, &msg)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err = testDB.GetRun(ctx, run.TenantID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, got.Status)
	assert.Nil(t, got.Error)
}

func TestFinishRunRejectsNonTerminal(t *testing.T) {
	run := newRun(t, newTenant(t), nil)
	err := testDB.FinishRun(context.Background(), run.ID, model.RunStatusRunning, nil)
	require.Error(t, err)
}

func TestDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t)
	key := "retry-" + uuid.NewString()

	first := newRun(t, tenantID, &key)

	dup := &model.Run{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ActorID:        first.ActorID,
		Goal:           first.Goal,
		StrategyKind:   "simple",
		Context:        map[string]any{},
		IdempotencyKey: &key,
		Status:         model.RunStatusRunning,
	}
	err := testDB.CreateRun(ctx, dup)
	require.ErrorIs(t, err, storage.ErrDuplicateIdempotencyKey)

	got, err := testDB.RunByIdempotencyKey(ctx, first.ActorID, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestSameKeyDifferentActors(t *testing.T) {
	tenantID := newTenant(t)
	key := "shared-" + uuid.NewString()

	// Keys are scoped per actor, so two actors may reuse the same key.
	a := newRun(t, tenantID, &key)
	b := newRun(t, tenantID, &key)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNilKeysNeverCollide(t *testing.T) {
	tenantID := newTenant(t)
	a := newRun(t, tenantID, nil)
	b := newRun(t, tenantID, nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestAppendEventAssignsGapFreeSteps(t *testing.T) {
	ctx := context.Background()
	run := newRun(t, newTenant(t), nil)

	kinds := []model.EventKind{
		model.EventPlan, model.EventToolCall, model.EventToolResult, model.EventFinal,
	}
	for i, kind := range kinds {
		ev := &model.PlannerEvent{
			RunID:    run.ID,
			TenantID: run.TenantID,
			Kind:     kind,
			Content:  map[string]any{"note": "step"},
		}
		require.NoError(t, testDB.AppendEvent(ctx, ev))
		assert.Equal(t, int64(i+1), ev.Step)
		assert.False(t, ev.CreatedAt.IsZero())
	}

	events, err := testDB.EventsByRun(ctx, run.TenantID, run.ID)
	require.NoError(t, err)
	require.Len(t, events, len(kinds))
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Step)
		assert.Equal(t, kinds[i], ev.Kind)
	}
}

func TestEventStepsIndependentAcrossRuns(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t)
	a := newRun(t, tenantID, nil)
	b := newRun(t, tenantID, nil)

	evA := &model.PlannerEvent{RunID: a.ID, TenantID: tenantID, Kind: model.EventPlan, Content: map[string]any{}}
	require.NoError(t, testDB.AppendEvent(ctx, evA))
	evB := &model.PlannerEvent{RunID: b.ID, TenantID: tenantID, Kind: model.EventPlan, Content: map[string]any{}}
	require.NoError(t, testDB.AppendEvent(ctx, evB))

	assert.Equal(t, int64(1), evA.Step)
	assert.Equal(t, int64(1), evB.Step)
}

func TestGetEvent(t *testing.T) {
	ctx := context.Background()
	run := newRun(t, newTenant(t), nil)

	ev := &model.PlannerEvent{
		RunID:    run.ID,
		TenantID: run.TenantID,
		Kind:     model.EventToolCall,
		Content:  map[string]any{"tool": "find_customer_vehicle"},
	}
	require.NoError(t, testDB.AppendEvent(ctx, ev))

	got, err := testDB.GetEvent(ctx, run.TenantID, run.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, model.EventToolCall, got.Kind)

	_, err = testDB.GetEvent(ctx, run.TenantID, run.ID, 99)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListRunsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t)

	first := newRun(t, tenantID, nil)
	second := newRun(t, tenantID, nil)
	require.NoError(t, testDB.FinishRun(ctx, second.ID, model.RunStatusFailed, nil))

	all, err := testDB.ListRuns(ctx, tenantID, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	failed := model.RunStatusFailed
	got, err := testDB.ListRuns(ctx, tenantID, &failed, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second.ID, got[0].ID)

	running := model.RunStatusRunning
	got, err = testDB.ListRuns(ctx, tenantID, &running, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, first.ID, got[0].ID)
}

func TestSimilarRuns(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t)

	embed := func(fill float32) pgvector.Vector {
		v := make([]float32, 1536)
		for i := range v {
			v[i] = fill
		}
		v[0] = 1
		return pgvector.NewVector(v)
	}

	near := newRun(t, tenantID, nil)
	require.NoError(t, testDB.FinishRun(ctx, near.ID, model.RunStatusSucceeded, nil))
	require.NoError(t, testDB.SetRunEmbedding(ctx, near.ID, embed(0.01)))

	far := newRun(t, tenantID, nil)
	require.NoError(t, testDB.FinishRun(ctx, far.ID, model.RunStatusSucceeded, nil))
	require.NoError(t, testDB.SetRunEmbedding(ctx, far.ID, embed(-0.5)))

	// Still running, so excluded even with an embedding.
	pending := newRun(t, tenantID, nil)
	require.NoError(t, testDB.SetRunEmbedding(ctx, pending.ID, embed(0.01)))

	results, err := testDB.SimilarRuns(ctx, tenantID, embed(0.01), 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].Run.ID)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

func TestEnsureDefaultTenantUpsert(t *testing.T) {
	ctx := context.Background()
	slug := "upsert-" + uuid.NewString()

	a, err := testDB.EnsureDefaultTenant(ctx, "First Name", slug)
	require.NoError(t, err)
	b, err := testDB.EnsureDefaultTenant(ctx, "Second Name", slug)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	tenant, err := testDB.GetTenant(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "Second Name", tenant.Name)
}

func TestCreateActorAndResolveTenant(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t)

	hash := "argon2id-hash"
	actor := &model.Actor{
		ID:         uuid.New(),
		ActorID:    "dispatch-" + uuid.NewString(),
		TenantID:   tenantID,
		Name:       "Dispatch Bot",
		Role:       model.RoleAgent,
		APIKeyHash: &hash,
	}
	require.NoError(t, testDB.CreateActor(ctx, actor))
	assert.False(t, actor.CreatedAt.IsZero())

	got, err := testDB.ActorByActorID(ctx, actor.ActorID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAgent, got.Role)

	resolved, err := testDB.ResolveTenant(ctx, actor.ActorID)
	require.NoError(t, err)
	assert.Equal(t, tenantID, resolved)

	_, err = testDB.ResolveTenant(ctx, "nobody-"+uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Duplicate actor_id is rejected.
	dup := *actor
	dup.ID = uuid.New()
	require.Error(t, testDB.CreateActor(ctx, &dup))
}

func TestFindCustomerVehicle(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t)

	_, _, err := testDB.FindCustomerVehicle(ctx, tenantID, "Nobody Here")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	customer := &model.Customer{ID: uuid.New(), TenantID: tenantID, Name: "Alice Romero"}
	require.NoError(t, testDB.CreateCustomer(ctx, customer))

	// Customer exists but has no vehicle yet.
	gotC, gotV, err := testDB.FindCustomerVehicle(ctx, tenantID, "alice romero")
	require.NoError(t, err)
	assert.Equal(t, customer.ID, gotC.ID)
	assert.Nil(t, gotV)

	older := &model.Vehicle{ID: uuid.New(), TenantID: tenantID, CustomerID: customer.ID, Description: "2014 Civic"}
	require.NoError(t, testDB.CreateVehicle(ctx, older))
	newer := &model.Vehicle{ID: uuid.New(), TenantID: tenantID, CustomerID: customer.ID, Description: "2022 Outback"}
	require.NoError(t, testDB.CreateVehicle(ctx, newer))

	_, gotV, err = testDB.FindCustomerVehicle(ctx, tenantID, "Alice Romero")
	require.NoError(t, err)
	require.NotNil(t, gotV)
	assert.Equal(t, "2022 Outback", gotV.Description)
}

func TestWorkOrderAndApproval(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t)
	run := newRun(t, tenantID, nil)

	customer := &model.Customer{ID: uuid.New(), TenantID: tenantID, Name: "Fleet Co"}
	require.NoError(t, testDB.CreateCustomer(ctx, customer))

	wo := &model.WorkOrder{
		ID:         uuid.New(),
		TenantID:   tenantID,
		CustomerID: customer.ID,
		Summary:    "rotate tires",
		Status:     model.WorkOrderOpen,
	}
	require.NoError(t, testDB.CreateWorkOrder(ctx, wo))
	assert.False(t, wo.CreatedAt.IsZero())

	approval := &model.Approval{
		ID:       uuid.New(),
		TenantID: tenantID,
		RunID:    run.ID,
		Action:   "refund invoice 4417",
		Status:   model.ApprovalPending,
	}
	require.NoError(t, testDB.CreateApproval(ctx, approval))
	assert.False(t, approval.CreatedAt.IsZero())
}

func TestVerifySchema(t *testing.T) {
	require.NoError(t, testDB.VerifySchema(context.Background()))
}

func TestMigrationsIdempotent(t *testing.T) {
	// Running migrations again must be a no-op, not an error.
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}
