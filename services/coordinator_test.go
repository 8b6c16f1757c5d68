package services

import (
	"context"
	"testing"
	"time"

	"bot-arena-system/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, ledger *fakeLedger) *Coordinator {
	t.Helper()
	coord := NewCoordinator(
		ActorDeps{Ledger: ledger, Evaluator: &stubEvaluator{}},
		ActorConfig{SampleInterval: time.Hour},
	)
	t.Cleanup(coord.Shutdown)
	return coord
}

func TestCoordinatorEnsureReturnsOneActorPerMatch(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	now := time.Now()
	ledger.addMatch(models.Match{ID: "m1", Status: models.MatchStatusPending, StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour)})
	coord := newTestCoordinator(t, ledger)
	ctx := context.Background()

	first, err := coord.Ensure(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := coord.Ensure(ctx, "m1")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestCoordinatorEnsureNilForFinishedMatches(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	now := time.Now()
	settledAt := now.Add(-time.Hour)
	ledger.addMatch(models.Match{ID: "done", Status: models.MatchStatusSettled, StartTime: now.Add(-3 * time.Hour), EndTime: now.Add(-2 * time.Hour), SettledAt: &settledAt})
	ledger.addMatch(models.Match{ID: "closed", Status: models.MatchStatusCompleted, StartTime: now.Add(-5 * time.Hour), EndTime: now.Add(-4 * time.Hour)})
	coord := newTestCoordinator(t, ledger)
	ctx := context.Background()

	actor, err := coord.Ensure(ctx, "done")
	require.NoError(t, err)
	assert.Nil(t, actor, "settled matches have no actor")

	actor, err = coord.Ensure(ctx, "closed")
	require.NoError(t, err)
	assert.Nil(t, actor)

	_, err = coord.Ensure(ctx, "never-existed")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestCoordinatorRehydrateSpawnsOpenMatchesOnly(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	now := time.Now()
	ledger.addMatch(models.Match{ID: "pending", Status: models.MatchStatusPending, StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour)})
	ledger.addMatch(models.Match{ID: "running", Status: models.MatchStatusRunning, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)})
	ledger.addMatch(models.Match{ID: "settled", Status: models.MatchStatusSettled, StartTime: now.Add(-3 * time.Hour), EndTime: now.Add(-2 * time.Hour)})

	require.NoError(t, ledger.CreateBot(context.Background(), &models.Bot{ID: "bot-a", MatchID: "running", OwnerAddress: "0xaa", Name: "A"}))
	require.NoError(t, ledger.AppendSample(context.Background(), &models.BalanceSample{
		ID: "s1", MatchID: "running", BotID: "bot-a", SampledAt: now.Add(-30 * time.Minute), Valuation: decimal.RequireFromString("9"),
	}))

	coord := newTestCoordinator(t, ledger)
	require.NoError(t, coord.Rehydrate(context.Background()))

	_, ok := coord.Actor("pending")
	assert.True(t, ok)
	_, ok = coord.Actor("settled")
	assert.False(t, ok, "finished matches stay actor-less")

	actor, ok := coord.Actor("running")
	require.True(t, ok)
	series, err := actor.History()
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Len(t, series[0].Samples, 1, "rehydration reloads the sample series")
}

func TestCoordinatorRetireStopsActor(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	now := time.Now()
	ledger.addMatch(models.Match{ID: "m1", Status: models.MatchStatusPending, StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour)})
	coord := newTestCoordinator(t, ledger)
	ctx := context.Background()

	actor, err := coord.Ensure(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, actor)

	coord.Retire("m1")

	_, ok := coord.Actor("m1")
	assert.False(t, ok)
	_, err = actor.Summary(ctx)
	assert.ErrorIs(t, err, ErrActorStopped, "a retired actor rejects stragglers")
}

func TestCoordinatorCreateMatchPersistsAndSpawns(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	now := time.Now()
	coord := newTestCoordinator(t, ledger)
	ctx := context.Background()

	match := &models.Match{ID: "new", Status: models.MatchStatusPending, StartTime: now.Add(time.Hour), EndTime: now.Add(25 * time.Hour)}
	actor, err := coord.CreateMatch(ctx, match)
	require.NoError(t, err)
	require.NotNil(t, actor)

	stored, err := ledger.GetMatch(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusPending, stored.Status)

	_, ok := coord.Actor("new")
	assert.True(t, ok)
}

func TestCoordinatorShutdownStopsEverything(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	now := time.Now()
	ledger.addMatch(models.Match{ID: "m1", Status: models.MatchStatusPending, StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour)})
	coord := newTestCoordinator(t, ledger)

	actor, err := coord.Ensure(context.Background(), "m1")
	require.NoError(t, err)

	coord.Shutdown()

	_, ok := coord.Actor("m1")
	assert.False(t, ok)
	_, err = actor.Summary(context.Background())
	assert.ErrorIs(t, err, ErrActorStopped)
}
