package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bot-arena-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSeriesGroupsByBotInRegistrationOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bots := []models.Bot{
		{ID: "a", Name: "Alpha", OwnerAddress: "0xaa"},
		{ID: "b", Name: "Beta", OwnerAddress: "0xbb"},
	}
	samples := []models.BalanceSample{
		{BotID: "a", SampledAt: base, Valuation: decimal.RequireFromString("10")},
		{BotID: "b", SampledAt: base, Valuation: decimal.RequireFromString("5")},
		{BotID: "a", SampledAt: base.Add(time.Minute), Valuation: decimal.RequireFromString("12")},
	}

	series := BuildSeries(bots, samples)

	require.Len(t, series, 2)
	assert.Equal(t, "a", series[0].BotID)
	assert.Equal(t, "Alpha", series[0].BotName)
	require.Len(t, series[0].Samples, 2)
	assert.True(t, series[0].Samples[0].Valuation.Equal(decimal.RequireFromString("10")))
	assert.True(t, series[0].Samples[1].Valuation.Equal(decimal.RequireFromString("12")))
	require.Len(t, series[1].Samples, 1)
}

func TestBuildSeriesUnsampledBotGetsEmptySlice(t *testing.T) {
	t.Parallel()

	bots := []models.Bot{{ID: "quiet", Name: "Quiet", OwnerAddress: "0xqq"}}

	series := BuildSeries(bots, nil)

	require.Len(t, series, 1)
	assert.NotNil(t, series[0].Samples, "JSON must render [] rather than null")
	assert.Empty(t, series[0].Samples)
}

func TestGetCurrentMatchPrefersRunningOverPending(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	now := time.Now()
	ledger.addMatch(models.Match{ID: "live", Status: models.MatchStatusRunning, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)})
	ledger.addMatch(models.Match{ID: "next", Status: models.MatchStatusPending, StartTime: now.Add(2 * time.Hour), EndTime: now.Add(26 * time.Hour)})

	coord := NewCoordinator(ActorDeps{Ledger: ledger, Evaluator: &stubEvaluator{}}, ActorConfig{SampleInterval: time.Hour})
	t.Cleanup(coord.Shutdown)
	svc := NewMatchService(ledger, coord)

	app := fiber.New()
	app.Get("/match/current", svc.GetCurrentMatch)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/match/current", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Match struct {
			ID string `json:"id"`
		} `json:"match"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "live", body.Match.ID, "creating the next round never swaps the live match out of /match/current")
}

func TestMatchSecondsRemaining(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pending := &models.Match{Status: models.MatchStatusPending, StartTime: now.Add(90 * time.Second), EndTime: now.Add(time.Hour)}
	assert.Equal(t, int64(90), matchSecondsRemaining(pending, now), "pending counts down to start")

	running := &models.Match{Status: models.MatchStatusRunning, StartTime: now.Add(-time.Hour), EndTime: now.Add(45 * time.Second)}
	assert.Equal(t, int64(45), matchSecondsRemaining(running, now), "running counts down to end")

	overdue := &models.Match{Status: models.MatchStatusRunning, StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour)}
	assert.Equal(t, int64(0), matchSecondsRemaining(overdue, now), "never negative")

	settled := &models.Match{Status: models.MatchStatusSettled, StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(time.Hour)}
	assert.Equal(t, int64(0), matchSecondsRemaining(settled, now))
}
