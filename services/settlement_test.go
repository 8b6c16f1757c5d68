package services

import (
	"testing"
	"time"

	"bot-arena-system/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBot(id, owner string, createdAt time.Time) models.Bot {
	return models.Bot{
		ID:           id,
		MatchID:      "match-1",
		OwnerAddress: owner,
		Name:         "bot-" + id,
		Timestamps:   models.Timestamps{CreatedAt: createdAt},
	}
}

func TestFinalValuationsTakesLastSample(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bots := []models.Bot{
		testBot("a", "0xaaa", base),
		testBot("b", "0xbbb", base.Add(time.Minute)),
	}
	samples := []models.BalanceSample{
		{BotID: "a", SampledAt: base.Add(1 * time.Minute), Valuation: decimal.RequireFromString("10")},
		{BotID: "a", SampledAt: base.Add(3 * time.Minute), Valuation: decimal.RequireFromString("30")},
		{BotID: "a", SampledAt: base.Add(2 * time.Minute), Valuation: decimal.RequireFromString("20")},
		{BotID: "ghost", SampledAt: base.Add(1 * time.Minute), Valuation: decimal.RequireFromString("99")},
	}

	finals := FinalValuations(bots, samples)

	require.Len(t, finals, 2)
	assert.True(t, finals["a"].Equal(decimal.RequireFromString("30")), "got %s", finals["a"])
	assert.True(t, finals["b"].IsZero(), "unsampled bot should value at zero, got %s", finals["b"])
}

func TestRankBotsOrdersByValuationDescending(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bots := []models.Bot{
		testBot("a", "0xaaa", base),
		testBot("b", "0xbbb", base.Add(time.Minute)),
		testBot("c", "0xccc", base.Add(2*time.Minute)),
	}
	finals := map[string]decimal.Decimal{
		"a": decimal.RequireFromString("5"),
		"b": decimal.RequireFromString("10"),
		"c": decimal.RequireFromString("7"),
	}

	standings := RankBots(bots, finals)

	require.Len(t, standings, 3)
	assert.Equal(t, "b", standings[0].BotID)
	assert.Equal(t, "c", standings[1].BotID)
	assert.Equal(t, "a", standings[2].BotID)
	for i, s := range standings {
		assert.Equal(t, i+1, s.Rank)
	}
}

func TestRankBotsTieBreaksOnRegistrationOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bots := []models.Bot{
		testBot("late", "0xaaa", base.Add(time.Hour)),
		testBot("early", "0xbbb", base),
	}
	same := decimal.RequireFromString("42")
	finals := map[string]decimal.Decimal{"late": same, "early": same}

	standings := RankBots(bots, finals)

	require.Len(t, standings, 2)
	assert.Equal(t, "early", standings[0].BotID, "earlier registration wins the tie")
	assert.Equal(t, "late", standings[1].BotID)
}

func TestSplitPrizesExactPercentages(t *testing.T) {
	t.Parallel()

	standings := []Standing{
		{Rank: 1, BotID: "a"},
		{Rank: 2, BotID: "b"},
		{Rank: 3, BotID: "c"},
		{Rank: 4, BotID: "d"},
	}
	pool := decimal.RequireFromString("100")

	standings = SplitPrizes(standings, pool, []int{50, 30, 20})

	assert.True(t, standings[0].Prize.Equal(decimal.RequireFromString("50")), "got %s", standings[0].Prize)
	assert.True(t, standings[1].Prize.Equal(decimal.RequireFromString("30")), "got %s", standings[1].Prize)
	assert.True(t, standings[2].Prize.Equal(decimal.RequireFromString("20")), "got %s", standings[2].Prize)
	assert.True(t, standings[3].Prize.IsZero(), "rank 4 is outside the prize table")
}

func TestSplitPrizesLastRankAbsorbsDust(t *testing.T) {
	t.Parallel()

	standings := []Standing{
		{Rank: 1, BotID: "a"},
		{Rank: 2, BotID: "b"},
		{Rank: 3, BotID: "c"},
	}
	// Seven wei-scale units cannot split 33/33/34 without dust.
	pool := decimal.RequireFromString("0.000000000000000007")

	standings = SplitPrizes(standings, pool, []int{33, 33, 34})

	assert.True(t, standings[0].Prize.Equal(decimal.RequireFromString("0.000000000000000002")), "got %s", standings[0].Prize)
	assert.True(t, standings[1].Prize.Equal(decimal.RequireFromString("0.000000000000000002")), "got %s", standings[1].Prize)
	assert.True(t, standings[2].Prize.Equal(decimal.RequireFromString("0.000000000000000003")), "got %s", standings[2].Prize)

	sum := standings[0].Prize.Add(standings[1].Prize).Add(standings[2].Prize)
	assert.True(t, sum.Equal(pool), "prizes must sum exactly to the pool, got %s", sum)
}

func TestSplitPrizesPartialDistribution(t *testing.T) {
	t.Parallel()

	standings := []Standing{
		{Rank: 1, BotID: "a"},
		{Rank: 2, BotID: "b"},
	}
	pool := decimal.RequireFromString("10")

	standings = SplitPrizes(standings, pool, []int{50})

	assert.True(t, standings[0].Prize.Equal(decimal.RequireFromString("5")), "got %s", standings[0].Prize)
	assert.True(t, standings[1].Prize.IsZero())
}

func TestSplitPrizesMoreSplitsThanBots(t *testing.T) {
	t.Parallel()

	standings := []Standing{{Rank: 1, BotID: "only"}}
	pool := decimal.RequireFromString("8")

	standings = SplitPrizes(standings, pool, []int{50, 30, 20})

	// The sole bot takes only its own rank's share.
	assert.True(t, standings[0].Prize.Equal(decimal.RequireFromString("4")), "got %s", standings[0].Prize)
}

func TestSplitPrizesEmptyOrZeroPool(t *testing.T) {
	t.Parallel()

	standings := SplitPrizes(nil, decimal.RequireFromString("10"), []int{100})
	assert.Empty(t, standings)

	standings = SplitPrizes([]Standing{{Rank: 1, BotID: "a"}}, decimal.Zero, []int{100})
	assert.True(t, standings[0].Prize.IsZero())
}

func TestResultFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	build := func() []Standing {
		return []Standing{
			{Rank: 1, BotID: "b", Valuation: decimal.RequireFromString("10.5")},
			{Rank: 2, BotID: "a", Valuation: decimal.RequireFromString("7")},
		}
	}

	first := ResultFingerprint(build())
	second := ResultFingerprint(build())

	require.Len(t, first, 64)
	assert.Equal(t, first, second)

	changed := build()
	changed[1].Valuation = decimal.RequireFromString("7.000000000000000001")
	assert.NotEqual(t, first, ResultFingerprint(changed))

	reordered := build()
	reordered[0], reordered[1] = reordered[1], reordered[0]
	assert.NotEqual(t, first, ResultFingerprint(reordered))
}

func TestBurnTotals(t *testing.T) {
	t.Parallel()

	burns := []models.BurnRecord{
		{TokenAmount: decimal.RequireFromString("100"), NativeAmount: decimal.RequireFromString("2")},
		{TokenAmount: decimal.RequireFromString("50.5"), NativeAmount: decimal.RequireFromString("1.25")},
	}

	token, native := BurnTotals(burns)
	assert.True(t, token.Equal(decimal.RequireFromString("150.5")), "got %s", token)
	assert.True(t, native.Equal(decimal.RequireFromString("3.25")), "got %s", native)

	token, native = BurnTotals(nil)
	assert.True(t, token.IsZero())
	assert.True(t, native.IsZero())
}
