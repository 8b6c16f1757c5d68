package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"bot-arena-system/models"

	"github.com/shopspring/decimal"
)

// DefaultPrizeSplits is the percentage table applied when a match was
// created without an explicit one.
var DefaultPrizeSplits = []int{50, 30, 20}

// Standing is one bot's final settlement position.
type Standing struct {
	Rank      int             `json:"rank"`
	BotID     string          `json:"bot_id"`
	BotName   string          `json:"bot_name"`
	Address   string          `json:"address"`
	Valuation decimal.Decimal `json:"valuation"`
	Prize     decimal.Decimal `json:"prize"`
}

// FinalValuations reduces a sample series to each bot's last recorded
// valuation. Bots with no samples value at zero.
func FinalValuations(bots []models.Bot, samples []models.BalanceSample) map[string]decimal.Decimal {
	finals := make(map[string]decimal.Decimal, len(bots))
	latest := make(map[string]time.Time, len(bots))
	for _, bot := range bots {
		finals[bot.ID] = decimal.Zero
	}
	for _, s := range samples {
		if _, ok := finals[s.BotID]; !ok {
			continue
		}
		if s.SampledAt.After(latest[s.BotID]) {
			latest[s.BotID] = s.SampledAt
			finals[s.BotID] = s.Valuation
		}
	}
	return finals
}

// RankBots orders bots by final valuation descending; equal valuations
// rank the earlier registration first.
func RankBots(bots []models.Bot, finals map[string]decimal.Decimal) []Standing {
	ranked := make([]models.Bot, len(bots))
	copy(ranked, bots)

	sort.SliceStable(ranked, func(i, j int) bool {
		vi, vj := finals[ranked[i].ID], finals[ranked[j].ID]
		if !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
	})

	standings := make([]Standing, 0, len(ranked))
	for i, bot := range ranked {
		standings = append(standings, Standing{
			Rank:      i + 1,
			BotID:     bot.ID,
			BotName:   bot.Name,
			Address:   bot.OwnerAddress,
			Valuation: finals[bot.ID],
		})
	}
	return standings
}

// SplitPrizes assigns pool shares to the top len(splits) standings.
// Percentages apply in rank order; the last prized rank absorbs rounding
// dust so the assigned prizes sum exactly to the distributed share.
func SplitPrizes(standings []Standing, pool decimal.Decimal, splits []int) []Standing {
	if len(standings) == 0 || pool.LessThanOrEqual(decimal.Zero) || len(splits) == 0 {
		return standings
	}

	n := len(splits)
	if n > len(standings) {
		n = len(standings)
	}

	distributedPct := 0
	for _, p := range splits[:n] {
		distributedPct += p
	}
	// decimal.New(pct, -2) is the exact fraction pct/100; multiplying keeps
	// the arithmetic exact, and Truncate never rounds prize money up.
	target := pool.Mul(decimal.New(int64(distributedPct), -2)).Truncate(18)

	assigned := decimal.Zero
	for i := 0; i < n; i++ {
		var prize decimal.Decimal
		if i == n-1 {
			prize = target.Sub(assigned)
		} else {
			prize = pool.Mul(decimal.New(int64(splits[i]), -2)).Truncate(18)
			assigned = assigned.Add(prize)
		}
		standings[i].Prize = prize
	}
	return standings
}

// ResultFingerprint computes the deterministic settlement hash. Identical
// standings always produce the identical hex digest.
func ResultFingerprint(standings []Standing) string {
	h := sha256.New()
	for _, s := range standings {
		fmt.Fprintf(h, "%d|%s|%s\n", s.Rank, s.BotID, s.Valuation.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BurnTotals sums a burn set in both units.
func BurnTotals(burns []models.BurnRecord) (token, native decimal.Decimal) {
	for _, b := range burns {
		token = token.Add(b.TokenAmount)
		native = native.Add(b.NativeAmount)
	}
	return token, native
}
