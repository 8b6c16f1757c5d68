package services

import (
	"errors"
	"log"
	"strings"
	"time"

	"bot-arena-system/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// DefaultMaxBots caps rosters of matches created without an explicit
// limit. Zero means unlimited.
var DefaultMaxBots = 0

// MatchService is the HTTP glue around the coordinator: it validates
// requests, routes writes through the owning actor, and serves reads from
// the actor while one lives and from the ledger afterwards.
type MatchService struct {
	Ledger MatchLedger
	Coord  *Coordinator
}

func NewMatchService(ledger MatchLedger, coord *Coordinator) *MatchService {
	return &MatchService{Ledger: ledger, Coord: coord}
}

// SeriesPoint is one valuation sample in a bot's chart series.
type SeriesPoint struct {
	SampledAt time.Time       `json:"sampled_at"`
	Valuation decimal.Decimal `json:"valuation"`
}

// BotSeries is one bot's ordered valuation series.
type BotSeries struct {
	BotID   string        `json:"bot_id"`
	BotName string        `json:"bot_name"`
	Address string        `json:"address"`
	Samples []SeriesPoint `json:"samples"`
}

// BuildSeries groups samples per bot in registration order. Bots that
// have not been sampled yet appear with an empty series.
func BuildSeries(bots []models.Bot, samples []models.BalanceSample) []BotSeries {
	byBot := make(map[string][]SeriesPoint, len(bots))
	for _, s := range samples {
		byBot[s.BotID] = append(byBot[s.BotID], SeriesPoint{SampledAt: s.SampledAt, Valuation: s.Valuation})
	}

	series := make([]BotSeries, 0, len(bots))
	for _, bot := range bots {
		points := byBot[bot.ID]
		if points == nil {
			points = []SeriesPoint{}
		}
		series = append(series, BotSeries{
			BotID:   bot.ID,
			BotName: bot.Name,
			Address: bot.OwnerAddress,
			Samples: points,
		})
	}
	return series
}

func matchSecondsRemaining(match *models.Match, now time.Time) int64 {
	var until time.Time
	switch match.Status {
	case models.MatchStatusPending:
		until = match.StartTime
	case models.MatchStatusRunning:
		until = match.EndTime
	default:
		return 0
	}
	remaining := int64(until.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetCurrentMatch handles GET /match/current
func (s *MatchService) GetCurrentMatch(c *fiber.Ctx) error {
	match, err := s.Ledger.CurrentMatch(c.Context())
	if err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No open match"})
		}
		log.Printf("❌ [Match] current match lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	if actor, ok := s.Coord.Actor(match.ID); ok {
		summary, err := actor.Summary(c.Context())
		if err == nil {
			return c.JSON(summary)
		}
	}

	// No live actor (or it retired mid-request): assemble from the ledger.
	bots, err := s.Ledger.ListBots(c.Context(), match.ID)
	if err != nil {
		log.Printf("❌ [Match] roster load failed for %s: %v", match.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}
	summary := MatchSummary{
		Match:            *match,
		BotCount:         len(bots),
		SecondsRemaining: matchSecondsRemaining(match, time.Now()),
	}
	if burns, err := s.Ledger.UnconsumedBurns(c.Context(), time.Now()); err == nil {
		_, summary.VerifiedBurned = BurnTotals(burns)
	}
	return c.JSON(summary)
}

// GetMatch handles GET /match/:id
func (s *MatchService) GetMatch(c *fiber.Ctx) error {
	id := c.Params("id")

	match, err := s.Ledger.GetMatchDetail(c.Context(), id)
	if err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Match not found"})
		}
		log.Printf("❌ [Match] load failed for %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	match.BotCount = int64(len(match.Bots))
	match.SecondsRemaining = matchSecondsRemaining(match, time.Now())
	for i := range match.Bots {
		match.Bots[i].Status = match.Status
	}

	return c.JSON(match)
}

// GetCurrentHistory handles GET /match/history. The chart endpoint never
// fails hard: any internal trouble degrades to an empty series.
func (s *MatchService) GetCurrentHistory(c *fiber.Ctx) error {
	match, err := s.Ledger.CurrentMatch(c.Context())
	if err != nil {
		if !errors.Is(err, ErrMatchNotFound) {
			log.Printf("⚠️ [Match] history degraded, current match lookup failed: %v", err)
		}
		return c.JSON(fiber.Map{"balanceHistory": []BotSeries{}})
	}

	series, err := s.historyFor(c, match.ID)
	if err != nil {
		log.Printf("⚠️ [Match] history degraded for %s: %v", match.ID, err)
		return c.JSON(fiber.Map{"balanceHistory": []BotSeries{}})
	}
	return c.JSON(fiber.Map{"balanceHistory": series})
}

// GetMatchHistory handles GET /match/:id/history
func (s *MatchService) GetMatchHistory(c *fiber.Ctx) error {
	id := c.Params("id")

	if _, err := s.Ledger.GetMatch(c.Context(), id); err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Match not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	series, err := s.historyFor(c, id)
	if err != nil {
		log.Printf("⚠️ [Match] history degraded for %s: %v", id, err)
		return c.JSON(fiber.Map{"balanceHistory": []BotSeries{}})
	}
	return c.JSON(fiber.Map{"balanceHistory": series})
}

func (s *MatchService) historyFor(c *fiber.Ctx, matchID string) ([]BotSeries, error) {
	if actor, ok := s.Coord.Actor(matchID); ok {
		series, err := actor.History()
		if err == nil {
			return series, nil
		}
	}

	bots, err := s.Ledger.ListBots(c.Context(), matchID)
	if err != nil {
		return nil, err
	}
	samples, err := s.Ledger.ListSamples(c.Context(), matchID)
	if err != nil {
		return nil, err
	}
	return BuildSeries(bots, samples), nil
}

// RegisterBot handles POST /match/:id/register
func (s *MatchService) RegisterBot(c *fiber.Ctx) error {
	id := c.Params("id")

	var req struct {
		Address     string `json:"address" validate:"required"`
		Name        string `json:"name" validate:"required"`
		Description string `json:"description"`
		Strategy    string `json:"strategy" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	if !common.IsHexAddress(req.Address) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid wallet address"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 64 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Bot name must be 1-64 characters"})
	}
	if strings.TrimSpace(req.Strategy) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Strategy prompt is required"})
	}
	if len(req.Strategy) > models.MaxStrategyLen {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Strategy prompt exceeds 500 characters"})
	}

	actor, err := s.Coord.Ensure(c.Context(), id)
	if err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Match not found"})
		}
		log.Printf("❌ [Match] register lookup failed for %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}
	if actor == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match is not open for registration"})
	}

	bot := &models.Bot{
		OwnerAddress: strings.ToLower(req.Address),
		Name:         req.Name,
		Slug:         slug.Make(req.Name),
		Description:  req.Description,
		Strategy:     req.Strategy,
	}

	created, err := actor.Register(c.Context(), bot)
	if err != nil {
		switch {
		case errors.Is(err, ErrMatchNotOpen):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match is not open for registration"})
		case errors.Is(err, ErrCapacityReached):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match is full"})
		case errors.Is(err, ErrAlreadyRegistered):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "This wallet already has a bot in the match"})
		case errors.Is(err, ErrNotEligible):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Burn requirement not met"})
		case errors.Is(err, ErrActorStopped):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Match coordinator unavailable, try again"})
		default:
			log.Printf("❌ [Match] registration failed for %s: %v", id, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Registration failed"})
		}
	}

	created.Status = models.MatchStatusPending
	return c.Status(fiber.StatusCreated).JSON(created)
}

// GetBurns handles GET /burns/:address
func (s *MatchService) GetBurns(c *fiber.Ctx) error {
	address := c.Params("address")
	if !common.IsHexAddress(address) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid wallet address"})
	}
	lower := strings.ToLower(address)

	burns, err := s.Ledger.ListBurns(c.Context(), lower)
	if err != nil {
		log.Printf("❌ [Burns] list failed for %s: %v", lower, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}
	total, err := s.Ledger.VerifiedBurnNative(c.Context(), lower)
	if err != nil {
		log.Printf("❌ [Burns] total failed for %s: %v", lower, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	return c.JSON(fiber.Map{
		"address":      lower,
		"total_native": total,
		"burns":        burns,
	})
}

// CreateMatch handles POST /admin/match/create
func (s *MatchService) CreateMatch(c *fiber.Ctx) error {
	var req struct {
		StartTs       string `json:"startTs"`
		DurationHours int    `json:"durationHours"`
		MaxBots       *int   `json:"maxBots"`
		PrizeSplits   []int  `json:"prizeSplits"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	start := time.Now().Add(5 * time.Minute)
	if req.StartTs != "" {
		parsed, err := time.Parse(time.RFC3339, req.StartTs)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "startTs must be RFC3339"})
		}
		start = parsed
	}
	duration := 24 * time.Hour
	if req.DurationHours != 0 {
		if req.DurationHours < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "durationHours must be positive"})
		}
		duration = time.Duration(req.DurationHours) * time.Hour
	}
	maxBots := DefaultMaxBots
	if req.MaxBots != nil {
		if *req.MaxBots < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "maxBots must be zero or positive"})
		}
		maxBots = *req.MaxBots
	}

	splits := req.PrizeSplits
	if len(splits) == 0 {
		splits = DefaultPrizeSplits
	}
	pctTotal := 0
	for _, p := range splits {
		if p <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "prize splits must be positive percentages"})
		}
		pctTotal += p
	}
	if pctTotal > 100 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "prize splits exceed 100%"})
	}

	match := &models.Match{
		ID:          uuid.NewString(),
		Status:      models.MatchStatusPending,
		StartTime:   start,
		EndTime:     start.Add(duration),
		MaxBots:     maxBots,
		PrizeSplits: datatypes.JSONSlice[int](splits),
	}

	if _, err := s.Coord.CreateMatch(c.Context(), match); err != nil {
		log.Printf("❌ [Match] create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create match"})
	}

	return c.Status(fiber.StatusCreated).JSON(match)
}

// StartMatch handles POST /admin/match/:id/start
func (s *MatchService) StartMatch(c *fiber.Ctx) error {
	id := c.Params("id")

	actor, err := s.Coord.Ensure(c.Context(), id)
	if err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Match not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}
	if actor == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match already settled"})
	}

	if err := actor.Start(c.Context(), time.Now()); err != nil {
		switch {
		case errors.Is(err, ErrTooEarly):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match has not reached its start time"})
		case errors.Is(err, ErrWrongState):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match is not pending"})
		case errors.Is(err, ErrActorStopped):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Match coordinator unavailable, try again"})
		default:
			log.Printf("❌ [Match] start failed for %s: %v", id, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to start match"})
		}
	}

	return c.JSON(fiber.Map{
		"message":  "match started",
		"match_id": id,
		"status":   models.MatchStatusRunning,
	})
}

// SettleMatch handles POST /admin/match/:id/settle
func (s *MatchService) SettleMatch(c *fiber.Ctx) error {
	id := c.Params("id")

	actor, err := s.Coord.Ensure(c.Context(), id)
	if err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Match not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	if actor == nil {
		// Already settled (or completed) with no live actor: replay the
		// stored result so retries stay idempotent across restarts.
		result, err := s.storedSettlement(c, id)
		if err != nil {
			log.Printf("❌ [Match] stored settlement load failed for %s: %v", id, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
		}
		return c.JSON(result)
	}

	result, err := actor.Settle(c.Context(), time.Now())
	if err != nil {
		switch {
		case errors.Is(err, ErrTooEarly):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match has not reached its end time"})
		case errors.Is(err, ErrWrongState):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match has not started"})
		case errors.Is(err, ErrUpstream):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Pricing unavailable, settlement aborted"})
		case errors.Is(err, ErrActorStopped):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Match coordinator unavailable, try again"})
		default:
			log.Printf("❌ [Match] settle failed for %s: %v", id, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settlement failed"})
		}
	}

	return c.JSON(result)
}

func (s *MatchService) storedSettlement(c *fiber.Ctx, id string) (*SettlementResult, error) {
	match, err := s.Ledger.GetMatch(c.Context(), id)
	if err != nil {
		return nil, err
	}
	winners, err := s.Ledger.ListWinners(c.Context(), id)
	if err != nil {
		return nil, err
	}

	result := &SettlementResult{
		MatchID:     match.ID,
		TotalBurned: match.TotalBurned,
		PrizePool:   match.PrizePool,
		ResultHash:  match.ResultHash,
		Winners:     winners,
		Replayed:    true,
	}
	if match.SettledAt != nil {
		result.SettledAt = *match.SettledAt
	}
	return result, nil
}

// CompleteMatch handles POST /admin/match/:id/complete
func (s *MatchService) CompleteMatch(c *fiber.Ctx) error {
	id := c.Params("id")

	var req struct {
		Force bool `json:"force"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
	}

	now := time.Now()

	if actor, ok := s.Coord.Actor(id); ok {
		err := actor.MarkCompleted(c.Context(), req.Force, now)
		if err == nil {
			s.Coord.Retire(id)
			return c.JSON(fiber.Map{"message": "match completed", "match_id": id, "status": models.MatchStatusCompleted})
		}
		switch {
		case errors.Is(err, ErrWinnersUnpaid):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match still has unpaid winners"})
		case errors.Is(err, ErrWrongState):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match is not settled"})
		case errors.Is(err, ErrActorStopped):
			// Actor died between lookup and op; fall through to the ledger.
		default:
			log.Printf("❌ [Match] complete failed for %s: %v", id, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to complete match"})
		}
	}

	// No live actor (post-restart path): the ledger's conditional update
	// still guards the transition.
	if _, err := s.Ledger.GetMatch(c.Context(), id); err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Match not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}
	if !req.Force {
		winners, err := s.Ledger.ListWinners(c.Context(), id)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
		}
		for _, w := range winners {
			if !w.Paid {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match still has unpaid winners"})
			}
		}
	}
	if err := s.Ledger.SetMatchCompleted(c.Context(), id, now); err != nil {
		if errors.Is(err, ErrWrongState) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Match is not settled"})
		}
		log.Printf("❌ [Match] complete failed for %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to complete match"})
	}

	return c.JSON(fiber.Map{"message": "match completed", "match_id": id, "status": models.MatchStatusCompleted})
}
