package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"bot-arena-system/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementArchiver stores the immutable settlement report. Failures are
// logged, never surfaced to the settling operation.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, matchID string, report []byte) (string, error)
}

// ActorDeps are the collaborators a match actor drives.
type ActorDeps struct {
	Ledger    MatchLedger
	Evaluator Evaluator
	Feed      PriceFeed          // optional; nil falls back to stored native equivalents
	Archiver  SettlementArchiver // optional
}

// ActorConfig carries the tunables every actor shares.
type ActorConfig struct {
	SampleInterval    time.Duration
	MinBurnToRegister decimal.Decimal
}

// SettlementResult is what Settle returns, on first computation and on
// idempotent replay alike.
type SettlementResult struct {
	MatchID     string          `json:"match_id"`
	SettledAt   time.Time       `json:"settled_at"`
	TotalBurned decimal.Decimal `json:"total_burned"`
	PrizePool   decimal.Decimal `json:"prize_pool"`
	ResultHash  string          `json:"result_hash"`
	Winners     []models.Winner `json:"winners"`
	Replayed    bool            `json:"replayed"`
}

// MatchSummary is the public snapshot of one match.
type MatchSummary struct {
	Match            models.Match    `json:"match"`
	BotCount         int             `json:"bot_count"`
	SecondsRemaining int64           `json:"seconds_remaining"`
	VerifiedBurned   decimal.Decimal `json:"verified_burned"`
}

// MatchActor is the single writer for one match. All mutations and reads
// funnel through its operation queue, so every observer sees either the
// state before a transition or after it, never between. The run loop also
// owns the sampling ticker, which makes "no sample after settlement" hold
// by construction.
type MatchActor struct {
	ID string

	deps ActorDeps
	cfg  ActorConfig

	ops      chan *matchOp
	done     chan struct{}
	stopOnce sync.Once
	stopMu   sync.RWMutex
	stopped  bool

	// Owned by the run goroutine. Nothing below is touched from outside.
	match   models.Match
	bots    []models.Bot
	samples []models.BalanceSample
	winners []models.Winner
}

type matchOp struct {
	run     func()
	done    chan struct{}
	skipped bool // set by shutdown drain when the op never ran
}

// NewMatchActor starts the actor around already-loaded state and returns it.
func NewMatchActor(match models.Match, bots []models.Bot, samples []models.BalanceSample, winners []models.Winner, deps ActorDeps, cfg ActorConfig) *MatchActor {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Minute
	}
	a := &MatchActor{
		ID:      match.ID,
		deps:    deps,
		cfg:     cfg,
		ops:     make(chan *matchOp, 64),
		done:    make(chan struct{}),
		match:   match,
		bots:    bots,
		samples: samples,
		winners: winners,
	}
	go a.run()
	return a
}

// Stop retires the actor. Queued operations that have not started report
// ErrActorStopped to their callers; an operation already executing runs
// to completion and reports success.
func (a *MatchActor) Stop() {
	a.stopOnce.Do(func() {
		a.stopMu.Lock()
		a.stopped = true
		close(a.done)
		a.stopMu.Unlock()
	})
}

func (a *MatchActor) run() {
	ticker := time.NewTicker(a.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case op := <-a.ops:
			op.run()
			close(op.done)
		case <-ticker.C:
			a.sampleTick()
		case <-a.done:
			a.drain()
			return
		}
	}
}

// drain releases every queued op without running it. Enqueues happen
// under stopMu's read lock and stop under its write lock, so nothing can
// land in the queue after this empties it.
func (a *MatchActor) drain() {
	for {
		select {
		case op := <-a.ops:
			op.skipped = true
			close(op.done)
		default:
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it to finish. An op
// the loop accepted is always resolved: executed ops report nil even if
// the actor stops while they run, drained ops report ErrActorStopped.
func (a *MatchActor) do(fn func()) error {
	op := &matchOp{run: fn, done: make(chan struct{})}

	a.stopMu.RLock()
	if a.stopped {
		a.stopMu.RUnlock()
		return ErrActorStopped
	}
	a.ops <- op
	a.stopMu.RUnlock()

	<-op.done
	if op.skipped {
		return ErrActorStopped
	}
	return nil
}

// Register adds a bot to a still-open match.
func (a *MatchActor) Register(ctx context.Context, bot *models.Bot) (*models.Bot, error) {
	var err error
	if derr := a.do(func() { err = a.register(ctx, bot) }); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}
	return bot, nil
}

// Start moves a pending match to running once its start time has passed.
func (a *MatchActor) Start(ctx context.Context, now time.Time) error {
	var err error
	if derr := a.do(func() { err = a.start(ctx, now) }); derr != nil {
		return derr
	}
	return err
}

// Settle finishes the match exactly once. Replays return the stored result.
func (a *MatchActor) Settle(ctx context.Context, now time.Time) (*SettlementResult, error) {
	var res *SettlementResult
	var err error
	if derr := a.do(func() { res, err = a.settle(ctx, now) }); derr != nil {
		return nil, derr
	}
	return res, err
}

// MarkCompleted closes out a settled match.
func (a *MatchActor) MarkCompleted(ctx context.Context, force bool, now time.Time) error {
	var err error
	if derr := a.do(func() { err = a.markCompleted(ctx, force, now) }); derr != nil {
		return derr
	}
	return err
}

// MarkWinnerPaid records the one legal winner mutation.
func (a *MatchActor) MarkWinnerPaid(ctx context.Context, winnerID, txHash string) (*models.Winner, error) {
	var winner *models.Winner
	var err error
	if derr := a.do(func() { winner, err = a.markWinnerPaid(ctx, winnerID, txHash) }); derr != nil {
		return nil, derr
	}
	return winner, err
}

// History snapshots every bot's valuation series.
func (a *MatchActor) History() ([]BotSeries, error) {
	var series []BotSeries
	if derr := a.do(func() { series = BuildSeries(a.bots, a.samples) }); derr != nil {
		return nil, derr
	}
	return series, nil
}

// Summary snapshots the match for listing endpoints.
func (a *MatchActor) Summary(ctx context.Context) (*MatchSummary, error) {
	var summary *MatchSummary
	if derr := a.do(func() { summary = a.summary(ctx) }); derr != nil {
		return nil, derr
	}
	return summary, nil
}

// --- loop-side implementations ---

func (a *MatchActor) register(ctx context.Context, bot *models.Bot) error {
	if a.match.Status != models.MatchStatusPending {
		return ErrMatchNotOpen
	}
	if a.match.MaxBots > 0 && len(a.bots) >= a.match.MaxBots {
		return ErrCapacityReached
	}

	bot.OwnerAddress = strings.ToLower(bot.OwnerAddress)
	for _, existing := range a.bots {
		if existing.OwnerAddress == bot.OwnerAddress {
			return ErrAlreadyRegistered
		}
	}

	if a.cfg.MinBurnToRegister.IsPositive() {
		total, err := a.deps.Ledger.VerifiedBurnNative(ctx, bot.OwnerAddress)
		if err != nil {
			return err
		}
		if total.LessThan(a.cfg.MinBurnToRegister) {
			return ErrNotEligible
		}
	}

	bot.ID = uuid.NewString()
	bot.MatchID = a.match.ID
	if err := a.deps.Ledger.CreateBot(ctx, bot); err != nil {
		return err
	}
	a.bots = append(a.bots, *bot)

	log.Printf("✅ [Match %s] bot %q registered by %s (%d total)", a.ID, bot.Name, bot.OwnerAddress, len(a.bots))
	return nil
}

func (a *MatchActor) start(ctx context.Context, now time.Time) error {
	if a.match.Status != models.MatchStatusPending {
		return ErrWrongState
	}
	if now.Before(a.match.StartTime) {
		return ErrTooEarly
	}

	if err := a.deps.Ledger.SetMatchRunning(ctx, a.match.ID); err != nil {
		return err
	}
	a.match.Status = models.MatchStatusRunning

	log.Printf("✅ [Match %s] running with %d bots until %s", a.ID, len(a.bots), a.match.EndTime.Format(time.RFC3339))
	return nil
}

func (a *MatchActor) settle(ctx context.Context, now time.Time) (*SettlementResult, error) {
	switch a.match.Status {
	case models.MatchStatusSettled, models.MatchStatusCompleted:
		return a.storedResult(), nil
	case models.MatchStatusPending:
		return nil, ErrWrongState
	}
	if now.Before(a.match.EndTime) {
		return nil, ErrTooEarly
	}

	// Another match's settlement can claim part of the burn set between
	// our read and our write; the ledger detects that and rolls back, and
	// we recompute the pool from whatever is still unconsumed.
	var res *SettlementResult
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		res, err = a.settleOnce(ctx, now)
		if !errors.Is(err, ErrBurnContention) {
			return res, err
		}
		log.Printf("⚠️ [Match %s] burn set contended, recomputing pool", a.ID)
	}
	return nil, err
}

func (a *MatchActor) settleOnce(ctx context.Context, now time.Time) (*SettlementResult, error) {
	// Sampling is off from here: this runs on the loop goroutine, so no
	// tick can interleave, and the status flip below keeps later ticks out.
	burns, err := a.deps.Ledger.UnconsumedBurns(ctx, a.match.EndTime)
	if err != nil {
		return nil, err
	}
	tokenTotal, nativeTotal := BurnTotals(burns)

	pool := nativeTotal
	if a.deps.Feed != nil && tokenTotal.IsPositive() {
		converted, ferr := a.deps.Feed.TokenToNative(ctx, tokenTotal)
		if ferr != nil {
			if nativeTotal.IsZero() {
				return nil, ferr
			}
			log.Printf("⚠️ [Match %s] price feed unavailable, using burn-time equivalents: %v", a.ID, ferr)
		} else {
			pool = converted
		}
	}

	standings := RankBots(a.bots, FinalValuations(a.bots, a.samples))
	splits := []int(a.match.PrizeSplits)
	if len(splits) == 0 {
		splits = DefaultPrizeSplits
	}
	standings = SplitPrizes(standings, pool, splits)
	hash := ResultFingerprint(standings)

	prized := len(splits)
	if prized > len(standings) {
		prized = len(standings)
	}
	winners := make([]models.Winner, 0, prized)
	for _, s := range standings[:prized] {
		winners = append(winners, models.Winner{
			ID:        uuid.NewString(),
			MatchID:   a.match.ID,
			BotID:     s.BotID,
			Address:   s.Address,
			Rank:      s.Rank,
			Valuation: s.Valuation,
			Prize:     s.Prize,
		})
	}

	burnIDs := make([]string, 0, len(burns))
	for _, b := range burns {
		burnIDs = append(burnIDs, b.ID)
	}

	settled := a.match
	settledAt := now
	settled.SettledAt = &settledAt
	settled.TotalBurned = tokenTotal
	settled.PrizePool = pool
	settled.ResultHash = hash

	if err := a.deps.Ledger.SettleMatch(ctx, &settled, winners, burnIDs); err != nil {
		return nil, err
	}

	settled.Status = models.MatchStatusSettled
	a.match = settled
	a.winners = winners

	log.Printf("✅ [Match %s] settled: %d winners, pool %s, hash %s", a.ID, len(winners), pool.String(), hash[:12])

	if a.deps.Archiver != nil {
		report, merr := json.Marshal(settlementReport{
			MatchID:     a.match.ID,
			SettledAt:   settledAt,
			TotalBurned: tokenTotal,
			PrizePool:   pool,
			ResultHash:  hash,
			Standings:   standings,
		})
		if merr == nil {
			go a.archiveReport(report)
		}
	}

	res := a.storedResult()
	res.Replayed = false
	return res, nil
}

type settlementReport struct {
	MatchID     string          `json:"match_id"`
	SettledAt   time.Time       `json:"settled_at"`
	TotalBurned decimal.Decimal `json:"total_burned"`
	PrizePool   decimal.Decimal `json:"prize_pool"`
	ResultHash  string          `json:"result_hash"`
	Standings   []Standing      `json:"standings"`
}

func (a *MatchActor) archiveReport(report []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url, err := a.deps.Archiver.ArchiveSettlement(ctx, a.ID, report)
	if err != nil {
		log.Printf("⚠️ [Match %s] settlement report archive failed: %v", a.ID, err)
		return
	}
	log.Printf("✅ [Match %s] settlement report archived: %s", a.ID, url)
}

func (a *MatchActor) storedResult() *SettlementResult {
	winners := make([]models.Winner, len(a.winners))
	copy(winners, a.winners)

	res := &SettlementResult{
		MatchID:     a.match.ID,
		TotalBurned: a.match.TotalBurned,
		PrizePool:   a.match.PrizePool,
		ResultHash:  a.match.ResultHash,
		Winners:     winners,
		Replayed:    true,
	}
	if a.match.SettledAt != nil {
		res.SettledAt = *a.match.SettledAt
	}
	return res
}

func (a *MatchActor) markCompleted(ctx context.Context, force bool, now time.Time) error {
	if a.match.Status != models.MatchStatusSettled {
		return ErrWrongState
	}
	if !force {
		for _, w := range a.winners {
			if !w.Paid {
				return ErrWinnersUnpaid
			}
		}
	}

	if err := a.deps.Ledger.SetMatchCompleted(ctx, a.match.ID, now); err != nil {
		return err
	}
	a.match.Status = models.MatchStatusCompleted
	a.match.CompletedAt = &now

	log.Printf("✅ [Match %s] completed", a.ID)
	return nil
}

func (a *MatchActor) markWinnerPaid(ctx context.Context, winnerID, txHash string) (*models.Winner, error) {
	idx := -1
	for i, w := range a.winners {
		if w.ID == winnerID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrWinnerNotFound
	}

	updated, err := a.deps.Ledger.MarkWinnerPaid(ctx, winnerID, txHash)
	if err != nil {
		return nil, err
	}
	a.winners[idx] = *updated

	log.Printf("✅ [Match %s] winner %s (rank %d) marked paid: %s", a.ID, winnerID, updated.Rank, txHash)
	return updated, nil
}

func (a *MatchActor) summary(ctx context.Context) *MatchSummary {
	s := &MatchSummary{
		Match:            a.match,
		BotCount:         len(a.bots),
		SecondsRemaining: matchSecondsRemaining(&a.match, time.Now()),
	}
	if a.match.Status == models.MatchStatusPending || a.match.Status == models.MatchStatusRunning {
		burns, err := a.deps.Ledger.UnconsumedBurns(ctx, time.Now())
		if err != nil {
			log.Printf("⚠️ [Match %s] burn totals unavailable for summary: %v", a.ID, err)
		} else {
			_, s.VerifiedBurned = BurnTotals(burns)
		}
	} else {
		s.VerifiedBurned = a.match.PrizePool
	}
	return s
}

// sampleTick records one valuation per bot. A failing bot is skipped and
// retried on the next tick; it never stalls the clock or the other bots.
func (a *MatchActor) sampleTick() {
	if a.match.Status != models.MatchStatusRunning {
		return
	}
	if len(a.bots) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SampleInterval)
	defer cancel()

	now := time.Now().UTC()
	for i := range a.bots {
		bot := &a.bots[i]

		valuation, err := a.deps.Evaluator.Evaluate(ctx, bot)
		if err != nil {
			log.Printf("⚠️ [Match %s] valuation failed for bot %s: %v", a.ID, bot.ID, err)
			continue
		}

		sample := models.BalanceSample{
			ID:        uuid.NewString(),
			MatchID:   a.match.ID,
			BotID:     bot.ID,
			SampledAt: now,
			Valuation: valuation,
		}
		if err := a.deps.Ledger.AppendSample(ctx, &sample); err != nil {
			log.Printf("⚠️ [Match %s] sample persist failed for bot %s: %v", a.ID, bot.ID, err)
			continue
		}
		a.samples = append(a.samples, sample)
	}
}
