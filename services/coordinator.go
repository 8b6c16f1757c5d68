package services

import (
	"context"
	"log"
	"sync"

	"bot-arena-system/models"
)

// Coordinator owns the actor registry: exactly one MatchActor per open
// match. Settled and completed matches have no actor; their reads and
// payout writes go straight to the ledger, whose conditional updates
// carry the same guarantees.
type Coordinator struct {
	mu     sync.RWMutex
	actors map[string]*MatchActor

	deps ActorDeps
	cfg  ActorConfig
}

func NewCoordinator(deps ActorDeps, cfg ActorConfig) *Coordinator {
	return &Coordinator{
		actors: make(map[string]*MatchActor),
		deps:   deps,
		cfg:    cfg,
	}
}

// CreateMatch persists a new pending match and spawns its actor. The
// caller has already validated and defaulted the fields.
func (c *Coordinator) CreateMatch(ctx context.Context, match *models.Match) (*MatchActor, error) {
	if err := c.deps.Ledger.CreateMatch(ctx, match); err != nil {
		return nil, err
	}

	actor := NewMatchActor(*match, nil, nil, nil, c.deps, c.cfg)
	c.mu.Lock()
	c.actors[match.ID] = actor
	c.mu.Unlock()

	log.Printf("✅ [Coordinator] match %s created (%s → %s)", match.ID,
		match.StartTime.Format("2006-01-02 15:04"), match.EndTime.Format("2006-01-02 15:04"))
	return actor, nil
}

// Actor returns the live actor for a match, if one exists.
func (c *Coordinator) Actor(id string) (*MatchActor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.actors[id]
	return a, ok
}

// Ensure returns the actor for an open match, spawning one from ledger
// state when it is missing. For settled and completed matches it returns
// (nil, nil): those have retired their actor and callers use the ledger
// directly.
func (c *Coordinator) Ensure(ctx context.Context, id string) (*MatchActor, error) {
	if a, ok := c.Actor(id); ok {
		return a, nil
	}

	match, err := c.deps.Ledger.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if match.Status != models.MatchStatusPending && match.Status != models.MatchStatusRunning {
		return nil, nil
	}

	fresh, err := c.spawn(ctx, *match)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.actors[id]; ok {
		c.mu.Unlock()
		fresh.Stop()
		return existing, nil
	}
	c.actors[id] = fresh
	c.mu.Unlock()
	return fresh, nil
}

// Rehydrate rebuilds actors for every open match. Called once at boot so
// a restart never strands a pending or running match.
func (c *Coordinator) Rehydrate(ctx context.Context) error {
	matches, err := c.deps.Ledger.OpenMatches(ctx)
	if err != nil {
		return err
	}

	for _, match := range matches {
		actor, err := c.spawn(ctx, match)
		if err != nil {
			log.Printf("❌ [Coordinator] failed to rehydrate match %s: %v", match.ID, err)
			continue
		}
		c.mu.Lock()
		c.actors[match.ID] = actor
		c.mu.Unlock()
	}

	log.Printf("✅ [Coordinator] rehydrated %d open match(es)", len(matches))
	return nil
}

// Retire stops and forgets an actor. Used after completion.
func (c *Coordinator) Retire(id string) {
	c.mu.Lock()
	actor, ok := c.actors[id]
	if ok {
		delete(c.actors, id)
	}
	c.mu.Unlock()

	if ok {
		actor.Stop()
	}
}

// Shutdown stops every live actor.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	actors := make([]*MatchActor, 0, len(c.actors))
	for _, a := range c.actors {
		actors = append(actors, a)
	}
	c.actors = make(map[string]*MatchActor)
	c.mu.Unlock()

	for _, a := range actors {
		a.Stop()
	}
}

func (c *Coordinator) spawn(ctx context.Context, match models.Match) (*MatchActor, error) {
	bots, err := c.deps.Ledger.ListBots(ctx, match.ID)
	if err != nil {
		return nil, err
	}

	var samples []models.BalanceSample
	if match.Status == models.MatchStatusRunning {
		samples, err = c.deps.Ledger.ListSamples(ctx, match.ID)
		if err != nil {
			return nil, err
		}
	}

	return NewMatchActor(match, bots, samples, nil, c.deps, c.cfg), nil
}
