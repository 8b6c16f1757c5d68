// services/scheduler.go
package services

import (
	"context"
	"errors"
	"log"
	"time"

	"bot-arena-system/models"

	"github.com/go-co-op/gocron/v2"
)

// StartLifecycleScheduler drives match transitions on the clock: pending
// matches start once their window opens, running matches settle once it
// closes. Everything goes through the same actor operations the admin
// endpoints use, so a manual trigger racing the scheduler is harmless.
func (s *MatchService) StartLifecycleScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
			defer cancel()

			now := time.Now()
			matches, err := s.Ledger.OpenMatches(ctx)
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}

			for _, match := range matches {
				switch {
				case match.Status == models.MatchStatusPending && !now.Before(match.StartTime):
					s.autoStart(ctx, match.ID, now)
				case match.Status == models.MatchStatusRunning && !now.Before(match.EndTime):
					s.autoSettle(ctx, match.ID, now)
				}
			}
		}),
	)
}

func (s *MatchService) autoStart(ctx context.Context, matchID string, now time.Time) {
	actor, err := s.Coord.Ensure(ctx, matchID)
	if err != nil || actor == nil {
		log.Printf("[Scheduler] no actor for match %s: %v", matchID, err)
		return
	}
	if err := actor.Start(ctx, now); err != nil {
		// ErrWrongState just means an admin beat us to it
		if !errors.Is(err, ErrWrongState) {
			log.Printf("[Scheduler] failed to start match %s: %v", matchID, err)
		}
		return
	}
	log.Printf("✅ Auto-started match: %s", matchID)
}

func (s *MatchService) autoSettle(ctx context.Context, matchID string, now time.Time) {
	actor, err := s.Coord.Ensure(ctx, matchID)
	if err != nil || actor == nil {
		log.Printf("[Scheduler] no actor for match %s: %v", matchID, err)
		return
	}
	result, err := actor.Settle(ctx, now)
	if err != nil {
		log.Printf("[Scheduler] failed to settle match %s: %v", matchID, err)
		return
	}
	if !result.Replayed {
		log.Printf("✅ Auto-settled match: %s (%d winners)", matchID, len(result.Winners))
	}
}
