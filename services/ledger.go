package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bot-arena-system/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MatchLedger is the persistence contract the coordinator and HTTP
// services depend on. Settlement writes are transactional: SettleMatch
// either records everything (status, totals, winners, burn attribution)
// or nothing.
type MatchLedger interface {
	CreateMatch(ctx context.Context, match *models.Match) error
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	GetMatchDetail(ctx context.Context, id string) (*models.Match, error)
	CurrentMatch(ctx context.Context) (*models.Match, error)
	OpenMatches(ctx context.Context) ([]models.Match, error)
	SetMatchRunning(ctx context.Context, id string) error
	SetMatchCompleted(ctx context.Context, id string, completedAt time.Time) error
	SettleMatch(ctx context.Context, match *models.Match, winners []models.Winner, burnIDs []string) error

	CreateBot(ctx context.Context, bot *models.Bot) error
	ListBots(ctx context.Context, matchID string) ([]models.Bot, error)

	AppendSample(ctx context.Context, sample *models.BalanceSample) error
	ListSamples(ctx context.Context, matchID string) ([]models.BalanceSample, error)
	ListSamplesAfter(ctx context.Context, matchID string, after time.Time) ([]models.BalanceSample, error)

	GetWinner(ctx context.Context, id string) (*models.Winner, error)
	ListWinners(ctx context.Context, matchID string) ([]models.Winner, error)
	ListUnpaidWinners(ctx context.Context) ([]models.Winner, error)
	MarkWinnerPaid(ctx context.Context, winnerID, txHash string) (*models.Winner, error)

	VerifiedBurnNative(ctx context.Context, address string) (decimal.Decimal, error)
	ListBurns(ctx context.Context, address string) ([]models.BurnRecord, error)
	UnconsumedBurns(ctx context.Context, before time.Time) ([]models.BurnRecord, error)
}

// GormLedger is the Postgres-backed MatchLedger.
type GormLedger struct {
	DB *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{DB: db}
}

func (l *GormLedger) CreateMatch(ctx context.Context, match *models.Match) error {
	return l.DB.WithContext(ctx).Create(match).Error
}

func (l *GormLedger) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	var match models.Match
	if err := l.DB.WithContext(ctx).First(&match, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return &match, nil
}

// GetMatchDetail loads a match with its roster and, once settled, winners.
func (l *GormLedger) GetMatchDetail(ctx context.Context, id string) (*models.Match, error) {
	var match models.Match
	err := l.DB.WithContext(ctx).
		Preload("Bots", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Winners", func(db *gorm.DB) *gorm.DB { return db.Order("rank ASC") }).
		First(&match, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return &match, nil
}

// CurrentMatch returns the active running match, falling back to the
// earliest upcoming pending match. Running wins so that creating the
// next round never swaps the live chart out from under readers.
func (l *GormLedger) CurrentMatch(ctx context.Context) (*models.Match, error) {
	var match models.Match
	err := l.DB.WithContext(ctx).
		Where("status = ?", models.MatchStatusRunning).
		Order("end_time ASC").
		First(&match).Error
	if err == nil {
		return &match, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = l.DB.WithContext(ctx).
		Where("status = ?", models.MatchStatusPending).
		Order("start_time ASC").
		First(&match).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return &match, nil
}

// OpenMatches returns every pending or running match, oldest first. Used
// to rebuild coordinators after a restart.
func (l *GormLedger) OpenMatches(ctx context.Context) ([]models.Match, error) {
	var matches []models.Match
	err := l.DB.WithContext(ctx).
		Where("status IN ?", []models.MatchStatus{models.MatchStatusPending, models.MatchStatusRunning}).
		Order("start_time ASC").
		Find(&matches).Error
	return matches, err
}

func (l *GormLedger) SetMatchRunning(ctx context.Context, id string) error {
	res := l.DB.WithContext(ctx).Model(&models.Match{}).
		Where("id = ? AND status = ?", id, models.MatchStatusPending).
		Update("status", models.MatchStatusRunning)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWrongState
	}
	return nil
}

func (l *GormLedger) SetMatchCompleted(ctx context.Context, id string, completedAt time.Time) error {
	res := l.DB.WithContext(ctx).Model(&models.Match{}).
		Where("id = ? AND status = ?", id, models.MatchStatusSettled).
		Updates(map[string]interface{}{
			"status":       models.MatchStatusCompleted,
			"completed_at": completedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWrongState
	}
	return nil
}

// SettleMatch writes the whole settlement atomically. The status guard
// carries the exactly-once property down to the database: a second
// settle attempt that somehow reaches this far affects zero rows and
// rolls back without touching winners or burns.
func (l *GormLedger) SettleMatch(ctx context.Context, match *models.Match, winners []models.Winner, burnIDs []string) error {
	return l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ? AND status = ?", match.ID, models.MatchStatusRunning).
			Updates(map[string]interface{}{
				"status":       models.MatchStatusSettled,
				"total_burned": match.TotalBurned,
				"prize_pool":   match.PrizePool,
				"result_hash":  match.ResultHash,
				"settled_at":   match.SettledAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrWrongState
		}

		if len(winners) > 0 {
			if err := tx.Create(&winners).Error; err != nil {
				return fmt.Errorf("create winners: %w", err)
			}
		}

		if len(burnIDs) > 0 {
			res := tx.Model(&models.BurnRecord{}).
				Where("id IN ? AND consumed_by_match_id IS NULL", burnIDs).
				Update("consumed_by_match_id", match.ID)
			if res.Error != nil {
				return fmt.Errorf("attribute burns: %w", res.Error)
			}
			// A shortfall means another match's settlement claimed part of
			// this burn set after the caller read it. The pool counted
			// those burns, so the whole write rolls back; the caller
			// recomputes from what is still unconsumed.
			if res.RowsAffected != int64(len(burnIDs)) {
				return ErrBurnContention
			}
		}

		return nil
	})
}

func (l *GormLedger) CreateBot(ctx context.Context, bot *models.Bot) error {
	return l.DB.WithContext(ctx).Create(bot).Error
}

func (l *GormLedger) ListBots(ctx context.Context, matchID string) ([]models.Bot, error) {
	var bots []models.Bot
	err := l.DB.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("created_at ASC").
		Find(&bots).Error
	return bots, err
}

func (l *GormLedger) AppendSample(ctx context.Context, sample *models.BalanceSample) error {
	return l.DB.WithContext(ctx).Create(sample).Error
}

func (l *GormLedger) ListSamples(ctx context.Context, matchID string) ([]models.BalanceSample, error) {
	var samples []models.BalanceSample
	err := l.DB.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("sampled_at ASC").
		Find(&samples).Error
	return samples, err
}

func (l *GormLedger) ListSamplesAfter(ctx context.Context, matchID string, after time.Time) ([]models.BalanceSample, error) {
	var samples []models.BalanceSample
	err := l.DB.WithContext(ctx).
		Where("match_id = ? AND sampled_at > ?", matchID, after).
		Order("sampled_at ASC").
		Find(&samples).Error
	return samples, err
}

func (l *GormLedger) GetWinner(ctx context.Context, id string) (*models.Winner, error) {
	var winner models.Winner
	if err := l.DB.WithContext(ctx).First(&winner, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWinnerNotFound
		}
		return nil, err
	}
	return &winner, nil
}

func (l *GormLedger) ListWinners(ctx context.Context, matchID string) ([]models.Winner, error) {
	var winners []models.Winner
	err := l.DB.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("rank ASC").
		Find(&winners).Error
	return winners, err
}

func (l *GormLedger) ListUnpaidWinners(ctx context.Context) ([]models.Winner, error) {
	var winners []models.Winner
	err := l.DB.WithContext(ctx).
		Where("paid = ?", false).
		Order("created_at ASC").
		Find(&winners).Error
	return winners, err
}

// MarkWinnerPaid flips a winner to paid at most once. The paid = false
// predicate makes the transition race-proof; a second call reports
// ErrAlreadyPaid no matter which copy of the row the caller held.
func (l *GormLedger) MarkWinnerPaid(ctx context.Context, winnerID, txHash string) (*models.Winner, error) {
	now := time.Now()
	res := l.DB.WithContext(ctx).Model(&models.Winner{}).
		Where("id = ? AND paid = ?", winnerID, false).
		Updates(map[string]interface{}{
			"paid":           true,
			"payout_tx_hash": txHash,
			"paid_at":        now,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	var winner models.Winner
	if err := l.DB.WithContext(ctx).First(&winner, "id = ?", winnerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWinnerNotFound
		}
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyPaid
	}
	return &winner, nil
}

func (l *GormLedger) VerifiedBurnNative(ctx context.Context, address string) (decimal.Decimal, error) {
	var total decimal.Decimal
	row := l.DB.WithContext(ctx).Model(&models.BurnRecord{}).
		Where("address = ? AND verified = ?", address, true).
		Select("COALESCE(SUM(native_amount), 0)").
		Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (l *GormLedger) ListBurns(ctx context.Context, address string) ([]models.BurnRecord, error) {
	var burns []models.BurnRecord
	err := l.DB.WithContext(ctx).
		Where("address = ? AND verified = ?", address, true).
		Order("burned_at DESC").
		Find(&burns).Error
	return burns, err
}

// UnconsumedBurns returns verified burns no settlement has counted yet.
func (l *GormLedger) UnconsumedBurns(ctx context.Context, before time.Time) ([]models.BurnRecord, error) {
	var burns []models.BurnRecord
	err := l.DB.WithContext(ctx).
		Where("verified = ? AND consumed_by_match_id IS NULL AND burned_at <= ?", true, before).
		Order("burned_at ASC").
		Find(&burns).Error
	return burns, err
}
