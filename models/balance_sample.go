package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSample is one point of a bot's portfolio valuation series.
// Append-only while the match runs; never written once settlement begins.
type BalanceSample struct {
	ID        string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	MatchID   string          `gorm:"type:uuid;not null;index" json:"match_id"`
	BotID     string          `gorm:"type:uuid;not null;uniqueIndex:idx_samples_bot_time" json:"bot_id"`
	SampledAt time.Time       `gorm:"not null;uniqueIndex:idx_samples_bot_time" json:"sampled_at"`
	Valuation decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"valuation"`
	CreatedAt time.Time       `json:"created_at" gorm:"autoCreateTime"`
}
