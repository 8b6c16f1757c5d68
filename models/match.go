package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MatchStatus indicates where a match sits in its lifecycle.
// Transitions are strictly pending → running → settled → completed.
type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusRunning   MatchStatus = "running"
	MatchStatusSettled   MatchStatus = "settled"
	MatchStatusCompleted MatchStatus = "completed"
)

// Match represents one timed arena round bots compete in
type Match struct {
	ID          string                   `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Status      MatchStatus              `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	StartTime   time.Time                `gorm:"not null" json:"start_time"`
	EndTime     time.Time                `gorm:"not null" json:"end_time"`
	MaxBots     int                      `gorm:"default:0" json:"max_bots"` // 0 = unlimited
	PrizeSplits datatypes.JSONSlice[int] `gorm:"type:jsonb" json:"prize_splits"`

	// Settlement outputs (written once, inside the settling transaction)
	TotalBurned decimal.Decimal `gorm:"type:numeric(38,18);default:0" json:"total_burned"`
	PrizePool   decimal.Decimal `gorm:"type:numeric(38,18);default:0" json:"prize_pool"`
	ResultHash  string          `gorm:"type:varchar(64)" json:"result_hash,omitempty"`
	SettledAt   *time.Time      `json:"settled_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	// Relationships
	Bots    []Bot    `json:"bots,omitempty" gorm:"foreignKey:MatchID"`
	Winners []Winner `json:"winners,omitempty" gorm:"foreignKey:MatchID"`

	// Calculated fields (not stored in DB)
	BotCount         int64           `json:"bot_count,omitempty" gorm:"-"`
	SecondsRemaining int64           `json:"seconds_remaining,omitempty" gorm:"-"`
	VerifiedBurned   decimal.Decimal `json:"verified_burned,omitempty" gorm:"-"`

	Timestamps
}

// IsOpen reports whether the match still accepts registrations.
func (m *Match) IsOpen() bool {
	return m.Status == MatchStatusPending
}
