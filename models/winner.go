package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Winner is one prize assignment produced by settlement. Rows are created
// only inside the settling transaction; the sole legal mutation afterwards
// is the single unpaid → paid transition carrying the payout reference.
type Winner struct {
	ID           string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	MatchID      string          `gorm:"type:uuid;not null;index" json:"match_id"`
	BotID        string          `gorm:"type:uuid;not null;index" json:"bot_id"`
	Address      string          `gorm:"type:varchar(64);not null;index" json:"address"`
	Rank         int             `gorm:"not null" json:"rank"`
	Valuation    decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"valuation"`
	Prize        decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"prize"`
	Paid         bool            `gorm:"default:false;index" json:"paid"`
	PayoutTxHash string          `json:"payout_tx_hash,omitempty"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
