// models/burn_record.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BurnRecord mirrors one confirmed token burn reported by the burn verifier.
// Table name: burn_records
type BurnRecord struct {
	ID           string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Address      string          `gorm:"type:varchar(64);not null;index" json:"address"` // lowercased hex
	TxHash       string          `gorm:"type:varchar(80);not null;uniqueIndex" json:"tx_hash"`
	TokenAmount  decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"token_amount"`
	NativeAmount decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"native_amount"` // native equivalent at verification time
	BurnedAt     time.Time       `gorm:"not null" json:"burned_at"`
	Verified     bool            `gorm:"not null;default:false;index" json:"verified"`

	// Set by the settlement that counted this burn into its prize pool;
	// NULL means the burn has not fueled any match yet.
	ConsumedByMatchID *string   `gorm:"type:uuid;index" json:"consumed_by_match_id,omitempty"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null" json:"updated_at"`
}
