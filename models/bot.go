package models

// MaxStrategyLen caps the natural-language strategy prompt
const MaxStrategyLen = 500

// Bot is one wallet's entry in a match. A wallet fields exactly one bot
// per match; registration order is kept for ranking tie-breaks.
type Bot struct {
	ID           string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	MatchID      string `gorm:"type:uuid;not null;uniqueIndex:idx_bots_match_owner" json:"match_id"`
	OwnerAddress string `gorm:"type:varchar(64);not null;uniqueIndex:idx_bots_match_owner;index" json:"owner_address"` // lowercased hex
	Name         string `gorm:"size:64;not null" json:"name"`
	Slug         string `gorm:"size:80;index" json:"slug"`
	Description  string `gorm:"type:text" json:"description"`
	Strategy     string `gorm:"size:500;not null" json:"strategy"`

	// Calculated: mirrors the owning match's status in API responses
	Status MatchStatus `json:"status,omitempty" gorm:"-"`

	Timestamps
}
