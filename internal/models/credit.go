package models

import "time"

// CreditAccount holds a user's or organization's generation credit balance.
type CreditAccount struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountKey string `gorm:"type:varchar(255);not null;uniqueIndex"` // External account identifier (user or org).

	Balance          int64 `gorm:"not null;default:0"` // Spendable credits; never negative.
	MonthlyAllowance int64 `gorm:"not null;default:0"` // Credits granted per subscription period.
	UsedThisMonth    int64 `gorm:"not null;default:0"` // Credits consumed in the current period.

	Tier      Tier `gorm:"type:varchar(32);not null;default:trial"` // Subscription tier used for chain resolution.
	RateLimit int  `gorm:"not null;default:0"`                      // Requests per second; 0 uses the settings default.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the account may dispatch.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// CreditEntry is an immutable audit record of one balance mutation.
type CreditEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64        `gorm:"not null;index"`       // Related credit account ID.
	Account   CreditAccount `gorm:"foreignKey:AccountID"` // Related credit account record.

	Amount int64  `gorm:"not null"`                                                   // Signed credit delta (negative for charges).
	Reason string `gorm:"type:varchar(64);not null"`                                  // Charge reason (modality, top-up, renewal).
	Ref    string `gorm:"column:reference_id;type:varchar(255);not null;uniqueIndex"` // Idempotency key, one charge per reference.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
