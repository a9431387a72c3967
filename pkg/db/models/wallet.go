package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rmarceau/torrdrive-backend/pkg/enums"
)

// WalletAccount holds a user's prepaid virtual-currency balance.
type WalletAccount struct {
	UserID    uuid.UUID       `gorm:"column:user_id;type:uuid;primaryKey"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(18,6);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// WalletEntry is one append-only row in the wallet ledger. Reference ties the
// entry back to the invoice or admin action that caused it.
type WalletEntry struct {
	ID        uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	Type      enums.WalletEntryType `gorm:"column:type;type:wallet_entry_type;not null"`
	Amount    decimal.Decimal       `gorm:"column:amount;type:numeric(18,6);not null"`
	Reference string                `gorm:"column:reference;not null"`
	Reason    *string               `gorm:"column:reason"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime"`
}
