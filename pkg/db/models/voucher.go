package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rmarceau/torrdrive-backend/pkg/enums"
)

// Voucher is an admin-issued discount code. Codes are stored lowercase so
// lookups are case-insensitive. UsedCount only ever increments, inside the
// payment transaction.
type Voucher struct {
	ID            uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Code          string            `gorm:"column:code;not null;uniqueIndex"`
	Type          enums.VoucherType `gorm:"column:type;type:voucher_type;not null"`
	Value         decimal.Decimal   `gorm:"column:value;type:numeric(12,4);not null"`
	MaxUsesTotal  int               `gorm:"column:max_uses_total;not null;default:0"`
	MaxUsesPerUser int              `gorm:"column:max_uses_per_user;not null;default:0"`
	UsedCount     int               `gorm:"column:used_count;not null;default:0"`
	ExpiresAt     *time.Time        `gorm:"column:expires_at"`
	IsActive      bool              `gorm:"column:is_active;not null;default:true"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// VoucherRedemption records one successful application of a voucher, used to
// enforce the per-user usage cap.
type VoucherRedemption struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	VoucherID uuid.UUID `gorm:"column:voucher_id;type:uuid;not null;index"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	InvoiceID uuid.UUID `gorm:"column:invoice_id;type:uuid;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
