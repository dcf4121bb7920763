package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/risecheckout/payments-backend/pkg/enums"
)

// ProcessedEvent is the append-only record of every gateway event the
// lifecycle has applied. The idempotency key primary key is the sole source of
// truth for duplicate detection; rows are never deleted.
type ProcessedEvent struct {
	IdempotencyKey  string               `gorm:"column:idempotency_key;primaryKey"`
	OrderID         uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	Gateway         enums.Gateway        `gorm:"column:gateway;type:gateway;not null"`
	GatewayChargeID string               `gorm:"column:gateway_charge_id;not null"`
	RawStatus       string               `gorm:"column:raw_status;not null"`
	Source          enums.EventSource    `gorm:"column:source;type:event_source;not null"`
	ResultingStatus enums.BusinessStatus `gorm:"column:resulting_status;type:business_status;not null"`
	AppliedAt       time.Time            `gorm:"column:applied_at;autoCreateTime"`
}
