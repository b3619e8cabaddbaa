package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceSampleRecord mirrors one recorded price observation.
type PriceSampleRecord struct {
	ID         int64
	CycleID    uuid.UUID
	Symbol     string
	MarketKind string
	Price      decimal.Decimal
	ObservedAt time.Time
	CreatedAt  time.Time
}

// AlertRecord captures a dispatched alert for auditing.
type AlertRecord struct {
	ID            int64
	CycleID       uuid.UUID
	Symbol        string
	MarketKind    string
	WindowMinutes int
	StartPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	ChangePct     decimal.Decimal
	ThresholdPct  decimal.Decimal
	Direction     string
	TriggeredAt   time.Time
	CreatedAt     time.Time
}
