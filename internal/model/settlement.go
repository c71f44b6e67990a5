package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settlement represents a single transfer that moves a debtor's money to a
// creditor as part of clearing group balances.
type Settlement struct {
	From   ParticipantID
	To     ParticipantID
	Amount decimal.Decimal
}

// SettlementRecord is one confirmed settlement kept in the bounded history
// used to learn a typical settlement size.
type SettlementRecord struct {
	Date         time.Time
	Participants []ParticipantID
	Amount       decimal.Decimal
}

// SettlementResult reports what a confirmed settlement changed.
type SettlementResult struct {
	SettledAt    time.Time
	SettledCount int
}
