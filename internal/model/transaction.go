package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SplitTolerance is the rounding slack allowed between a transaction's
// amount and the sum of its split shares (one whole currency unit).
var SplitTolerance = decimal.NewFromInt(1)

// Transaction represents a single expense record.
type Transaction struct {
	Date        time.Time
	SettledAt   *time.Time
	Split       map[ParticipantID]decimal.Decimal
	ID          string
	Description string
	Category    Category
	Payer       ParticipantID // empty outside shared/group mode
	SplitAmong  []ParticipantID
	Amount      decimal.Decimal
	Settled     bool
}

// IsShared reports whether the transaction participates in group balances.
func (t *Transaction) IsShared() bool {
	return t.Payer != ""
}

// SplitSumMatches verifies that an explicit split adds up to the
// transaction amount within SplitTolerance. Transactions without an
// explicit split always pass.
func (t *Transaction) SplitSumMatches() bool {
	if len(t.Split) == 0 {
		return true
	}
	sum := decimal.Zero
	for _, share := range t.Split {
		sum = sum.Add(share)
	}
	return sum.Sub(t.Amount).Abs().LessThanOrEqual(SplitTolerance)
}

// Shares returns the per-participant debit shares for the transaction.
// An explicit split wins; otherwise the amount is divided equally among
// SplitAmong when set, falling back to the supplied participant list.
func (t *Transaction) Shares(participants []ParticipantID) map[ParticipantID]decimal.Decimal {
	if len(t.Split) > 0 {
		shares := make(map[ParticipantID]decimal.Decimal, len(t.Split))
		for person, share := range t.Split {
			shares[person] = share
		}
		return shares
	}

	among := t.SplitAmong
	if len(among) == 0 {
		among = participants
	}
	if len(among) == 0 {
		return nil
	}

	equal := t.Amount.Div(decimal.NewFromInt(int64(len(among))))
	shares := make(map[ParticipantID]decimal.Decimal, len(among))
	for _, person := range among {
		shares[person] = equal
	}
	return shares
}
