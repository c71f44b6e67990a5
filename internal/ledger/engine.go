// Package ledger computes group balances and the transfers that settle them.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle-the-score/internal/common"
	"github.com/Veraticus/settle-the-score/internal/model"
)

// Epsilon is one whole currency unit. Balances whose magnitude does not
// exceed it are treated as settled rounding noise.
var Epsilon = decimal.NewFromInt(1)

// Plan is a computed settlement proposal. Snapshot records the unsettled
// transactions (id to amount) the plan was derived from so a later confirm
// can detect drift.
type Plan struct {
	ComputedAt  time.Time
	Balances    map[model.ParticipantID]decimal.Decimal
	Snapshot    map[string]decimal.Decimal
	ProposalID  string
	Settlements []model.Settlement
}

// Empty reports whether the plan requires no transfers.
func (p *Plan) Empty() bool {
	return len(p.Settlements) == 0
}

// Compute derives net balances from the unsettled shared transactions and a
// near-minimal transfer list that clears them. It is a pure function of its
// inputs; settled transactions and transactions without a payer are ignored.
func Compute(transactions []model.Transaction, participants []model.ParticipantID) (*Plan, error) {
	if err := validate(transactions, participants); err != nil {
		return nil, err
	}

	balances := make(map[model.ParticipantID]decimal.Decimal, len(participants))
	for _, p := range participants {
		balances[p] = decimal.Zero
	}

	snapshot := make(map[string]decimal.Decimal)
	for _, txn := range transactions {
		if txn.Settled || !txn.IsShared() {
			continue
		}
		snapshot[txn.ID] = txn.Amount

		balances[txn.Payer] = balances[txn.Payer].Add(txn.Amount)
		for person, share := range txn.Shares(participants) {
			balances[person] = balances[person].Sub(share)
		}
	}

	// Round to whole units to shed division noise before matching.
	for p, b := range balances {
		b = b.Round(0)
		if b.Abs().LessThan(Epsilon) {
			b = decimal.Zero
		}
		balances[p] = b
	}

	plan := &Plan{
		ProposalID:  uuid.NewString(),
		ComputedAt:  time.Now(),
		Balances:    balances,
		Snapshot:    snapshot,
		Settlements: match(balances),
	}
	return plan, nil
}

// match greedily pairs the largest creditor with the largest debtor until
// one side runs out. Ordering is deterministic: magnitude descending,
// participant id ascending on ties.
func match(balances map[model.ParticipantID]decimal.Decimal) []model.Settlement {
	type side struct {
		id        model.ParticipantID
		remaining decimal.Decimal
	}

	var creditors, debtors []side
	for p, b := range balances {
		switch {
		case b.GreaterThan(Epsilon):
			creditors = append(creditors, side{id: p, remaining: b})
		case b.Neg().GreaterThan(Epsilon):
			debtors = append(debtors, side{id: p, remaining: b.Neg()})
		}
	}

	byMagnitude := func(s []side) {
		sort.SliceStable(s, func(i, j int) bool {
			if !s[i].remaining.Equal(s[j].remaining) {
				return s[i].remaining.GreaterThan(s[j].remaining)
			}
			return s[i].id < s[j].id
		})
	}
	byMagnitude(creditors)
	byMagnitude(debtors)

	var settlements []model.Settlement
	i, j := 0, 0
	for i < len(creditors) && j < len(debtors) {
		amount := decimal.Min(creditors[i].remaining, debtors[j].remaining)
		if amount.GreaterThan(Epsilon) {
			settlements = append(settlements, model.Settlement{
				From:   debtors[j].id,
				To:     creditors[i].id,
				Amount: amount,
			})
		}

		creditors[i].remaining = creditors[i].remaining.Sub(amount)
		debtors[j].remaining = debtors[j].remaining.Sub(amount)

		if !creditors[i].remaining.GreaterThan(Epsilon) {
			i++
		}
		if !debtors[j].remaining.GreaterThan(Epsilon) {
			j++
		}
	}

	return settlements
}

// Apply replays a settlement list onto zero-initialized balances. The result
// must reproduce the balances the settlements were computed from.
func Apply(settlements []model.Settlement) map[model.ParticipantID]decimal.Decimal {
	balances := make(map[model.ParticipantID]decimal.Decimal)
	for _, s := range settlements {
		balances[s.To] = balances[s.To].Add(s.Amount)
		balances[s.From] = balances[s.From].Sub(s.Amount)
	}
	return balances
}

// validate rejects transactions that would make balance math lie. Money
// errors are surfaced, never silently corrected.
func validate(transactions []model.Transaction, participants []model.ParticipantID) error {
	known := make(map[model.ParticipantID]bool, len(participants))
	for _, p := range participants {
		known[p] = true
	}

	for _, txn := range transactions {
		if txn.Settled || !txn.IsShared() {
			continue
		}
		if !txn.Amount.IsPositive() {
			return fmt.Errorf("%w: transaction %s has non-positive amount %s",
				common.ErrDataIntegrity, txn.ID, txn.Amount)
		}
		if !known[txn.Payer] {
			return fmt.Errorf("%w: transaction %s payer %q is not a known participant",
				common.ErrDataIntegrity, txn.ID, txn.Payer)
		}
		if !txn.SplitSumMatches() {
			return fmt.Errorf("%w: transaction %s split shares do not sum to amount %s",
				common.ErrDataIntegrity, txn.ID, txn.Amount)
		}
		for person := range txn.Split {
			if !known[person] {
				return fmt.Errorf("%w: transaction %s split references unknown participant %q",
					common.ErrDataIntegrity, txn.ID, person)
			}
		}
		for _, person := range txn.SplitAmong {
			if !known[person] {
				return fmt.Errorf("%w: transaction %s splitAmong references unknown participant %q",
					common.ErrDataIntegrity, txn.ID, person)
			}
		}
	}
	return nil
}
