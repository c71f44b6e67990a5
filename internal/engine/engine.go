// Package engine wires storage, the ledger solver, the pattern store, and
// the anomaly detector into the operations the host calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle-the-score/internal/anomaly"
	"github.com/Veraticus/settle-the-score/internal/common"
	"github.com/Veraticus/settle-the-score/internal/ledger"
	"github.com/Veraticus/settle-the-score/internal/model"
	"github.com/Veraticus/settle-the-score/internal/pattern"
	"github.com/Veraticus/settle-the-score/internal/service"
)

// Engine is the per-account context object. It owns the single pending
// settlement proposal and the learned-pattern state for one account; the
// host constructs one Engine per account and threads it through calls.
// Methods are not safe for concurrent use: the design assumes one logical
// writer per account.
type Engine struct {
	storage  service.Storage
	patterns *pattern.Store
	detector *anomaly.Detector
	pending  *ledger.Plan
	now      func() time.Time
}

// New creates an engine for one account and loads its persisted patterns.
func New(ctx context.Context, storage service.Storage) (*Engine, error) {
	patterns := pattern.NewStore(storage)
	if err := patterns.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load learned patterns: %w", err)
	}

	return &Engine{
		storage:  storage,
		patterns: patterns,
		detector: anomaly.NewDetector(patterns),
		now:      time.Now,
	}, nil
}

// Patterns exposes the account's pattern store.
func (e *Engine) Patterns() *pattern.Store {
	return e.patterns
}

// ComputeSettlement derives balances and a transfer list from the current
// unsettled transactions. The result becomes the pending proposal,
// replacing any earlier one.
func (e *Engine) ComputeSettlement(ctx context.Context) (*ledger.Plan, error) {
	transactions, err := e.storage.GetUnsettledTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load unsettled transactions: %w", err)
	}
	participants, err := e.storage.GetParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}

	plan, err := ledger.Compute(transactions, participants)
	if err != nil {
		return nil, err
	}

	e.pending = plan
	return plan, nil
}

// CancelProposal discards the pending proposal with no side effects.
func (e *Engine) CancelProposal() {
	e.pending = nil
}

// ConfirmSettlement marks every transaction in the pending proposal as
// settled, inside one storage transaction, after re-validating that the
// unsettled set has not drifted since the proposal was computed. A drift
// returns ErrStaleProposal and the host must recompute.
func (e *Engine) ConfirmSettlement(ctx context.Context) (*model.SettlementResult, error) {
	if e.pending == nil {
		return nil, common.ErrNoProposal
	}
	plan := e.pending

	settledAt := e.now()

	// A proposal over zero unsettled transactions is a normal state, not an
	// error; there is simply nothing to mark.
	if len(plan.Snapshot) == 0 {
		e.pending = nil
		return &model.SettlementResult{SettledCount: 0, SettledAt: settledAt}, nil
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := tx.GetUnsettledTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read unsettled transactions: %w", err)
	}
	if err := revalidate(plan, current); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(plan.Snapshot))
	for id := range plan.Snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	count, err := tx.MarkTransactionsSettled(ctx, ids, settledAt)
	if err != nil {
		return nil, fmt.Errorf("failed to mark transactions settled: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}
	e.pending = nil

	// History is best-effort: the settlement is already durable. Offsetting
	// sets transfer nothing, so they contribute no history entry.
	if !plan.Empty() {
		if err := e.patterns.RecordSettlement(ctx, settlementTotal(plan), settlementParticipants(plan), settledAt); err != nil {
			slog.Warn("failed to record settlement history", "error", err)
		}
	}

	return &model.SettlementResult{SettledCount: count, SettledAt: settledAt}, nil
}

// LearnPatterns recomputes every baseline from the full transaction set.
func (e *Engine) LearnPatterns(ctx context.Context) ([]model.CategoryBaseline, error) {
	transactions, participants, err := e.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	patterns, err := e.patterns.Learn(ctx, transactions, participants)
	if err != nil {
		return nil, err
	}

	baselines := make([]model.CategoryBaseline, 0, len(patterns.CategoryBaselines))
	for _, b := range patterns.CategoryBaselines {
		baselines = append(baselines, b)
	}
	sort.Slice(baselines, func(i, j int) bool { return baselines[i].Category < baselines[j].Category })
	return baselines, nil
}

// DetectAnomalies classifies recent transactions. Deviation findings are
// appended to the persisted feedback log (verdict pending) so feedback can
// resolve them by id later, from any process.
func (e *Engine) DetectAnomalies(ctx context.Context) ([]model.Anomaly, error) {
	transactions, participants, err := e.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	findings, err := e.detector.Detect(ctx, transactions, participants)
	if err != nil {
		return nil, err
	}

	// Best-effort: a failed history write must not hide the findings.
	if err := e.patterns.RecordDetections(ctx, findings); err != nil {
		slog.Warn("failed to record detections", "error", err)
	}
	return findings, nil
}

// RecordAnomalyFeedback stores the user's verdict on a previously reported
// finding.
func (e *Engine) RecordAnomalyFeedback(ctx context.Context, anomalyID string, wasAccurate bool) error {
	return e.patterns.ResolveAnomalyFeedback(ctx, anomalyID, wasAccurate)
}

func (e *Engine) loadAll(ctx context.Context) ([]model.Transaction, []model.ParticipantID, error) {
	transactions, err := e.storage.GetTransactions(ctx, service.TransactionFilter{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	participants, err := e.storage.GetParticipants(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load participants: %w", err)
	}
	return transactions, participants, nil
}

// revalidate checks that every transaction the plan intends to settle is
// still unsettled with an unchanged amount.
func revalidate(plan *ledger.Plan, current []model.Transaction) error {
	unsettled := make(map[string]decimal.Decimal, len(current))
	for _, txn := range current {
		unsettled[txn.ID] = txn.Amount
	}

	for id, amount := range plan.Snapshot {
		currentAmount, ok := unsettled[id]
		if !ok {
			return fmt.Errorf("%w: transaction %s is no longer unsettled", common.ErrStaleProposal, id)
		}
		if !currentAmount.Equal(amount) {
			return fmt.Errorf("%w: transaction %s amount changed from %s to %s",
				common.ErrStaleProposal, id, amount, currentAmount)
		}
	}
	return nil
}

func settlementTotal(plan *ledger.Plan) decimal.Decimal {
	total := decimal.Zero
	for _, s := range plan.Settlements {
		total = total.Add(s.Amount)
	}
	return total
}

func settlementParticipants(plan *ledger.Plan) []model.ParticipantID {
	seen := make(map[model.ParticipantID]bool)
	var participants []model.ParticipantID
	for _, s := range plan.Settlements {
		for _, p := range []model.ParticipantID{s.From, s.To} {
			if !seen[p] {
				seen[p] = true
				participants = append(participants, p)
			}
		}
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })
	return participants
}
