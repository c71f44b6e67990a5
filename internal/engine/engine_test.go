package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/settle-the-score/internal/common"
	"github.com/Veraticus/settle-the-score/internal/model"
	"github.com/Veraticus/settle-the-score/internal/testutil"
)

func seedTrip(t *testing.T) *testutil.TestDB {
	t.Helper()
	db := testutil.SetupTestDB(t)
	db.SeedParticipants("alice", "bob", "carol")
	db.SeedTransactions(model.Transaction{
		ID:       "t1",
		Date:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Amount:   decimal.NewFromInt(3000),
		Category: "Travel",
		Payer:    "alice",
	})
	return db
}

func TestEngine_ComputeAndConfirm(t *testing.T) {
	ctx := context.Background()
	db := seedTrip(t)

	eng, err := New(ctx, db.Storage)
	require.NoError(t, err)

	plan, err := eng.ComputeSettlement(ctx)
	require.NoError(t, err)
	require.Len(t, plan.Settlements, 2)
	assert.True(t, plan.Balances["alice"].Equal(decimal.NewFromInt(2000)))

	result, err := eng.ConfirmSettlement(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SettledCount)
	assert.False(t, result.SettledAt.IsZero())

	// Settlement completeness: recomputing over the now-settled set is empty.
	again, err := eng.ComputeSettlement(ctx)
	require.NoError(t, err)
	assert.True(t, again.Empty())

	// The settled transaction carries its timestamp.
	txn, err := db.Storage.GetTransactionByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, txn.Settled)
	require.NotNil(t, txn.SettledAt)

	// Confirmation appended to the settlement history.
	history := eng.Patterns().Snapshot().SettledHistory
	require.Len(t, history, 1)
	assert.True(t, history[0].Amount.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, []model.ParticipantID{"alice", "bob", "carol"}, history[0].Participants)
}

func TestEngine_ConfirmWithoutProposal(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)

	eng, err := New(ctx, db.Storage)
	require.NoError(t, err)

	_, err = eng.ConfirmSettlement(ctx)
	assert.ErrorIs(t, err, common.ErrNoProposal)
}

func TestEngine_CancelDiscardsProposal(t *testing.T) {
	ctx := context.Background()
	db := seedTrip(t)

	eng, err := New(ctx, db.Storage)
	require.NoError(t, err)

	_, err = eng.ComputeSettlement(ctx)
	require.NoError(t, err)

	eng.CancelProposal()
	_, err = eng.ConfirmSettlement(ctx)
	assert.ErrorIs(t, err, common.ErrNoProposal)

	// Nothing was mutated.
	txn, err := db.Storage.GetTransactionByID(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, txn.Settled)
}

func TestEngine_StaleProposal(t *testing.T) {
	ctx := context.Background()
	db := seedTrip(t)

	eng, err := New(ctx, db.Storage)
	require.NoError(t, err)

	_, err = eng.ComputeSettlement(ctx)
	require.NoError(t, err)

	// Another writer settles the transaction out from under the proposal.
	_, err = db.Storage.MarkTransactionsSettled(ctx, []string{"t1"}, time.Now())
	require.NoError(t, err)

	_, err = eng.ConfirmSettlement(ctx)
	assert.ErrorIs(t, err, common.ErrStaleProposal)
}

func TestEngine_StaleProposalOnAmountChange(t *testing.T) {
	ctx := context.Background()
	db := seedTrip(t)

	eng, err := New(ctx, db.Storage)
	require.NoError(t, err)

	_, err = eng.ComputeSettlement(ctx)
	require.NoError(t, err)

	// The transaction is edited between compute and confirm.
	edited := model.Transaction{
		ID:       "t1",
		Date:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Amount:   decimal.NewFromInt(4500),
		Category: "Travel",
		Payer:    "alice",
	}
	db.SeedTransactions(edited)

	_, err = eng.ConfirmSettlement(ctx)
	assert.ErrorIs(t, err, common.ErrStaleProposal)
}

func TestEngine_RecomputeReplacesProposal(t *testing.T) {
	ctx := context.Background()
	db := seedTrip(t)

	eng, err := New(ctx, db.Storage)
	require.NoError(t, err)

	first, err := eng.ComputeSettlement(ctx)
	require.NoError(t, err)
	second, err := eng.ComputeSettlement(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ProposalID, second.ProposalID)

	// The replacement, not the original, is what confirm applies.
	_, err = eng.ConfirmSettlement(ctx)
	require.NoError(t, err)
}

func TestEngine_LearnPatterns(t *testing.T) {
	ctx := context.Background()
	db := seedTrip(t)
	db.SeedTransactions(
		model.Transaction{
			ID: "t2", Date: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
			Amount: decimal.NewFromInt(600), Category: "Food", Payer: "bob",
		},
		model.Transaction{
			ID: "t3", Date: time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC),
			Amount: decimal.NewFromInt(400), Category: "Food", Payer: "bob",
		},
	)

	eng, err := New(ctx, db.Storage)
	require.NoError(t, err)

	baselines, err := eng.LearnPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, baselines, 2)

	// Sorted by category.
	assert.Equal(t, model.Category("Food"), baselines[0].Category)
	assert.InDelta(t, 500.0, baselines[0].Average, 0.001)
	assert.Equal(t, model.Category("Travel"), baselines[1].Category)

	// The learned set survives a restart.
	reopened, err := New(ctx, db.Storage)
	require.NoError(t, err)
	assert.False(t, reopened.Patterns().Snapshot().Empty())
	assert.InDelta(t, 500.0,
		reopened.Patterns().Snapshot().CategoryBaselines["Food"].Average, 0.001)
}

func TestEngine_FeedbackRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	db.SeedParticipants("alice", "bob")

	base := time.Now().AddDate(0, 0, -30)
	var transactions []model.Transaction
	for i := 0; i < 3; i++ {
		transactions = append(transactions, model.Transaction{
			ID:       string(rune('a' + i)),
			Date:     base.AddDate(0, 0, i*7),
			Amount:   decimal.NewFromInt(500),
			Category: "Food",
		})
	}
	transactions = append(transactions, model.Transaction{
		ID:       "spike",
		Date:     time.Now().AddDate(0, 0, -1),
		Amount:   decimal.NewFromInt(1400),
		Category: "Food",
	})
	db.SeedTransactions(transactions...)

	eng, err := New(ctx, db.Storage)
	require.NoError(t, err)

	findings, err := eng.DetectAnomalies(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, findings)

	var spike *model.Anomaly
	for i := range findings {
		if findings[i].TransactionID == "spike" {
			spike = &findings[i]
		}
	}
	require.NotNil(t, spike)

	require.NoError(t, eng.RecordAnomalyFeedback(ctx, spike.ID, false))

	// A fresh engine sees the persisted verdict.
	reopened, err := New(ctx, db.Storage)
	require.NoError(t, err)
	history := reopened.Patterns().Snapshot().AnomalyHistory
	require.NotEmpty(t, history)

	var resolved bool
	for _, record := range history {
		if record.ID == spike.ID {
			require.NotNil(t, record.WasAccurate)
			assert.False(t, *record.WasAccurate)
			resolved = true
		}
	}
	assert.True(t, resolved)

	// Unknown ids are rejected.
	err = eng.RecordAnomalyFeedback(ctx, "nope", true)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEngine_RepeatedDetectionRecordsOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	db.SeedParticipants("alice", "bob")

	base := time.Now().AddDate(0, 0, -30)
	var transactions []model.Transaction
	for i := 0; i < 3; i++ {
		transactions = append(transactions, model.Transaction{
			ID:       string(rune('a' + i)),
			Date:     base.AddDate(0, 0, i*7),
			Amount:   decimal.NewFromInt(500),
			Category: "Food",
		})
	}
	transactions = append(transactions, model.Transaction{
		ID:       "spike",
		Date:     time.Now().AddDate(0, 0, -1),
		Amount:   decimal.NewFromInt(1400),
		Category: "Food",
	})
	db.SeedTransactions(transactions...)

	eng, err := New(ctx, db.Storage)
	require.NoError(t, err)

	// The same unchanged spike is re-detected under a fresh anomaly id every
	// run; the feedback log must not grow past its single pending entry, or
	// repeated runs would evict resolved verdicts from the capped history.
	for i := 0; i < 5; i++ {
		findings, err := eng.DetectAnomalies(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, findings)
	}

	history := eng.Patterns().Snapshot().AnomalyHistory
	require.Len(t, history, 1)
	assert.Equal(t, "spike", history[0].TransactionID)
	assert.Nil(t, history[0].WasAccurate)
}

func TestEngine_ConfirmOffsettingExpenses(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	db.SeedParticipants("alice", "bob")
	db.SeedTransactions(
		model.Transaction{
			ID: "t1", Date: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			Amount: decimal.NewFromInt(1000), Category: "Food", Payer: "alice",
		},
		model.Transaction{
			ID: "t2", Date: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
			Amount: decimal.NewFromInt(1000), Category: "Food", Payer: "bob",
		},
	)

	eng, err := New(ctx, db.Storage)
	require.NoError(t, err)

	// Equal payments cancel out: no transfers, but the transactions are
	// still unsettled and must be confirmable.
	plan, err := eng.ComputeSettlement(ctx)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.Len(t, plan.Snapshot, 2)

	result, err := eng.ConfirmSettlement(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SettledCount)

	again, err := eng.ComputeSettlement(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Snapshot)

	// Nothing was transferred, so nothing enters the settlement history.
	assert.Empty(t, eng.Patterns().Snapshot().SettledHistory)
}

func TestEngine_EmptyAccount(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)

	eng, err := New(ctx, db.Storage)
	require.NoError(t, err)

	plan, err := eng.ComputeSettlement(ctx)
	require.NoError(t, err)
	assert.True(t, plan.Empty())

	// Confirming a proposal over nothing is a no-op, not an error.
	result, err := eng.ConfirmSettlement(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.SettledCount)

	baselines, err := eng.LearnPatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, baselines)

	findings, err := eng.DetectAnomalies(ctx)
	require.NoError(t, err)
	assert.Empty(t, findings)
}
