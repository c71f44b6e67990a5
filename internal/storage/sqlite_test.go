package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/settle-the-score/internal/common"
	"github.com/Veraticus/settle-the-score/internal/model"
	"github.com/Veraticus/settle-the-score/internal/service"
)

func setupStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleTransaction() model.Transaction {
	return model.Transaction{
		ID:          "t1",
		Date:        time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.NewFromInt(1200),
		Category:    "Food",
		Description: "groceries",
		Payer:       "alice",
		Split: map[model.ParticipantID]decimal.Decimal{
			"alice": decimal.NewFromInt(700),
			"bob":   decimal.NewFromInt(500),
		},
	}
}

func TestSQLiteStorage_TransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupStorage(t)

	want := sampleTransaction()
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{want}))

	got, err := store.GetTransactionByID(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.Amount.Equal(got.Amount))
	assert.Equal(t, want.Category, got.Category)
	assert.Equal(t, want.Description, got.Description)
	assert.Equal(t, want.Payer, got.Payer)
	assert.False(t, got.Settled)
	assert.Nil(t, got.SettledAt)

	require.Len(t, got.Split, 2)
	assert.True(t, got.Split["alice"].Equal(decimal.NewFromInt(700)))
	assert.True(t, got.Split["bob"].Equal(decimal.NewFromInt(500)))
}

func TestSQLiteStorage_GetTransactionByIDNotFound(t *testing.T) {
	store := setupStorage(t)
	_, err := store.GetTransactionByID(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_SaveTransactionsValidation(t *testing.T) {
	ctx := context.Background()
	store := setupStorage(t)

	tests := []struct {
		name string
		txn  model.Transaction
	}{
		{name: "missing id", txn: model.Transaction{Date: time.Now(), Amount: decimal.NewFromInt(10), Category: "Food"}},
		{name: "missing date", txn: model.Transaction{ID: "x", Amount: decimal.NewFromInt(10), Category: "Food"}},
		{name: "missing category", txn: model.Transaction{ID: "x", Date: time.Now(), Amount: decimal.NewFromInt(10)}},
		{name: "zero amount", txn: model.Transaction{ID: "x", Date: time.Now(), Category: "Food"}},
		{
			name: "split mismatch",
			txn: model.Transaction{
				ID: "x", Date: time.Now(), Amount: decimal.NewFromInt(100), Category: "Food",
				Split: map[model.ParticipantID]decimal.Decimal{"alice": decimal.NewFromInt(10)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.SaveTransactions(ctx, []model.Transaction{tt.txn})
			assert.Error(t, err)
		})
	}

	assert.Error(t, store.SaveTransactions(ctx, nil))
}

func TestSQLiteStorage_UnsettledAndMarkSettled(t *testing.T) {
	ctx := context.Background()
	store := setupStorage(t)

	first := sampleTransaction()
	second := sampleTransaction()
	second.ID = "t2"
	second.Date = second.Date.AddDate(0, 0, 1)
	second.Split = nil
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{first, second}))

	unsettled, err := store.GetUnsettledTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, unsettled, 2)
	assert.Equal(t, "t1", unsettled[0].ID, "oldest first")

	settledAt := time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)
	count, err := store.MarkTransactionsSettled(ctx, []string{"t1", "t2"}, settledAt)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	unsettled, err = store.GetUnsettledTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsettled)

	got, err := store.GetTransactionByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.Settled)
	require.NotNil(t, got.SettledAt)
	assert.True(t, got.SettledAt.Equal(settledAt))

	// Already-settled rows are not counted twice.
	count, err = store.MarkTransactionsSettled(ctx, []string{"t1", "t2"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSQLiteStorage_MarkSettledInTransaction(t *testing.T) {
	ctx := context.Background()
	store := setupStorage(t)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{sampleTransaction()}))

	// Rolled-back settlement leaves the row untouched.
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	count, err := tx.MarkTransactionsSettled(ctx, []string{"t1"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.NoError(t, tx.Rollback())

	unsettled, err := store.GetUnsettledTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, unsettled, 1)

	// Committed settlement sticks.
	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.MarkTransactionsSettled(ctx, []string{"t1"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	unsettled, err = store.GetUnsettledTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsettled)
}

func TestSQLiteStorage_GetTransactionsFilter(t *testing.T) {
	ctx := context.Background()
	store := setupStorage(t)

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	var transactions []model.Transaction
	for i := 0; i < 5; i++ {
		category := model.Category("Food")
		if i%2 == 1 {
			category = "Rent"
		}
		transactions = append(transactions, model.Transaction{
			ID:       string(rune('a' + i)),
			Date:     base.AddDate(0, 0, i),
			Amount:   decimal.NewFromInt(int64(100 + i)),
			Category: category,
		})
	}
	require.NoError(t, store.SaveTransactions(ctx, transactions))

	food, err := store.GetTransactions(ctx, service.TransactionFilter{Category: "Food"})
	require.NoError(t, err)
	assert.Len(t, food, 3)

	from := base.AddDate(0, 0, 2)
	recent, err := store.GetTransactions(ctx, service.TransactionFilter{StartDate: &from})
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	limited, err := store.GetTransactions(ctx, service.TransactionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "a", limited[0].ID)
}

func TestSQLiteStorage_Participants(t *testing.T) {
	ctx := context.Background()
	store := setupStorage(t)

	require.NoError(t, store.SaveParticipants(ctx, []model.ParticipantID{"alice", "bob"}))
	// Duplicates are ignored.
	require.NoError(t, store.SaveParticipants(ctx, []model.ParticipantID{"bob", "carol"}))

	participants, err := store.GetParticipants(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.ParticipantID{"alice", "bob", "carol"}, participants)
}

func TestSQLiteStorage_PatternSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupStorage(t)

	accurate := true
	want := model.NewPatternSet()
	want.LastUpdated = time.Date(2025, 5, 15, 8, 0, 0, 0, time.UTC)
	want.CategoryBaselines["Food"] = model.CategoryBaseline{
		Category: "Food", Average: 512.5, Total: decimal.NewFromInt(2050), Count: 4, Frequency: 0.4,
	}
	want.ParticipantBaselines["alice"] = map[model.Category]model.ParticipantBaseline{
		"Food": {Participant: "alice", Category: "Food", Average: 600, Total: decimal.NewFromInt(1200), Count: 2},
	}
	want.FrequencyPatterns["Rent"] = model.FrequencyPattern{
		Category: "Rent", AverageDaysBetween: 30, MinDays: 28, MaxDays: 32,
	}
	want.AnomalyHistory = []model.AnomalyRecord{
		{ID: "a1", TransactionID: "t9", Category: "Food", Amount: decimal.NewFromInt(1400), DetectedAt: time.Now().UTC().Truncate(time.Second)},
		{ID: "a2", Category: "Food", Amount: decimal.NewFromInt(900), DetectedAt: time.Now().UTC().Truncate(time.Second), WasAccurate: &accurate},
	}
	want.SettledHistory = []model.SettlementRecord{
		{Amount: decimal.NewFromInt(2000), Participants: []model.ParticipantID{"alice", "bob"}, Date: time.Now().UTC().Truncate(time.Second)},
	}

	require.NoError(t, store.SavePatternSet(ctx, want))

	got, err := store.GetPatternSet(ctx)
	require.NoError(t, err)

	food := got.CategoryBaselines["Food"]
	assert.InDelta(t, 512.5, food.Average, 0.0001)
	assert.Equal(t, 4, food.Count)
	assert.True(t, food.Total.Equal(decimal.NewFromInt(2050)))

	aliceFood := got.ParticipantBaselines["alice"]["Food"]
	assert.Equal(t, 2, aliceFood.Count)
	assert.InDelta(t, 600.0, aliceFood.Average, 0.0001)

	rent := got.FrequencyPatterns["Rent"]
	assert.InDelta(t, 30.0, rent.AverageDaysBetween, 0.0001)

	require.Len(t, got.AnomalyHistory, 2)
	assert.Equal(t, "a1", got.AnomalyHistory[0].ID)
	assert.Equal(t, "t9", got.AnomalyHistory[0].TransactionID)
	assert.Nil(t, got.AnomalyHistory[0].WasAccurate)
	assert.Empty(t, got.AnomalyHistory[1].TransactionID)
	require.NotNil(t, got.AnomalyHistory[1].WasAccurate)
	assert.True(t, *got.AnomalyHistory[1].WasAccurate)

	require.Len(t, got.SettledHistory, 1)
	assert.True(t, got.SettledHistory[0].Amount.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, []model.ParticipantID{"alice", "bob"}, got.SettledHistory[0].Participants)

	assert.True(t, got.LastUpdated.Equal(want.LastUpdated))
}

func TestSQLiteStorage_SavePatternSetIsWholesale(t *testing.T) {
	ctx := context.Background()
	store := setupStorage(t)

	first := model.NewPatternSet()
	first.CategoryBaselines["Food"] = model.CategoryBaseline{Category: "Food", Average: 500, Total: decimal.NewFromInt(1500), Count: 3, Frequency: 1}
	require.NoError(t, store.SavePatternSet(ctx, first))

	second := model.NewPatternSet()
	second.CategoryBaselines["Rent"] = model.CategoryBaseline{Category: "Rent", Average: 12000, Total: decimal.NewFromInt(24000), Count: 2, Frequency: 1}
	require.NoError(t, store.SavePatternSet(ctx, second))

	got, err := store.GetPatternSet(ctx)
	require.NoError(t, err)
	assert.Len(t, got.CategoryBaselines, 1)
	_, hasFood := got.CategoryBaselines["Food"]
	assert.False(t, hasFood, "earlier baselines must be replaced, not merged")
}

func TestSQLiteStorage_GetPatternSetEmpty(t *testing.T) {
	store := setupStorage(t)

	got, err := store.GetPatternSet(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.True(t, got.LastUpdated.IsZero())
}
