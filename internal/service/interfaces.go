// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/settle-the-score/internal/model"
)

// TransactionFilter defines filtering options for transaction queries.
type TransactionFilter struct {
	StartDate     *time.Time
	EndDate       *time.Time
	Category      model.Category
	UnsettledOnly bool
	Limit         int
	Offset        int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Transaction operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetUnsettledTransactions(ctx context.Context) ([]model.Transaction, error)
	MarkTransactionsSettled(ctx context.Context, ids []string, settledAt time.Time) (int, error)

	// Participant operations
	SaveParticipants(ctx context.Context, participants []model.ParticipantID) error
	GetParticipants(ctx context.Context) ([]model.ParticipantID, error)

	// Learned-pattern operations
	SavePatternSet(ctx context.Context, patterns *model.PatternSet) error
	GetPatternSet(ctx context.Context) (*model.PatternSet, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include the Storage methods that need transactional variants
	GetUnsettledTransactions(ctx context.Context) ([]model.Transaction, error)
	MarkTransactionsSettled(ctx context.Context, ids []string, settledAt time.Time) (int, error)
	SavePatternSet(ctx context.Context, patterns *model.PatternSet) error
}
