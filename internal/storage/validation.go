// Package storage provides the data persistence layer for the settle application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/settle-the-score/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateIDs ensures an id slice is non-empty with no blank entries.
func validateIDs(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: ids", ErrEmptySlice)
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: ids[%d]", ErrEmptyString, i)
		}
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i, txn := range transactions {
		if err := validateTransaction(&txn); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if txn.Category == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidTransaction)
	}
	if !txn.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	}
	if !txn.SplitSumMatches() {
		return fmt.Errorf("%w: split shares do not sum to amount", ErrInvalidTransaction)
	}
	return nil
}

// validatePatternSet validates a learned pattern set.
func validatePatternSet(patterns *model.PatternSet) error {
	if patterns == nil {
		return fmt.Errorf("%w: patterns", ErrNilParameter)
	}
	return nil
}
