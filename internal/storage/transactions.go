package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle-the-score/internal/common"
	"github.com/Veraticus/settle-the-score/internal/model"
	"github.com/Veraticus/settle-the-score/internal/service"
)

const transactionColumns = `id, date, amount, category, description, payer, split, split_among, settled, settled_at`

// SaveTransactions saves multiple transactions to the database.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO transactions (
			id, date, amount, category, description, payer, split, split_among, settled, settled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, txn := range transactions {
		splitJSON, splitAmongJSON, encErr := encodeSplit(&txn)
		if encErr != nil {
			return encErr
		}

		var settledAt any
		if txn.SettledAt != nil {
			settledAt = *txn.SettledAt
		}

		if _, err := stmt.ExecContext(ctx,
			txn.ID,
			txn.Date,
			txn.Amount.String(),
			string(txn.Category),
			txn.Description,
			string(txn.Payer),
			splitJSON,
			splitAmongJSON,
			txn.Settled,
			settledAt,
		); err != nil {
			return fmt.Errorf("failed to save transaction %s: %w", txn.ID, err)
		}
	}

	return tx.Commit()
}

// GetTransactions returns transactions matching the filter, oldest first.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	var conditions []string
	var args []any

	if filter.StartDate != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		conditions = append(conditions, "date <= ?")
		args = append(args, *filter.EndDate)
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.UnsettledOnly {
		conditions = append(conditions, "settled = 0")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

// GetTransactionByID returns a single transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)

	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// GetUnsettledTransactions returns every unsettled transaction, oldest first.
func (s *SQLiteStorage) GetUnsettledTransactions(ctx context.Context) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getUnsettledTransactions(ctx, s.db)
}

func getUnsettledTransactions(ctx context.Context, q querier) ([]model.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE settled = 0 ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

// MarkTransactionsSettled flips the settled flag on the given transactions.
func (s *SQLiteStorage) MarkTransactionsSettled(ctx context.Context, ids []string, settledAt time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateIDs(ids); err != nil {
		return 0, err
	}
	return markTransactionsSettled(ctx, s.db, ids, settledAt)
}

func markTransactionsSettled(ctx context.Context, q querier, ids []string, settledAt time.Time) (int, error) {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, settledAt)
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := q.ExecContext(ctx,
		`UPDATE transactions SET settled = 1, settled_at = ? WHERE settled = 0 AND id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark transactions settled: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count settled transactions: %w", err)
	}
	return int(count), nil
}

// SaveParticipants stores the participant list, ignoring known ids.
func (s *SQLiteStorage) SaveParticipants(ctx context.Context, participants []model.ParticipantID) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range participants {
		if err := validateString(string(p), "participant"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO participants (id) VALUES (?)`, string(p)); err != nil {
			return fmt.Errorf("failed to save participant %s: %w", p, err)
		}
	}

	return tx.Commit()
}

// GetParticipants returns the known participant ids in insertion order.
func (s *SQLiteStorage) GetParticipants(ctx context.Context) ([]model.ParticipantID, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM participants ORDER BY added_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var participants []model.ParticipantID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, model.ParticipantID(id))
	}
	return participants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		txn            model.Transaction
		amount         string
		category       string
		description    sql.NullString
		payer          sql.NullString
		splitJSON      sql.NullString
		splitAmongJSON sql.NullString
		settledAt      sql.NullTime
	)

	err := row.Scan(&txn.ID, &txn.Date, &amount, &category, &description,
		&payer, &splitJSON, &splitAmongJSON, &txn.Settled, &settledAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction %s has unparseable amount %q",
			common.ErrDatabaseCorrupted, txn.ID, amount)
	}
	txn.Category = model.Category(category)
	txn.Description = description.String
	txn.Payer = model.ParticipantID(payer.String)
	if settledAt.Valid {
		t := settledAt.Time
		txn.SettledAt = &t
	}

	if splitJSON.Valid && splitJSON.String != "" {
		if err := json.Unmarshal([]byte(splitJSON.String), &txn.Split); err != nil {
			return nil, fmt.Errorf("%w: transaction %s has unparseable split",
				common.ErrDatabaseCorrupted, txn.ID)
		}
	}
	if splitAmongJSON.Valid && splitAmongJSON.String != "" {
		if err := json.Unmarshal([]byte(splitAmongJSON.String), &txn.SplitAmong); err != nil {
			return nil, fmt.Errorf("%w: transaction %s has unparseable splitAmong",
				common.ErrDatabaseCorrupted, txn.ID)
		}
	}

	return &txn, nil
}

func encodeSplit(txn *model.Transaction) (splitJSON, splitAmongJSON string, err error) {
	if len(txn.Split) > 0 {
		data, marshalErr := json.Marshal(txn.Split)
		if marshalErr != nil {
			return "", "", fmt.Errorf("failed to encode split for %s: %w", txn.ID, marshalErr)
		}
		splitJSON = string(data)
	}
	if len(txn.SplitAmong) > 0 {
		data, marshalErr := json.Marshal(txn.SplitAmong)
		if marshalErr != nil {
			return "", "", fmt.Errorf("failed to encode splitAmong for %s: %w", txn.ID, marshalErr)
		}
		splitAmongJSON = string(data)
	}
	return splitJSON, splitAmongJSON, nil
}
