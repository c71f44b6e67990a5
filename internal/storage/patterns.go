package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle-the-score/internal/common"
	"github.com/Veraticus/settle-the-score/internal/model"
)

// SavePatternSet replaces the persisted learned-pattern document wholesale.
// Learning is a full recompute, so partial updates are never written.
func (s *SQLiteStorage) SavePatternSet(ctx context.Context, patterns *model.PatternSet) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePatternSet(patterns); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := savePatternSet(ctx, tx, patterns); err != nil {
		return err
	}

	return tx.Commit()
}

func savePatternSet(ctx context.Context, q querier, patterns *model.PatternSet) error {
	for _, table := range []string{
		"category_baselines", "participant_baselines", "frequency_patterns",
		"anomaly_feedback", "settlement_history",
	} {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, b := range patterns.CategoryBaselines {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO category_baselines (category, average, total, count, frequency) VALUES (?, ?, ?, ?, ?)`,
			string(b.Category), b.Average, b.Total.String(), b.Count, b.Frequency); err != nil {
			return fmt.Errorf("failed to save baseline for %s: %w", b.Category, err)
		}
	}

	for _, byCategory := range patterns.ParticipantBaselines {
		for _, b := range byCategory {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO participant_baselines (participant, category, average, total, count) VALUES (?, ?, ?, ?, ?)`,
				string(b.Participant), string(b.Category), b.Average, b.Total.String(), b.Count); err != nil {
				return fmt.Errorf("failed to save participant baseline for %s/%s: %w", b.Participant, b.Category, err)
			}
		}
	}

	for _, p := range patterns.FrequencyPatterns {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO frequency_patterns (category, average_days, min_days, max_days) VALUES (?, ?, ?, ?)`,
			string(p.Category), p.AverageDaysBetween, p.MinDays, p.MaxDays); err != nil {
			return fmt.Errorf("failed to save frequency pattern for %s: %w", p.Category, err)
		}
	}

	for _, record := range patterns.AnomalyHistory {
		var wasAccurate any
		if record.WasAccurate != nil {
			wasAccurate = *record.WasAccurate
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO anomaly_feedback (id, transaction_id, category, amount, detected_at, was_accurate) VALUES (?, ?, ?, ?, ?, ?)`,
			record.ID, record.TransactionID, string(record.Category), record.Amount.String(), record.DetectedAt, wasAccurate); err != nil {
			return fmt.Errorf("failed to save anomaly record %s: %w", record.ID, err)
		}
	}

	for _, record := range patterns.SettledHistory {
		participantsJSON, err := json.Marshal(record.Participants)
		if err != nil {
			return fmt.Errorf("failed to encode settlement participants: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO settlement_history (amount, participants, date) VALUES (?, ?, ?)`,
			record.Amount.String(), string(participantsJSON), record.Date); err != nil {
			return fmt.Errorf("failed to save settlement record: %w", err)
		}
	}

	lastUpdated := patterns.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now()
	}
	if _, err := q.ExecContext(ctx,
		`INSERT OR REPLACE INTO patterns_meta (id, last_updated) VALUES (1, ?)`, lastUpdated); err != nil {
		return fmt.Errorf("failed to stamp pattern set: %w", err)
	}

	return nil
}

// GetPatternSet loads the full learned-pattern document. A database that
// has never learned returns an empty set, not an error.
func (s *SQLiteStorage) GetPatternSet(ctx context.Context) (*model.PatternSet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	patterns := model.NewPatternSet()

	var lastUpdated sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT last_updated FROM patterns_meta WHERE id = 1`).Scan(&lastUpdated)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read pattern metadata: %w", err)
	}
	if lastUpdated.Valid {
		patterns.LastUpdated = lastUpdated.Time
	}

	if err := s.loadCategoryBaselines(ctx, patterns); err != nil {
		return nil, err
	}
	if err := s.loadParticipantBaselines(ctx, patterns); err != nil {
		return nil, err
	}
	if err := s.loadFrequencyPatterns(ctx, patterns); err != nil {
		return nil, err
	}
	if err := s.loadAnomalyHistory(ctx, patterns); err != nil {
		return nil, err
	}
	if err := s.loadSettledHistory(ctx, patterns); err != nil {
		return nil, err
	}

	return patterns, nil
}

func (s *SQLiteStorage) loadCategoryBaselines(ctx context.Context, patterns *model.PatternSet) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, average, total, count, frequency FROM category_baselines`)
	if err != nil {
		return fmt.Errorf("failed to query category baselines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			b        model.CategoryBaseline
			category string
			total    string
		)
		if err := rows.Scan(&category, &b.Average, &total, &b.Count, &b.Frequency); err != nil {
			return fmt.Errorf("failed to scan category baseline: %w", err)
		}
		b.Category = model.Category(category)
		if b.Total, err = decimal.NewFromString(total); err != nil {
			return fmt.Errorf("%w: baseline %s has unparseable total", common.ErrDatabaseCorrupted, category)
		}
		patterns.CategoryBaselines[b.Category] = b
	}
	return rows.Err()
}

func (s *SQLiteStorage) loadParticipantBaselines(ctx context.Context, patterns *model.PatternSet) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT participant, category, average, total, count FROM participant_baselines`)
	if err != nil {
		return fmt.Errorf("failed to query participant baselines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			b           model.ParticipantBaseline
			participant string
			category    string
			total       string
		)
		if err := rows.Scan(&participant, &category, &b.Average, &total, &b.Count); err != nil {
			return fmt.Errorf("failed to scan participant baseline: %w", err)
		}
		b.Participant = model.ParticipantID(participant)
		b.Category = model.Category(category)
		if b.Total, err = decimal.NewFromString(total); err != nil {
			return fmt.Errorf("%w: participant baseline %s/%s has unparseable total",
				common.ErrDatabaseCorrupted, participant, category)
		}

		byCategory := patterns.ParticipantBaselines[b.Participant]
		if byCategory == nil {
			byCategory = make(map[model.Category]model.ParticipantBaseline)
			patterns.ParticipantBaselines[b.Participant] = byCategory
		}
		byCategory[b.Category] = b
	}
	return rows.Err()
}

func (s *SQLiteStorage) loadFrequencyPatterns(ctx context.Context, patterns *model.PatternSet) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, average_days, min_days, max_days FROM frequency_patterns`)
	if err != nil {
		return fmt.Errorf("failed to query frequency patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			p        model.FrequencyPattern
			category string
		)
		if err := rows.Scan(&category, &p.AverageDaysBetween, &p.MinDays, &p.MaxDays); err != nil {
			return fmt.Errorf("failed to scan frequency pattern: %w", err)
		}
		p.Category = model.Category(category)
		patterns.FrequencyPatterns[p.Category] = p
	}
	return rows.Err()
}

func (s *SQLiteStorage) loadAnomalyHistory(ctx context.Context, patterns *model.PatternSet) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transaction_id, category, amount, detected_at, was_accurate FROM anomaly_feedback ORDER BY position ASC`)
	if err != nil {
		return fmt.Errorf("failed to query anomaly history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			record      model.AnomalyRecord
			category    string
			amount      string
			wasAccurate sql.NullBool
		)
		if err := rows.Scan(&record.ID, &record.TransactionID, &category, &amount, &record.DetectedAt, &wasAccurate); err != nil {
			return fmt.Errorf("failed to scan anomaly record: %w", err)
		}
		record.Category = model.Category(category)
		if record.Amount, err = decimal.NewFromString(amount); err != nil {
			return fmt.Errorf("%w: anomaly record %s has unparseable amount", common.ErrDatabaseCorrupted, record.ID)
		}
		if wasAccurate.Valid {
			v := wasAccurate.Bool
			record.WasAccurate = &v
		}
		patterns.AnomalyHistory = append(patterns.AnomalyHistory, record)
	}
	return rows.Err()
}

func (s *SQLiteStorage) loadSettledHistory(ctx context.Context, patterns *model.PatternSet) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount, participants, date FROM settlement_history ORDER BY position ASC`)
	if err != nil {
		return fmt.Errorf("failed to query settlement history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			record           model.SettlementRecord
			amount           string
			participantsJSON string
		)
		if err := rows.Scan(&amount, &participantsJSON, &record.Date); err != nil {
			return fmt.Errorf("failed to scan settlement record: %w", err)
		}
		if record.Amount, err = decimal.NewFromString(amount); err != nil {
			return fmt.Errorf("%w: settlement record has unparseable amount", common.ErrDatabaseCorrupted)
		}
		if err := json.Unmarshal([]byte(participantsJSON), &record.Participants); err != nil {
			return fmt.Errorf("%w: settlement record has unparseable participants", common.ErrDatabaseCorrupted)
		}
		patterns.SettledHistory = append(patterns.SettledHistory, record)
	}
	return rows.Err()
}
