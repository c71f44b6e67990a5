// Package ingest maps externally produced expense files onto transactions.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle-the-score/internal/model"
)

// dateFormats are accepted in order; the chat layer exports ISO dates but
// hand-edited files often use slashes.
var dateFormats = []string{"2006-01-02", "02/01/2006", "01/02/2006"}

// Result is the outcome of parsing one CSV file.
type Result struct {
	Transactions []model.Transaction
	Participants []model.ParticipantID
	Skipped      int
}

// ParseCSV reads transactions from a CSV stream. Required columns: date,
// amount, category. Optional: id, payer, participants (pipe-separated
// splitAmong list), description. Rows that fail to parse are counted in
// Skipped rather than aborting the import.
func ParseCSV(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "amount", "category"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("CSV is missing required column %q", required)
		}
	}

	result := &Result{}
	seen := make(map[model.ParticipantID]bool)

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}

		txn, ok := parseRow(row, columns)
		if !ok {
			result.Skipped++
			continue
		}

		if txn.Payer != "" && !seen[txn.Payer] {
			seen[txn.Payer] = true
			result.Participants = append(result.Participants, txn.Payer)
		}
		for _, p := range txn.SplitAmong {
			if !seen[p] {
				seen[p] = true
				result.Participants = append(result.Participants, p)
			}
		}
		result.Transactions = append(result.Transactions, txn)
	}

	return result, nil
}

func parseRow(row []string, columns map[string]int) (model.Transaction, bool) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	date, ok := parseDate(field("date"))
	if !ok {
		return model.Transaction{}, false
	}

	amount, err := decimal.NewFromString(field("amount"))
	if err != nil || !amount.IsPositive() {
		return model.Transaction{}, false
	}

	category := field("category")
	if category == "" {
		return model.Transaction{}, false
	}

	id := field("id")
	if id == "" {
		id = uuid.NewString()
	}

	txn := model.Transaction{
		ID:          id,
		Date:        date,
		Amount:      amount,
		Category:    model.Category(category),
		Payer:       model.ParticipantID(field("payer")),
		Description: field("description"),
	}

	if participants := field("participants"); participants != "" {
		for _, p := range strings.Split(participants, "|") {
			p = strings.TrimSpace(p)
			if p != "" {
				txn.SplitAmong = append(txn.SplitAmong, model.ParticipantID(p))
			}
		}
	}

	return txn, true
}

func parseDate(s string) (time.Time, bool) {
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
