package model

import "github.com/shopspring/decimal"

// AnomalyKind distinguishes the independent detection rules.
type AnomalyKind string

const (
	// AnomalyKindDeviation flags a transaction far above its category baseline.
	AnomalyKindDeviation AnomalyKind = "deviation"
	// AnomalyKindMissingExpected flags a recurring category that is overdue.
	AnomalyKindMissingExpected AnomalyKind = "missing_expected"
	// AnomalyKindSettlementOverdue flags an unsettled total well above the
	// typical settlement size.
	AnomalyKindSettlementOverdue AnomalyKind = "settlement_overdue"
)

// Severity ranks how strongly an anomaly should be surfaced.
type Severity string

const (
	// SeverityLow marks informational findings.
	SeverityLow Severity = "low"
	// SeverityMedium marks findings worth a look.
	SeverityMedium Severity = "medium"
	// SeverityHigh marks findings that need attention now.
	SeverityHigh Severity = "high"
)

// Rank orders severities for sorting (higher is more severe).
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Anomaly is one finding emitted by the detector.
type Anomaly struct {
	ID            string
	TransactionID string // empty for the non-transaction kinds
	Category      Category
	Kind          AnomalyKind
	Severity      Severity
	Message       string
	Expected      float64
	Actual        decimal.Decimal
	DiffPercent   float64
}
