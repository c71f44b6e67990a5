package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// History caps. Oldest entries are evicted once a log exceeds its cap.
const (
	AnomalyHistoryCap = 100
	SettledHistoryCap = 50
)

// CategoryBaseline is the learned spending profile for one category.
type CategoryBaseline struct {
	Category  Category
	Average   float64 // mean amount per transaction
	Total     decimal.Decimal
	Count     int
	Frequency float64 // share of all transactions, in [0,1]
}

// ParticipantBaseline is a payer-scoped baseline: how much one participant
// typically pays in one category.
type ParticipantBaseline struct {
	Participant ParticipantID
	Category    Category
	Average     float64
	Total       decimal.Decimal
	Count       int
}

// FrequencyPattern captures the cadence of a recurring category, derived
// from the gaps between consecutive transaction dates.
type FrequencyPattern struct {
	Category           Category
	AverageDaysBetween float64
	MinDays            float64
	MaxDays            float64
}

// AnomalyRecord is one entry in the bounded anomaly feedback log.
// WasAccurate is nil until the user confirms or rejects the verdict.
// TransactionID identifies the flagged transaction so re-detection of the
// same transaction does not pile up duplicate pending entries.
type AnomalyRecord struct {
	DetectedAt    time.Time
	WasAccurate   *bool
	ID            string
	TransactionID string
	Category      Category
	Amount        decimal.Decimal
}

// PatternSet is the full learned-patterns document for one account. It is
// replaced wholesale by every learn pass and persisted as a unit.
type PatternSet struct {
	LastUpdated          time.Time
	CategoryBaselines    map[Category]CategoryBaseline
	ParticipantBaselines map[ParticipantID]map[Category]ParticipantBaseline
	FrequencyPatterns    map[Category]FrequencyPattern
	AnomalyHistory       []AnomalyRecord
	SettledHistory       []SettlementRecord
}

// NewPatternSet returns an empty, usable pattern set.
func NewPatternSet() *PatternSet {
	return &PatternSet{
		CategoryBaselines:    make(map[Category]CategoryBaseline),
		ParticipantBaselines: make(map[ParticipantID]map[Category]ParticipantBaseline),
		FrequencyPatterns:    make(map[Category]FrequencyPattern),
	}
}

// Clone returns a deep copy. Mutating operations copy, modify, then swap so
// concurrent readers always observe a complete document.
func (p *PatternSet) Clone() *PatternSet {
	c := &PatternSet{
		LastUpdated:          p.LastUpdated,
		CategoryBaselines:    make(map[Category]CategoryBaseline, len(p.CategoryBaselines)),
		ParticipantBaselines: make(map[ParticipantID]map[Category]ParticipantBaseline, len(p.ParticipantBaselines)),
		FrequencyPatterns:    make(map[Category]FrequencyPattern, len(p.FrequencyPatterns)),
		AnomalyHistory:       make([]AnomalyRecord, len(p.AnomalyHistory)),
		SettledHistory:       make([]SettlementRecord, len(p.SettledHistory)),
	}
	for k, v := range p.CategoryBaselines {
		c.CategoryBaselines[k] = v
	}
	for person, byCat := range p.ParticipantBaselines {
		inner := make(map[Category]ParticipantBaseline, len(byCat))
		for k, v := range byCat {
			inner[k] = v
		}
		c.ParticipantBaselines[person] = inner
	}
	for k, v := range p.FrequencyPatterns {
		c.FrequencyPatterns[k] = v
	}
	copy(c.AnomalyHistory, p.AnomalyHistory)
	copy(c.SettledHistory, p.SettledHistory)
	return c
}

// Empty reports whether the set has never been learned.
func (p *PatternSet) Empty() bool {
	return len(p.CategoryBaselines) == 0
}
