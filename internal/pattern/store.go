// Package pattern learns per-category spending baselines and adapts anomaly
// thresholds from user feedback.
package pattern

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle-the-score/internal/common"
	"github.com/Veraticus/settle-the-score/internal/model"
	"github.com/Veraticus/settle-the-score/internal/service"
)

// Threshold multipliers. AdaptiveThreshold is the only place these are
// applied; consumers must not hard-code them.
const (
	defaultThreshold = 1.5
	relaxedThreshold = 2.0
	tightThreshold   = 1.3

	// minFalsePositives is how many false positives it takes before the
	// threshold relaxes.
	minFalsePositives = 4
)

// defaultSettlementMean is assumed when no settlement history exists yet.
const defaultSettlementMean = 5000.0

// Threshold is an adaptive anomaly cutoff with the reason it was chosen.
type Threshold struct {
	Reason     string
	Multiplier float64
}

// Store owns the learned patterns for one account. Every mutation clones
// the current set, modifies the clone, and swaps it in, so readers always
// see a complete document. Persistence is best-effort: a failed write is
// reported but never invalidates the in-memory state.
type Store struct {
	storage  service.Storage
	patterns *model.PatternSet
	now      func() time.Time
	retry    common.RetryOptions
	mu       sync.RWMutex
}

// NewStore creates a pattern store backed by the given storage. A nil
// storage is allowed for pure in-memory use (tests, dry runs).
func NewStore(storage service.Storage) *Store {
	return &Store{
		storage:  storage,
		patterns: model.NewPatternSet(),
		now:      time.Now,
	}
}

// Load replaces the in-memory state with the persisted pattern set.
func (s *Store) Load(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	patterns, err := s.storage.GetPatternSet(ctx)
	if err != nil {
		return err
	}
	if patterns == nil {
		patterns = model.NewPatternSet()
	}

	s.mu.Lock()
	s.patterns = patterns
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current pattern set. The returned set is never
// mutated after publication; callers may read it without locking.
func (s *Store) Snapshot() *model.PatternSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patterns
}

// Learn recomputes every baseline from scratch and replaces the stored
// state wholesale. Feedback and settlement history carry over untouched.
func (s *Store) Learn(ctx context.Context, transactions []model.Transaction, participants []model.ParticipantID) (*model.PatternSet, error) {
	next := s.Snapshot().Clone()
	next.CategoryBaselines = learnCategoryBaselines(transactions)
	next.ParticipantBaselines = learnParticipantBaselines(transactions, participants)
	next.FrequencyPatterns = learnFrequencyPatterns(transactions)
	next.LastUpdated = s.now()

	s.swap(next)
	return next, s.persist(ctx, next)
}

// RecordAnomalyFeedback appends a verdict to the bounded feedback log.
func (s *Store) RecordAnomalyFeedback(ctx context.Context, record model.AnomalyRecord) error {
	next := s.Snapshot().Clone()
	next.AnomalyHistory = append(next.AnomalyHistory, record)
	if len(next.AnomalyHistory) > model.AnomalyHistoryCap {
		next.AnomalyHistory = next.AnomalyHistory[len(next.AnomalyHistory)-model.AnomalyHistoryCap:]
	}

	s.swap(next)
	return s.persist(ctx, next)
}

// RecordDetections appends deviation findings to the feedback log with no
// verdict yet, so a later feedback call can resolve them by id. A finding
// whose transaction already has an unresolved entry in the log is not
// recorded again: anomaly ids are fresh per run, so re-detecting an
// unchanged set must not grow the log and evict resolved verdicts.
func (s *Store) RecordDetections(ctx context.Context, findings []model.Anomaly) error {
	next := s.Snapshot().Clone()

	known := make(map[string]bool, len(next.AnomalyHistory))
	pending := make(map[string]bool)
	for _, record := range next.AnomalyHistory {
		known[record.ID] = true
		if record.WasAccurate == nil && record.TransactionID != "" {
			pending[record.TransactionID] = true
		}
	}

	appended := false
	for _, f := range findings {
		if f.Kind != model.AnomalyKindDeviation || known[f.ID] {
			continue
		}
		if f.TransactionID != "" && pending[f.TransactionID] {
			continue
		}
		next.AnomalyHistory = append(next.AnomalyHistory, model.AnomalyRecord{
			ID:            f.ID,
			TransactionID: f.TransactionID,
			Category:      f.Category,
			Amount:        f.Actual,
			DetectedAt:    s.now(),
		})
		if f.TransactionID != "" {
			pending[f.TransactionID] = true
		}
		appended = true
	}
	if !appended {
		return nil
	}

	if len(next.AnomalyHistory) > model.AnomalyHistoryCap {
		next.AnomalyHistory = next.AnomalyHistory[len(next.AnomalyHistory)-model.AnomalyHistoryCap:]
	}

	s.swap(next)
	return s.persist(ctx, next)
}

// ResolveAnomalyFeedback sets the user's verdict on a previously recorded
// detection.
func (s *Store) ResolveAnomalyFeedback(ctx context.Context, anomalyID string, wasAccurate bool) error {
	next := s.Snapshot().Clone()

	found := false
	for i := range next.AnomalyHistory {
		if next.AnomalyHistory[i].ID == anomalyID {
			next.AnomalyHistory[i].WasAccurate = &wasAccurate
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: anomaly %s", common.ErrNotFound, anomalyID)
	}

	s.swap(next)
	return s.persist(ctx, next)
}

// RecordSettlement appends a confirmed settlement to the bounded history.
func (s *Store) RecordSettlement(ctx context.Context, amount decimal.Decimal, participants []model.ParticipantID, date time.Time) error {
	next := s.Snapshot().Clone()
	next.SettledHistory = append(next.SettledHistory, model.SettlementRecord{
		Amount:       amount,
		Participants: participants,
		Date:         date,
	})
	if len(next.SettledHistory) > model.SettledHistoryCap {
		next.SettledHistory = next.SettledHistory[len(next.SettledHistory)-model.SettledHistoryCap:]
	}

	s.swap(next)
	return s.persist(ctx, next)
}

// AdaptiveThreshold returns the anomaly cutoff for a category, shifted by
// the accumulated feedback verdicts for that category.
func (s *Store) AdaptiveThreshold(category model.Category) Threshold {
	var truePos, falsePos int
	for _, record := range s.Snapshot().AnomalyHistory {
		if record.Category != category || record.WasAccurate == nil {
			continue
		}
		if *record.WasAccurate {
			truePos++
		} else {
			falsePos++
		}
	}

	switch {
	case falsePos > truePos && falsePos >= minFalsePositives:
		return Threshold{Multiplier: relaxedThreshold, Reason: "relaxed: feedback marked most flags as false positives"}
	case truePos > 0 && truePos >= 2*falsePos:
		return Threshold{Multiplier: tightThreshold, Reason: "tightened: feedback confirmed most flags"}
	default:
		return Threshold{Multiplier: defaultThreshold, Reason: "default"}
	}
}

// HasSimilarFalsePositive reports whether feedback already cleared a
// transaction of comparable size in this category. The tolerance is 15% of
// the remembered amount or 50 units, whichever is larger.
func (s *Store) HasSimilarFalsePositive(category model.Category, amount decimal.Decimal) bool {
	for _, record := range s.Snapshot().AnomalyHistory {
		if record.Category != category || record.WasAccurate == nil || *record.WasAccurate {
			continue
		}
		tolerance := decimal.Max(
			record.Amount.Mul(decimal.NewFromFloat(0.15)),
			decimal.NewFromInt(50),
		)
		if amount.Sub(record.Amount).Abs().LessThanOrEqual(tolerance) {
			return true
		}
	}
	return false
}

// MeanSettlementSize returns the average confirmed settlement amount, or a
// conservative default when no history exists.
func (s *Store) MeanSettlementSize() float64 {
	history := s.Snapshot().SettledHistory
	if len(history) == 0 {
		return defaultSettlementMean
	}
	total := decimal.Zero
	for _, record := range history {
		total = total.Add(record.Amount)
	}
	return total.Div(decimal.NewFromInt(int64(len(history)))).InexactFloat64()
}

func (s *Store) swap(next *model.PatternSet) {
	s.mu.Lock()
	s.patterns = next
	s.mu.Unlock()
}

func (s *Store) persist(ctx context.Context, patterns *model.PatternSet) error {
	if s.storage == nil {
		return nil
	}
	return common.WithRetry(ctx, func() error {
		return s.storage.SavePatternSet(ctx, patterns)
	}, s.retry)
}
