// Package anomaly classifies recent transactions against learned baselines.
package anomaly

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle-the-score/internal/model"
	"github.com/Veraticus/settle-the-score/internal/pattern"
)

const (
	// recencyWindow is how many of the newest transactions are scored.
	recencyWindow = 12
	// maxFindings caps the returned list.
	maxFindings = 5
	// minSample is the fewest same-category transactions a baseline needs
	// before deviation scoring applies to it.
	minSample = 3
	// highDeviation and mediumDeviation split severity bands.
	highDeviation   = 1.0
	mediumDeviation = 0.5
	// recurringMaxGap bounds which cadences count as recurring for the
	// missing-expected check.
	recurringMaxGap = 40.0
	// overdueFactor is how many average gaps may pass before a recurring
	// category counts as overdue.
	overdueFactor = 2.0
	// settlementWarnFactor and settlementUrgentFactor compare the unsettled
	// total against the typical settlement size.
	settlementWarnFactor   = 2.0
	settlementUrgentFactor = 3.0
)

// absoluteFloor suppresses deviation findings on amounts too small to care
// about, however far above a tiny baseline they sit.
var absoluteFloor = decimal.NewFromInt(100)

// Detector scores transactions against the pattern store's baselines. It
// reads learned state and only writes through the store's feedback API.
type Detector struct {
	patterns *pattern.Store
	now      func() time.Time
	newID    func() string
}

// NewDetector creates a detector bound to a pattern store.
func NewDetector(patterns *pattern.Store) *Detector {
	return &Detector{
		patterns: patterns,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Detect classifies the most recent transactions and runs the secondary
// overdue checks. On a cold start (no learned baselines yet) it learns from
// the supplied transactions first rather than failing.
func (d *Detector) Detect(ctx context.Context, transactions []model.Transaction, participants []model.ParticipantID) ([]model.Anomaly, error) {
	if len(transactions) == 0 {
		return nil, nil
	}

	if d.patterns.Snapshot().Empty() {
		if _, err := d.patterns.Learn(ctx, transactions, participants); err != nil {
			return nil, fmt.Errorf("cold-start learn failed: %w", err)
		}
	}
	patterns := d.patterns.Snapshot()

	var findings []model.Anomaly
	findings = append(findings, d.deviations(patterns, transactions)...)
	if overdue := d.missingExpected(patterns, transactions); len(overdue) > 0 {
		findings = append(findings, overdue...)
	}
	if warning := d.settlementOverdue(transactions); warning != nil {
		findings = append(findings, *warning)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity.Rank() > findings[j].Severity.Rank()
		}
		return findings[i].DiffPercent > findings[j].DiffPercent
	})
	if len(findings) > maxFindings {
		findings = findings[:maxFindings]
	}
	return findings, nil
}

// deviations applies the learned-mean rule to the recency window.
func (d *Detector) deviations(patterns *model.PatternSet, transactions []model.Transaction) []model.Anomaly {
	recent := recentWindow(transactions, recencyWindow)

	var findings []model.Anomaly
	for _, txn := range recent {
		baseline, ok := patterns.CategoryBaselines[txn.Category]
		if !ok || baseline.Count < minSample || baseline.Average <= 0 {
			continue
		}

		deviation := (txn.Amount.InexactFloat64() - baseline.Average) / baseline.Average
		threshold := d.patterns.AdaptiveThreshold(txn.Category)
		if deviation <= threshold.Multiplier-1 || !txn.Amount.GreaterThan(absoluteFloor) {
			continue
		}
		if d.patterns.HasSimilarFalsePositive(txn.Category, txn.Amount) {
			continue
		}

		severity := model.SeverityLow
		switch {
		case deviation > highDeviation:
			severity = model.SeverityHigh
		case deviation > mediumDeviation:
			severity = model.SeverityMedium
		}

		findings = append(findings, model.Anomaly{
			ID:            d.newID(),
			TransactionID: txn.ID,
			Category:      txn.Category,
			Kind:          model.AnomalyKindDeviation,
			Severity:      severity,
			Expected:      baseline.Average,
			Actual:        txn.Amount,
			DiffPercent:   deviation * 100,
			Message: fmt.Sprintf("%s spend of %s is %.0f%% above the %.0f average",
				txn.Category, txn.Amount, deviation*100, baseline.Average),
		})
	}
	return findings
}

// missingExpected reports recurring categories that have gone quiet for
// more than twice their learned gap.
func (d *Detector) missingExpected(patterns *model.PatternSet, transactions []model.Transaction) []model.Anomaly {
	lastSeen := make(map[model.Category]time.Time)
	for _, txn := range transactions {
		if txn.Date.After(lastSeen[txn.Category]) {
			lastSeen[txn.Category] = txn.Date
		}
	}

	var findings []model.Anomaly
	for category, freq := range patterns.FrequencyPatterns {
		if freq.AverageDaysBetween <= 0 || freq.AverageDaysBetween >= recurringMaxGap {
			continue
		}
		last, ok := lastSeen[category]
		if !ok {
			continue
		}
		daysSince := d.now().Sub(last).Hours() / 24
		if daysSince <= overdueFactor*freq.AverageDaysBetween {
			continue
		}

		findings = append(findings, model.Anomaly{
			ID:       d.newID(),
			Category: category,
			Kind:     model.AnomalyKindMissingExpected,
			Severity: model.SeverityLow,
			Expected: freq.AverageDaysBetween,
			Message: fmt.Sprintf("%s usually recurs every %.0f days but none seen for %.0f days",
				category, freq.AverageDaysBetween, daysSince),
		})
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].Category < findings[j].Category })
	return findings
}

// settlementOverdue warns when the unsettled total dwarfs the typical
// confirmed settlement size.
func (d *Detector) settlementOverdue(transactions []model.Transaction) *model.Anomaly {
	unsettled := decimal.Zero
	for _, txn := range transactions {
		if txn.IsShared() && !txn.Settled {
			unsettled = unsettled.Add(txn.Amount)
		}
	}
	if unsettled.IsZero() {
		return nil
	}

	mean := d.patterns.MeanSettlementSize()
	total := unsettled.InexactFloat64()

	var severity model.Severity
	switch {
	case total > settlementUrgentFactor*mean:
		severity = model.SeverityHigh
	case total > settlementWarnFactor*mean:
		severity = model.SeverityMedium
	default:
		return nil
	}

	return &model.Anomaly{
		ID:       d.newID(),
		Kind:     model.AnomalyKindSettlementOverdue,
		Severity: severity,
		Expected: mean,
		Actual:   unsettled,
		Message: fmt.Sprintf("unsettled total %s is well above the typical settlement of %.0f",
			unsettled, mean),
	}
}

// recentWindow returns the newest n transactions by date, newest first.
func recentWindow(transactions []model.Transaction, n int) []model.Transaction {
	recent := make([]model.Transaction, len(transactions))
	copy(recent, transactions)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Date.After(recent[j].Date) })
	if len(recent) > n {
		recent = recent[:n]
	}
	return recent
}
