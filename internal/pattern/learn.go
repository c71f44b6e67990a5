package pattern

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle-the-score/internal/model"
)

// learnCategoryBaselines aggregates every transaction, settled or not, into
// per-category averages and frequencies.
func learnCategoryBaselines(transactions []model.Transaction) map[model.Category]model.CategoryBaseline {
	baselines := make(map[model.Category]model.CategoryBaseline)
	if len(transactions) == 0 {
		return baselines
	}

	for _, txn := range transactions {
		b := baselines[txn.Category]
		b.Category = txn.Category
		b.Total = b.Total.Add(txn.Amount)
		b.Count++
		baselines[txn.Category] = b
	}

	total := float64(len(transactions))
	for category, b := range baselines {
		b.Average = b.Total.Div(decimal.NewFromInt(int64(b.Count))).InexactFloat64()
		b.Frequency = float64(b.Count) / total
		baselines[category] = b
	}
	return baselines
}

// learnParticipantBaselines builds payer-scoped baselines: what each
// participant typically pays per category.
func learnParticipantBaselines(transactions []model.Transaction, participants []model.ParticipantID) map[model.ParticipantID]map[model.Category]model.ParticipantBaseline {
	baselines := make(map[model.ParticipantID]map[model.Category]model.ParticipantBaseline, len(participants))

	for _, txn := range transactions {
		if !txn.IsShared() {
			continue
		}
		byCategory := baselines[txn.Payer]
		if byCategory == nil {
			byCategory = make(map[model.Category]model.ParticipantBaseline)
			baselines[txn.Payer] = byCategory
		}

		b := byCategory[txn.Category]
		b.Participant = txn.Payer
		b.Category = txn.Category
		b.Total = b.Total.Add(txn.Amount)
		b.Count++
		byCategory[txn.Category] = b
	}

	for _, byCategory := range baselines {
		for category, b := range byCategory {
			b.Average = b.Total.Div(decimal.NewFromInt(int64(b.Count))).InexactFloat64()
			byCategory[category] = b
		}
	}
	return baselines
}

// learnFrequencyPatterns derives the cadence of each category from the gaps
// between consecutive transaction dates. Categories with fewer than two
// dated transactions have no learnable cadence and are skipped.
func learnFrequencyPatterns(transactions []model.Transaction) map[model.Category]model.FrequencyPattern {
	datesByCategory := make(map[model.Category][]time.Time)
	for _, txn := range transactions {
		if txn.Date.IsZero() {
			continue
		}
		datesByCategory[txn.Category] = append(datesByCategory[txn.Category], txn.Date)
	}

	patterns := make(map[model.Category]model.FrequencyPattern)
	for category, dates := range datesByCategory {
		if len(dates) < 2 {
			continue
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

		var sum, minGap, maxGap float64
		for i := 1; i < len(dates); i++ {
			gap := dates[i].Sub(dates[i-1]).Hours() / 24
			sum += gap
			if i == 1 || gap < minGap {
				minGap = gap
			}
			if gap > maxGap {
				maxGap = gap
			}
		}

		patterns[category] = model.FrequencyPattern{
			Category:           category,
			AverageDaysBetween: sum / float64(len(dates)-1),
			MinDays:            minGap,
			MaxDays:            maxGap,
		}
	}
	return patterns
}
