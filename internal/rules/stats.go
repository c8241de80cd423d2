package rules

import (
	"fmt"
	"sort"
	"strings"

	"promoflow/pkg/contracts/domain"
)

// Stats summarizes a validated dataset
type Stats struct {
	Total       int            `json:"total_rows"`
	Valid       int            `json:"valid_rows"`
	Invalid     int            `json:"invalid_rows"`
	ErrorCounts map[string]int `json:"error_types"`
}

// ComputeStats derives the counts from the IsValid and ValidationErrors
// columns, splitting each invalid row's error text back into its messages.
func ComputeStats(validated *domain.Dataset) Stats {
	stats := Stats{ErrorCounts: map[string]int{}}
	if validated == nil {
		return stats
	}

	stats.Total = validated.RowCount()
	for i := 0; i < stats.Total; i++ {
		if validated.IsValidAt(i) {
			stats.Valid++
			continue
		}
		stats.Invalid++
		for _, msg := range strings.Split(validated.Get(i, domain.ColumnValidationErrors).Text(), ErrorSeparator) {
			if msg = strings.TrimSpace(msg); msg != "" {
				stats.ErrorCounts[msg]++
			}
		}
	}
	return stats
}

// QualityPercent is the share of valid rows, 0 for an empty dataset
func (s Stats) QualityPercent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Valid) / float64(s.Total) * 100
}

// Breakdown renders the error counts as "msg: n" pairs, most frequent first
func (s Stats) Breakdown() string {
	type kv struct {
		msg string
		n   int
	}
	pairs := make([]kv, 0, len(s.ErrorCounts))
	for m, n := range s.ErrorCounts {
		pairs = append(pairs, kv{m, n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].n != pairs[j].n {
			return pairs[i].n > pairs[j].n
		}
		return pairs[i].msg < pairs[j].msg
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = fmt.Sprintf("%s: %d", p.msg, p.n)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
