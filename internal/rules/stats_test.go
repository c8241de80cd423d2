package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promoflow/internal/shared/testutil"
	"promoflow/pkg/contracts/domain"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func scenarioOneDataset() *domain.Dataset {
	return testutil.PromoDataset(
		testutil.ValidPromoRow("Cola"),
		testutil.ValidPromoRow("Lemonade"),
		testutil.PromoRow("Beverages", "Water", "Low", "0", "0.50", "-0.10", "2024-01-01", "2024-01-31"),
	)
}

func TestComputeStats_ScenarioOne(t *testing.T) {
	res, err := newPromoEngine(t).Validate(context.Background(), scenarioOneDataset())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Stats.Total)
	assert.Equal(t, 2, res.Stats.Valid)
	assert.Equal(t, 1, res.Stats.Invalid)
	assert.Equal(t, map[string]int{"MSRP must be > 0": 1}, res.Stats.ErrorCounts)

	assert.Equal(t, res.Stats, ComputeStats(res.Dataset))
	assert.InDelta(t, 66.67, res.Stats.QualityPercent(), 0.01)
}

func TestComputeStats_SplitsMessages(t *testing.T) {
	ds := domain.NewDataset(
		[]string{"Item", domain.ColumnIsValid, domain.ColumnValidationErrors},
		[]domain.Row{
			{domain.String("a"), domain.Bool(false), domain.String("Missing Item; MSRP must be > 0")},
			{domain.String("b"), domain.Bool(false), domain.String("MSRP must be > 0")},
			{domain.String("c"), domain.Bool(true), domain.String("")},
		},
	)

	stats := ComputeStats(ds)
	assert.Equal(t, map[string]int{"Missing Item": 1, "MSRP must be > 0": 2}, stats.ErrorCounts)
	assert.Equal(t, "{MSRP must be > 0: 2, Missing Item: 1}", stats.Breakdown())
}

func TestComputeStats_Empty(t *testing.T) {
	stats := ComputeStats(nil)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.QualityPercent())
	assert.Equal(t, "{}", stats.Breakdown())
}
