package workflow

import (
	"context"
	"time"

	"promoflow/internal/rules"
)

// Metrics receives workflow outcomes. Outcomes are "success" or "failure";
// confirmation failures use the refusal reason.
type Metrics interface {
	ValidationCompleted(ctx context.Context, outcome string, stats rules.Stats)
	ConfirmationAttempted(ctx context.Context, outcome string)
	PushCompleted(ctx context.Context, outcome string, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ValidationCompleted(context.Context, string, rules.Stats) {}
func (noopMetrics) ConfirmationAttempted(context.Context, string)            {}
func (noopMetrics) PushCompleted(context.Context, string, time.Duration)     {}
