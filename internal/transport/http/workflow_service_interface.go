package http

import (
	"context"
	"io"

	"promoflow/internal/projection"
	"promoflow/internal/services"
	"promoflow/internal/workflow"
	"promoflow/pkg/contracts/domain"
)

// WorkflowServiceInterface defines the interface for workflow service operations
type WorkflowServiceInterface interface {
	Options() services.Options
	CreateSession(ctx context.Context) (workflow.Summary, error)
	Summary(ctx context.Context, id string) (workflow.Summary, error)
	ClearSession(ctx context.Context, id string) (workflow.Summary, error)
	Upload(ctx context.Context, id, name string, r io.Reader, size int64) (*services.IngestResult, error)
	LoadRecords(ctx context.Context, id, name string, header []string, records [][]string) (*services.IngestResult, error)
	Validate(ctx context.Context, id string) (*services.ValidationSummary, error)
	View(ctx context.Context, id, filter, limit string) (*projection.View, error)
	Export(ctx context.Context, id, filter, format string) (*services.Export, error)
	ChooseMarket(ctx context.Context, id, market string) (workflow.Summary, error)
	Confirm(ctx context.Context, id string) (workflow.PushStatus, error)
	Accept(ctx context.Context, id string, wait bool) (workflow.PushStatus, error)
	CancelPush(ctx context.Context, id string) (workflow.PushStatus, error)
	RetryPush(ctx context.Context, id string) (workflow.PushStatus, error)
	FinishPush(ctx context.Context, id string) (workflow.PushStatus, error)
	AbandonPush(ctx context.Context, id string) (workflow.PushStatus, error)
	PushStatus(ctx context.Context, id string) (workflow.PushStatus, error)
	Logs(ctx context.Context, id string, limit int) ([]domain.LogEntry, error)
	ClearLogs(ctx context.Context, id string) error
}

// Ensure WorkflowService implements WorkflowServiceInterface
var _ WorkflowServiceInterface = (*services.WorkflowService)(nil)
