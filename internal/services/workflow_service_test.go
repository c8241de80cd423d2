package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"promoflow/internal/config"
	"promoflow/internal/ingest"
	"promoflow/internal/rules"
	"promoflow/internal/shared/testutil"
	"promoflow/internal/validation"
	ws "promoflow/internal/websocket"
	"promoflow/internal/workflow"
	"promoflow/pkg/contracts/domain"
	"promoflow/pkg/contracts/events"
)

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, table string, ds *domain.Dataset) (*domain.UploadResult, error) {
	args := m.Called(ctx, table, ds)
	if res := args.Get(0); res != nil {
		return res.(*domain.UploadResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]events.MessageType
	closed []string
}

func (p *recordingPublisher) Publish(id string, msg ws.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]events.MessageType)
	}
	p.events[id] = append(p.events[id], msg.Type)
}

func (p *recordingPublisher) CloseSession(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, id)
}

func (p *recordingPublisher) count(id string, typ events.MessageType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.events[id] {
		if t == typ {
			n++
		}
	}
	return n
}

type countingMetrics struct {
	mu       sync.Mutex
	sessions int64
	pushes   []string
}

func (m *countingMetrics) ValidationCompleted(context.Context, string, rules.Stats) {}
func (m *countingMetrics) ConfirmationAttempted(context.Context, string)            {}
func (m *countingMetrics) PushCompleted(_ context.Context, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, outcome)
}
func (m *countingMetrics) SessionsChanged(_ context.Context, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions += delta
}

func testWorkflowConfig() config.WorkflowConfig {
	cfg := config.Default().Workflow
	cfg.UploadTimeout = 2 * time.Second
	return cfg
}

func newTestService(t *testing.T, up *mockUploader) (*WorkflowService, *recordingPublisher, *countingMetrics) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	pub := &recordingPublisher{}
	metrics := &countingMetrics{}
	decoder := ingest.NewDecoder(validation.NewFileValidator(logger, 10), 5, logger)
	svc := NewWorkflowService(testWorkflowConfig(), rules.NewEngine(rules.PromoRetail, logger),
		decoder, up, pub, metrics, logger)
	return svc, pub, metrics
}

const validCSV = "Category,Item,Density,MSRP,PROMO,Discount,Start Date,End Date\n" +
	"Beverages,Cola,Low,4.99,3.99,-1.00,2024-01-01,2024-01-31\n" +
	"Beverages,Tea,Low,2.99,1.99,-1.00,2024-01-01,2024-01-31\n"

func uploadCSV(t *testing.T, svc *WorkflowService, id, name, body string) *IngestResult {
	t.Helper()
	res, err := svc.Upload(context.Background(), id, name, strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	return res
}

func TestWorkflowService_FullFlow(t *testing.T) {
	up := &mockUploader{}
	up.On("Upload", mock.Anything, mock.MatchedBy(func(table string) bool {
		return strings.HasPrefix(table, "ORIGINAL_DATA_DE_")
	}), mock.Anything).Return(&domain.UploadResult{Success: true, RowsUploaded: 2}, nil).Once()

	svc, pub, metrics := newTestService(t, up)
	ctx := context.Background()

	sum, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	id := sum.ID

	res := uploadCSV(t, svc, id, "promo.csv", validCSV)
	assert.True(t, res.Loaded)
	assert.Equal(t, 2, res.Summary.Rows)

	val, err := svc.Validate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, val.Stats.Valid)
	assert.Equal(t, 100.0, val.QualityPercent)

	view, err := svc.View(ctx, id, "valid", "10")
	require.NoError(t, err)
	assert.Len(t, view.Rows, 2)

	_, err = svc.ChooseMarket(ctx, id, "de")
	require.NoError(t, err)

	status, err := svc.Confirm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.PushPendingConfirmation, status.Stage)

	status, err = svc.Accept(ctx, id, true)
	require.NoError(t, err)
	assert.Equal(t, workflow.PushSucceeded, status.Stage)
	assert.Equal(t, 2, status.RowsUploaded)

	status, err = svc.FinishPush(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.PushIdle, status.Stage)

	sum, err = svc.Summary(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, sum.Rows)

	assert.Positive(t, pub.count(id, events.MessageTypeActivity))
	assert.Equal(t, 4, pub.count(id, events.MessageTypePushStatus))
	assert.Equal(t, int64(1), metrics.sessions)
	assert.Equal(t, []string{"success"}, metrics.pushes)
	up.AssertExpectations(t)
}

func TestWorkflowService_BackgroundAccept(t *testing.T) {
	release := make(chan struct{})
	up := &mockUploader{}
	up.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(&domain.UploadResult{Success: true, RowsUploaded: 2}, nil).Once()

	svc, _, _ := newTestService(t, up)
	ctx := context.Background()
	sum, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	id := sum.ID

	uploadCSV(t, svc, id, "promo.csv", validCSV)
	_, err = svc.Validate(ctx, id)
	require.NoError(t, err)
	_, err = svc.ChooseMarket(ctx, id, "US")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, id)
	require.NoError(t, err)

	status, err := svc.Accept(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, workflow.PushProcessing, status.Stage)

	_, err = svc.ChooseMarket(ctx, id, "UK")
	assert.ErrorIs(t, err, workflow.ErrPushInFlight)

	close(release)
	require.Eventually(t, func() bool {
		st, _ := svc.PushStatus(ctx, id)
		return st.Stage == workflow.PushSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(shutdownCtx))

	_, err = svc.CreateSession(ctx)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestWorkflowService_Errors(t *testing.T) {
	svc, _, _ := newTestService(t, &mockUploader{})
	ctx := context.Background()

	_, err := svc.Summary(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sum, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	_, err = svc.View(ctx, sum.ID, "bogus", "")
	var ie *InputError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "filter", ie.Field)

	_, err = svc.View(ctx, sum.ID, "", "-3")
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "limit", ie.Field)

	_, err = svc.Confirm(ctx, sum.ID)
	var pe *workflow.PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, workflow.ReasonNoMarket, pe.Reason)

	_, err = svc.Upload(ctx, sum.ID, "promo.xls", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, validation.ErrLegacyExcel)

	uploadCSV(t, svc, sum.ID, "bad.csv", "Item\nCola\n")
	_, err = svc.Validate(ctx, sum.ID)
	assert.True(t, rules.IsSchemaError(err))
}

func TestWorkflowService_LoadRecords(t *testing.T) {
	svc, _, _ := newTestService(t, &mockUploader{})
	ctx := context.Background()
	sum, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	res, err := svc.LoadRecords(ctx, sum.ID, "inline", testutil.PromoColumns, [][]string{
		{"Beverages", "Cola", "Low", "4.99", "3.99", "-1.00", "2024-01-01", "2024-01-31"},
	})
	require.NoError(t, err)
	assert.True(t, res.Loaded)
	assert.Equal(t, 1, res.Summary.Rows)

	_, err = svc.LoadRecords(ctx, sum.ID, "inline2", []string{"a"}, [][]string{{"1", "2"}})
	var ie *InputError
	assert.ErrorAs(t, err, &ie)
}

func TestWorkflowService_Sweep(t *testing.T) {
	svc, pub, metrics := newTestService(t, &mockUploader{})
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	old, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	now = now.Add(svc.cfg.SessionTTL / 2)
	fresh, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	now = now.Add(svc.cfg.SessionTTL/2 + time.Minute)
	assert.Equal(t, 1, svc.Sweep(ctx))

	_, err = svc.Summary(ctx, old.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Summary(ctx, fresh.ID)
	assert.NoError(t, err)

	assert.Equal(t, []string{old.ID}, pub.closed)
	assert.Equal(t, int64(1), metrics.sessions)
}

func TestWorkflowService_LogsAndClear(t *testing.T) {
	svc, _, _ := newTestService(t, &mockUploader{})
	ctx := context.Background()
	sum, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	uploadCSV(t, svc, sum.ID, "promo.csv", validCSV)
	logs, err := svc.Logs(ctx, sum.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[len(logs)-1].Message, "Stored original data: 2 rows")

	require.NoError(t, svc.ClearLogs(ctx, sum.ID))
	logs, err = svc.Logs(ctx, sum.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	cleared, err := svc.ClearSession(ctx, sum.ID)
	require.NoError(t, err)
	assert.Zero(t, cleared.Rows)
}

func TestWorkflowService_Options(t *testing.T) {
	svc, _, _ := newTestService(t, &mockUploader{})
	opts := svc.Options()
	assert.Equal(t, config.DefaultMarkets, opts.Markets)
	assert.Equal(t, []string{"All Rows", "Valid Only", "Invalid Only"}, opts.Filters)
	assert.Equal(t, "promo-retail", opts.Schema)
}
