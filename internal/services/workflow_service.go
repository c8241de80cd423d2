package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"promoflow/internal/config"
	"promoflow/internal/exporter"
	"promoflow/internal/infrastructure"
	"promoflow/internal/ingest"
	"promoflow/internal/projection"
	"promoflow/internal/rules"
	"promoflow/internal/warehouse"
	ws "promoflow/internal/websocket"
	"promoflow/internal/workflow"
	"promoflow/pkg/contracts/domain"
	"promoflow/pkg/contracts/events"
)

// SessionMetrics receives workflow outcomes and session gauge changes
type SessionMetrics interface {
	workflow.Metrics
	SessionsChanged(ctx context.Context, delta int64)
}

// IngestResult reports an upload
type IngestResult struct {
	Loaded  bool             `json:"loaded"`
	File    domain.FileInfo  `json:"file"`
	Summary workflow.Summary `json:"summary"`
}

// ValidationSummary is the outcome of a validation run
type ValidationSummary struct {
	Stats          rules.Stats `json:"stats"`
	QualityPercent float64     `json:"quality_percent"`
}

// Options lists the choices a client can offer the operator
type Options struct {
	Markets       []string `json:"markets"`
	RowLimits     []string `json:"row_limits"`
	PreviewLimits []string `json:"preview_limits"`
	Filters       []string `json:"filters"`
	Schema        string   `json:"schema"`
}

type sessionEntry struct {
	session  *workflow.Session
	lastSeen atomic.Int64
}

func (e *sessionEntry) touch(now time.Time) {
	e.lastSeen.Store(now.UnixNano())
}

// WorkflowService owns the workflow sessions
type WorkflowService struct {
	cfg       config.WorkflowConfig
	engine    *rules.Engine
	decoder   *ingest.Decoder
	exporter  *exporter.Writer
	uploader  warehouse.Uploader
	publisher ws.Publisher
	metrics   SessionMetrics
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	closed   bool

	// parent of background uploads, so they outlive the request
	baseCtx context.Context
	stop    context.CancelFunc
	uploads sync.WaitGroup
}

// NewWorkflowService wires the service. publisher and metrics may be nil.
func NewWorkflowService(cfg config.WorkflowConfig, engine *rules.Engine, decoder *ingest.Decoder,
	uploader warehouse.Uploader, publisher ws.Publisher, metrics SessionMetrics, logger *slog.Logger) *WorkflowService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &WorkflowService{
		cfg:       cfg,
		engine:    engine,
		decoder:   decoder,
		exporter:  exporter.NewWriter(logger),
		uploader:  uploader,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "workflow_service")),
		now:       time.Now,
		sessions:  make(map[string]*sessionEntry),
		baseCtx:   ctx,
		stop:      stop,
	}
}

// Options returns the configured choices
func (s *WorkflowService) Options() Options {
	return Options{
		Markets:       append([]string(nil), s.cfg.Markets...),
		RowLimits:     append([]string(nil), s.cfg.RowLimits...),
		PreviewLimits: append([]string(nil), s.cfg.PreviewLimits...),
		Filters: []string{
			string(projection.FilterAll),
			string(projection.FilterValid),
			string(projection.FilterInvalid),
		},
		Schema: s.cfg.Schema,
	}
}

// CreateSession opens a new empty session
func (s *WorkflowService) CreateSession(ctx context.Context) (workflow.Summary, error) {
	id := uuid.New().String()
	logger := infrastructure.LoggerWithContext(ctx)

	opts := []workflow.Option{
		workflow.WithPushListener(func(st workflow.PushStatus) {
			s.publish(id, events.MessageTypePushStatus, st)
		}),
	}
	if s.metrics != nil {
		opts = append(opts, workflow.WithMetrics(s.metrics))
	}

	sess := workflow.NewSession(id, workflow.Config{
		Markets:       s.cfg.Markets,
		TablePrefix:   s.cfg.TablePrefix,
		UploadTimeout: s.cfg.UploadTimeout,
		LargeFileMB:   s.cfg.LargeFileMB,
		LogReadLimit:  s.cfg.MaxLogEntries,
	}, s.engine, s.uploader, logger, opts...)
	sess.Log().Subscribe(func(e domain.LogEntry) {
		s.publish(id, events.MessageTypeActivity, events.ActivityData{
			Level:   string(e.Level),
			Message: e.Message,
			Time:    e.Timestamp,
			Line:    e.String(),
		})
	})

	entry := &sessionEntry{session: sess}
	entry.touch(s.now())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return workflow.Summary{}, ErrShuttingDown
	}
	s.sessions[id] = entry
	count := len(s.sessions)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionsChanged(ctx, 1)
	}
	s.logger.InfoContext(ctx, "session created",
		slog.String("session_id", id),
		slog.Int("active_sessions", count))
	return sess.Summary(), nil
}

func (s *WorkflowService) publish(id string, typ events.MessageType, data interface{}) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(id, ws.Envelope{Type: typ, Data: data})
}

// Session returns the live session with id
func (s *WorkflowService) Session(id string) (*workflow.Session, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	entry.touch(s.now())
	return entry.session, nil
}

// SessionCount returns the number of open sessions
func (s *WorkflowService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Summary reports the state of session id
func (s *WorkflowService) Summary(ctx context.Context, id string) (workflow.Summary, error) {
	sess, err := s.Session(id)
	if err != nil {
		return workflow.Summary{}, err
	}
	return sess.Summary(), nil
}

// ClearSession resets session id to empty
func (s *WorkflowService) ClearSession(ctx context.Context, id string) (workflow.Summary, error) {
	sess, err := s.Session(id)
	if err != nil {
		return workflow.Summary{}, err
	}
	if err := sess.ClearAll(); err != nil {
		return sess.Summary(), err
	}
	return sess.Summary(), nil
}

// Upload decodes a file and stores it as the session's raw dataset
func (s *WorkflowService) Upload(ctx context.Context, id, name string, r io.Reader, size int64) (*IngestResult, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	ds, info, err := s.decoder.Decode(ctx, name, r, size)
	if err != nil {
		sess.Log().Errorf("Error reading file: %v", err)
		return nil, err
	}
	return s.ingest(sess, ds, info)
}

// LoadRecords stores a dataset submitted as text records
func (s *WorkflowService) LoadRecords(ctx context.Context, id, name string, header []string, records [][]string) (*IngestResult, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	ds, err := ingest.FromRecords(header, records)
	if err != nil {
		return nil, &InputError{Field: "rows", Err: err}
	}
	return s.ingest(sess, ds, domain.FileInfo{Name: name})
}

func (s *WorkflowService) ingest(sess *workflow.Session, ds *domain.Dataset, info domain.FileInfo) (*IngestResult, error) {
	loaded, err := sess.Ingest(ds, info)
	if err != nil {
		return nil, err
	}
	return &IngestResult{Loaded: loaded, File: info, Summary: sess.Summary()}, nil
}

// Validate runs the rule engine over the session's raw dataset
func (s *WorkflowService) Validate(ctx context.Context, id string) (*ValidationSummary, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	res, err := sess.Validate(ctx)
	if err != nil {
		return nil, err
	}
	return &ValidationSummary{Stats: res.Stats, QualityPercent: res.Stats.QualityPercent()}, nil
}

// View projects the session data with the given filter and row limit
func (s *WorkflowService) View(ctx context.Context, id, filter, limit string) (*projection.View, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	f, err := projection.ParseFilter(filter)
	if err != nil {
		return nil, &InputError{Field: "filter", Err: err}
	}
	l, err := projection.ParseRowLimit(limit)
	if err != nil {
		return nil, &InputError{Field: "limit", Err: err}
	}
	return sess.View(f, l), nil
}

// Export is a view ready to be written out as a file
type Export struct {
	FileName string
	Format   exporter.Format
	Rows     int
	view     *projection.View
	writer   *exporter.Writer
}

// WriteTo renders the export to dst
func (e *Export) WriteTo(ctx context.Context, dst io.Writer) error {
	return e.writer.Write(ctx, dst, e.Format, e.view)
}

// Export prepares every row of the session data matching filter for download
func (s *WorkflowService) Export(ctx context.Context, id, filter, format string) (*Export, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	f, err := projection.ParseFilter(filter)
	if err != nil {
		return nil, &InputError{Field: "filter", Err: err}
	}
	ff, err := exporter.ParseFormat(format)
	if err != nil {
		return nil, &InputError{Field: "format", Err: err}
	}

	summary := sess.Summary()
	if summary.File == nil {
		return nil, fmt.Errorf("nothing to export: %w", rules.ErrNoData)
	}
	view := sess.View(f, projection.LimitAll)
	sess.Log().Infof("Exported %d rows as %s", len(view.Rows), ff)
	return &Export{
		FileName: exporter.FileName(summary.File.Name, view.Filter, ff),
		Format:   ff,
		Rows:     len(view.Rows),
		view:     view,
		writer:   s.exporter,
	}, nil
}

// ChooseMarket sets the session market
func (s *WorkflowService) ChooseMarket(ctx context.Context, id, market string) (workflow.Summary, error) {
	sess, err := s.Session(id)
	if err != nil {
		return workflow.Summary{}, err
	}
	if _, err := sess.ChooseMarket(market); err != nil {
		return sess.Summary(), err
	}
	return sess.Summary(), nil
}

// Confirm confirms the valid rows and opens the push flow
func (s *WorkflowService) Confirm(ctx context.Context, id string) (workflow.PushStatus, error) {
	sess, err := s.Session(id)
	if err != nil {
		return workflow.PushStatus{}, err
	}
	return sess.Confirm(ctx)
}

// Accept starts the upload. With wait the call returns the final status;
// otherwise the upload runs in the background and Processing is returned.
func (s *WorkflowService) Accept(ctx context.Context, id string, wait bool) (workflow.PushStatus, error) {
	sess, err := s.Session(id)
	if err != nil {
		return workflow.PushStatus{}, err
	}
	if wait {
		return sess.Accept(ctx)
	}

	bg := infrastructure.WithSessionID(s.baseCtx, id)
	if traceID := infrastructure.GetTraceID(ctx); traceID != "" {
		bg = infrastructure.WithTraceID(bg, traceID)
	}
	bg = infrastructure.EnsureTraceID(bg)
	status, done, err := sess.StartAccept(bg)
	if done != nil {
		s.uploads.Add(1)
		go func() {
			defer s.uploads.Done()
			final := <-done
			s.logger.InfoContext(bg, "background upload finished",
				slog.String("stage", string(final.Stage)),
				slog.String("table", final.TableName))
		}()
	}
	return status, err
}

// CancelPush closes the pending confirmation or aborts the running upload
func (s *WorkflowService) CancelPush(ctx context.Context, id string) (workflow.PushStatus, error) {
	sess, err := s.Session(id)
	if err != nil {
		return workflow.PushStatus{}, err
	}
	return sess.CancelPush()
}

// RetryPush returns a failed push to PendingConfirmation
func (s *WorkflowService) RetryPush(ctx context.Context, id string) (workflow.PushStatus, error) {
	sess, err := s.Session(id)
	if err != nil {
		return workflow.PushStatus{}, err
	}
	return sess.RetryPush()
}

// FinishPush acknowledges a successful push and clears the session
func (s *WorkflowService) FinishPush(ctx context.Context, id string) (workflow.PushStatus, error) {
	sess, err := s.Session(id)
	if err != nil {
		return workflow.PushStatus{}, err
	}
	return sess.FinishPush()
}

// AbandonPush gives up on a failed push and clears the session
func (s *WorkflowService) AbandonPush(ctx context.Context, id string) (workflow.PushStatus, error) {
	sess, err := s.Session(id)
	if err != nil {
		return workflow.PushStatus{}, err
	}
	return sess.AbandonPush()
}

// PushStatus returns the push snapshot of session id
func (s *WorkflowService) PushStatus(ctx context.Context, id string) (workflow.PushStatus, error) {
	sess, err := s.Session(id)
	if err != nil {
		return workflow.PushStatus{}, err
	}
	return sess.PushStatus(), nil
}

// Logs returns up to limit recent activity entries; limit <= 0 uses the
// configured default
func (s *WorkflowService) Logs(ctx context.Context, id string, limit int) ([]domain.LogEntry, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	return sess.Logs(limit), nil
}

// ClearLogs drops the activity history of session id
func (s *WorkflowService) ClearLogs(ctx context.Context, id string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	sess.ClearLogs()
	return nil
}

// Sweep removes sessions idle for longer than the configured TTL. Sessions
// with a running upload are kept.
func (s *WorkflowService) Sweep(ctx context.Context) int {
	if s.cfg.SessionTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.SessionTTL).UnixNano()

	var expired []string
	s.mu.Lock()
	for id, entry := range s.sessions {
		if entry.lastSeen.Load() >= cutoff {
			continue
		}
		if entry.session.PushStatus().Stage == workflow.PushProcessing {
			continue
		}
		delete(s.sessions, id)
		expired = append(expired, id)
	}
	s.mu.Unlock()

	for _, id := range expired {
		if s.publisher != nil {
			s.publisher.CloseSession(id)
		}
		if s.metrics != nil {
			s.metrics.SessionsChanged(ctx, -1)
		}
	}
	if len(expired) > 0 {
		s.logger.InfoContext(ctx, "expired idle sessions", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// RunJanitor sweeps idle sessions every interval until ctx is done
func (s *WorkflowService) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Shutdown refuses new sessions and waits for background uploads. Uploads
// still running when ctx expires are cancelled.
func (s *WorkflowService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.uploads.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.stop()
		return nil
	case <-ctx.Done():
		s.stop()
		<-done
		return ctx.Err()
	}
}
