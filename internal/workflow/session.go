package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"promoflow/internal/activity"
	"promoflow/internal/projection"
	"promoflow/internal/rules"
	"promoflow/internal/warehouse"
	"promoflow/pkg/contracts/domain"
)

// Config holds the per-session settings
type Config struct {
	Markets       []string
	TablePrefix   string
	UploadTimeout time.Duration
	LargeFileMB   float64
	LogReadLimit  int
}

// Option customizes a Session
type Option func(*Session)

// WithMetrics reports workflow outcomes to m
func WithMetrics(m Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
			s.push.metrics = m
		}
	}
}

// WithPushListener is called with every push status change, under the
// session lock. fn must not block.
func WithPushListener(fn func(PushStatus)) Option {
	return func(s *Session) { s.push.onChange = fn }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.push.now = now }
}

// Summary describes a session for display
type Summary struct {
	ID              string           `json:"id"`
	File            *domain.FileInfo `json:"file,omitempty"`
	Rows            int              `json:"rows"`
	Columns         int              `json:"columns"`
	Validated       bool             `json:"validated"`
	Stats           *rules.Stats     `json:"stats,omitempty"`
	QualityPercent  float64          `json:"quality_percent"`
	Market          string           `json:"market,omitempty"`
	Markets         []string         `json:"markets"`
	Stage           Stage            `json:"stage"`
	CanConfirm      bool             `json:"can_confirm"`
	ConfirmBlocker  string           `json:"confirm_blocker,omitempty"`
	ConfirmedMarket string           `json:"confirmed_market,omitempty"`
	ConfirmedRows   int              `json:"confirmed_rows"`
	PushCompleted   bool             `json:"push_completed"`
	Push            PushStatus       `json:"push"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Session is one operator's workflow
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	cfg        Config
	log        *activity.Log
	store      *Store
	engine     *rules.Engine
	projector  *projection.Projector
	controller *Controller
	push       *PushOrchestrator
	metrics    Metrics
	logger     *slog.Logger
}

// NewSession wires the workflow components for one session
func NewSession(id string, cfg Config, engine *rules.Engine, uploader warehouse.Uploader, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session_id", id))

	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		cfg:       cfg,
		engine:    engine,
		metrics:   noopMetrics{},
		logger:    logger,
	}
	s.log = activity.NewLog(logger, cfg.LogReadLimit)
	s.store = NewStore(s.log)
	s.controller = NewController(s.store, s.log, cfg.Markets)
	s.push = NewPushOrchestrator(&s.mu, s.store, uploader, PushConfig{
		TablePrefix:   cfg.TablePrefix,
		UploadTimeout: cfg.UploadTimeout,
	}, s.log, logger)
	s.projector = projection.NewProjector(logger, func(err error) {
		s.log.Errorf("Error displaying data: %v", err)
	})

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Log returns the session activity log
func (s *Session) Log() *activity.Log {
	return s.log
}

// Markets returns the market enumeration
func (s *Session) Markets() []string {
	return s.controller.Markets()
}

func (s *Session) guard() error {
	if s.push.InFlight() {
		s.log.Warnf("Action refused: an upload is in progress")
		return ErrPushInFlight
	}
	return nil
}

// resetPushIfStale drops a push flow whose confirmed subset was cleared
func (s *Session) resetPushIfStale() {
	if !s.store.IsConfirmationComplete() && s.push.Status().Stage != PushIdle {
		s.push.Reset()
	}
}

// Ingest stores a decoded upload. Re-uploading the file already loaded
// keeps the current state and returns false.
func (s *Session) Ingest(ds *domain.Dataset, info domain.FileInfo) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return false, err
	}
	if ds == nil {
		return false, rules.ErrNoData
	}
	if !s.store.IsNewFile(info) {
		s.log.Infof("File %s already loaded, keeping current state", info.Name)
		return false, nil
	}
	if s.cfg.LargeFileMB > 0 && info.SizeMB > s.cfg.LargeFileMB {
		s.log.Warnf("Large file detected (%.2f MB), processing may take longer", info.SizeMB)
	}
	s.store.StoreRaw(ds, info)
	s.resetPushIfStale()
	return true, nil
}

// Validate runs the rule engine over the raw dataset and stores the result.
// On a schema error the previous validated dataset is kept.
func (s *Session) Validate(ctx context.Context) (*rules.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	raw := s.store.Raw()
	if raw == nil {
		s.log.Warnf("Validation skipped: No data to validate")
		return nil, rules.ErrNoData
	}

	s.log.Infof("Starting data validation on entire dataset")
	res, err := s.engine.Validate(ctx, raw)
	if err != nil {
		s.log.Errorf("%v", err)
		s.metrics.ValidationCompleted(ctx, "failure", rules.Stats{})
		return nil, err
	}

	s.store.StoreValidated(res.Dataset)
	s.resetPushIfStale()
	s.log.Infof("Validation completed - Valid: %d, Invalid: %d", res.Stats.Valid, res.Stats.Invalid)
	if res.Stats.Invalid > 0 {
		s.log.Infof("Error breakdown: %s", res.Stats.Breakdown())
	}
	s.metrics.ValidationCompleted(ctx, "success", res.Stats)
	return res, nil
}

// View projects the validated dataset, or the raw one before validation
func (s *Session) View(filter projection.Filter, limit projection.RowLimit) *projection.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projector.Project(projection.Source{
		Raw:       s.store.Raw(),
		Validated: s.store.Validated(),
	}, filter, limit)
}

// ChooseMarket selects the target market. Unknown markets clear the selection.
func (s *Session) ChooseMarket(m string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return "", err
	}
	market := s.controller.ChooseMarket(m)
	s.resetPushIfStale()
	return market, nil
}

// Confirm confirms the valid rows for the chosen market and opens the push
// flow
func (s *Session) Confirm(ctx context.Context) (PushStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return s.push.Status(), err
	}

	if _, err := s.controller.Confirm(); err != nil {
		var pe *PreconditionError
		if errors.As(err, &pe) {
			s.metrics.ConfirmationAttempted(ctx, string(pe.Reason))
		}
		return s.push.Status(), err
	}
	s.metrics.ConfirmationAttempted(ctx, "success")

	if err := s.push.Open(); err != nil {
		s.log.Errorf("Cannot open data push: %v", err)
		return s.push.Status(), err
	}
	return s.push.Status(), nil
}

// Accept starts the upload and blocks until it finishes. Concurrent
// accepts upload once.
func (s *Session) Accept(ctx context.Context) (PushStatus, error) {
	return s.push.Accept(ctx)
}

// StartAccept starts the upload in the background and returns once the
// push is Processing. done receives the final status; it is nil when no
// upload was started.
func (s *Session) StartAccept(ctx context.Context) (PushStatus, <-chan PushStatus, error) {
	return s.push.Start(ctx)
}

// CancelPush closes the pending confirmation or aborts the running upload
func (s *Session) CancelPush() (PushStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.push.Cancel()
	return s.push.Status(), err
}

// RetryPush returns a failed push to PendingConfirmation
func (s *Session) RetryPush() (PushStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.push.Retry()
	return s.push.Status(), err
}

// FinishPush acknowledges a successful push and clears the session
func (s *Session) FinishPush() (PushStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.push.Finish(); err != nil {
		return s.push.Status(), err
	}
	s.store.ClearAll()
	return s.push.Status(), nil
}

// AbandonPush gives up on a failed push and clears the session
func (s *Session) AbandonPush() (PushStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.push.Abandon(); err != nil {
		return s.push.Status(), err
	}
	s.store.ClearAll()
	return s.push.Status(), nil
}

// PushStatus returns the current push snapshot
func (s *Session) PushStatus() PushStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.push.Status()
}

// ClearAll resets the session
func (s *Session) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	s.store.ClearAll()
	s.push.Reset()
	return nil
}

// Logs returns the most recent activity entries
func (s *Session) Logs(limit int) []domain.LogEntry {
	return s.log.Recent(limit)
}

// ClearLogs drops the activity history
func (s *Session) ClearLogs() {
	s.log.Clear()
	s.logger.Info("activity log cleared")
}

// Confirmed returns the confirmed subset and its market
func (s *Session) Confirmed() (*domain.Dataset, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Confirmed(), s.store.ConfirmedMarket()
}

// Summary reports the session state
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		ID:              s.ID,
		File:            s.store.FileInfo(),
		Rows:            s.store.Raw().RowCount(),
		Columns:         s.store.Raw().ColumnCount(),
		Validated:       s.store.IsValidationComplete(),
		Market:          s.store.Market(),
		Markets:         s.controller.Markets(),
		Stage:           s.controller.Stage(),
		ConfirmedMarket: s.store.ConfirmedMarket(),
		ConfirmedRows:   s.store.Confirmed().RowCount(),
		PushCompleted:   s.store.PushCompleted(),
		Push:            s.push.Status(),
		CreatedAt:       s.CreatedAt,
	}
	if sum.Validated {
		stats := rules.ComputeStats(s.store.Validated())
		sum.Stats = &stats
		sum.QualityPercent = stats.QualityPercent()
	}
	ok, reason := s.controller.CanConfirm()
	sum.CanConfirm = ok
	if !ok {
		sum.ConfirmBlocker = reasonMessages[reason]
	}
	return sum
}

// String identifies the session in logs
func (s *Session) String() string {
	return fmt.Sprintf("session %s", s.ID)
}
