package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"promoflow/internal/activity"
	"promoflow/internal/warehouse"
	"promoflow/pkg/contracts/domain"
)

// PushStage is the stage of the confirm-push-result flow
type PushStage string

const (
	PushIdle                PushStage = "Idle"
	PushPendingConfirmation PushStage = "PendingConfirmation"
	PushProcessing          PushStage = "Processing"
	PushSucceeded           PushStage = "Succeeded"
	PushFailed              PushStage = "Failed"
)

// PushEvent drives the push flow
type PushEvent string

const (
	EventOpen            PushEvent = "open"
	EventCancel          PushEvent = "cancel"
	EventAccept          PushEvent = "accept"
	EventUploadSucceeded PushEvent = "upload_succeeded"
	EventUploadFailed    PushEvent = "upload_failed"
	EventRetry           PushEvent = "retry"
	EventFinish          PushEvent = "finish"
	EventAbandon         PushEvent = "abandon"
)

// Messages recorded for uploads that did not complete
const (
	MsgUploadCancelled = "upload cancelled"
	MsgUploadFailed    = "Upload failed. Please check the logs for details."
)

// nextPushStage is the push transition table
func nextPushStage(stage PushStage, ev PushEvent) (PushStage, bool) {
	switch stage {
	case PushIdle:
		if ev == EventOpen {
			return PushPendingConfirmation, true
		}
	case PushPendingConfirmation:
		switch ev {
		case EventOpen:
			return PushPendingConfirmation, true
		case EventCancel:
			return PushIdle, true
		case EventAccept:
			return PushProcessing, true
		}
	case PushProcessing:
		switch ev {
		case EventCancel:
			return PushProcessing, true
		case EventUploadSucceeded:
			return PushSucceeded, true
		case EventUploadFailed:
			return PushFailed, true
		}
	case PushSucceeded:
		if ev == EventFinish {
			return PushIdle, true
		}
	case PushFailed:
		switch ev {
		case EventOpen, EventRetry:
			return PushPendingConfirmation, true
		case EventAbandon:
			return PushIdle, true
		}
	}
	return stage, false
}

// PushStatus is a snapshot of the push flow
type PushStatus struct {
	Stage        PushStage  `json:"stage"`
	Market       string     `json:"market,omitempty"`
	RowCount     int        `json:"row_count"`
	TableName    string     `json:"table_name,omitempty"`
	RowsUploaded int        `json:"rows_uploaded,omitempty"`
	Message      string     `json:"message,omitempty"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// PushConfig tunes the orchestrator
type PushConfig struct {
	TablePrefix   string
	UploadTimeout time.Duration
}

// PushOrchestrator runs the confirm, push and result flow for one session.
// State is guarded by the session lock, which is released while the
// uploader runs.
type PushOrchestrator struct {
	lock     sync.Locker
	store    *Store
	uploader warehouse.Uploader
	cfg      PushConfig
	log      *activity.Log
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time

	inFlight atomic.Bool
	status   PushStatus
	cancel   context.CancelFunc
	canceled bool

	onChange func(PushStatus)
}

// NewPushOrchestrator creates an orchestrator. lock must be the lock that
// guards store.
func NewPushOrchestrator(lock sync.Locker, store *Store, uploader warehouse.Uploader, cfg PushConfig, log *activity.Log, logger *slog.Logger) *PushOrchestrator {
	if cfg.TablePrefix == "" {
		cfg.TablePrefix = warehouse.DefaultTablePrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PushOrchestrator{
		lock:     lock,
		store:    store,
		uploader: uploader,
		cfg:      cfg,
		log:      log,
		logger:   logger.With(slog.String("component", "push_orchestrator")),
		metrics:  noopMetrics{},
		now:      time.Now,
		status:   PushStatus{Stage: PushIdle},
	}
}

// InFlight reports whether an upload is running
func (p *PushOrchestrator) InFlight() bool {
	return p.inFlight.Load()
}

// Status returns the current snapshot. Callers hold the session lock.
func (p *PushOrchestrator) Status() PushStatus {
	return p.status
}

func (p *PushOrchestrator) fire(ev PushEvent) error {
	next, ok := nextPushStage(p.status.Stage, ev)
	if !ok {
		return &TransitionError{Stage: p.status.Stage, Event: ev}
	}
	p.status.Stage = next
	if p.onChange != nil {
		p.onChange(p.status)
	}
	return nil
}

// Open enters PendingConfirmation for the confirmed subset. Callers hold
// the session lock.
func (p *PushOrchestrator) Open() error {
	confirmed := p.store.Confirmed()
	if confirmed == nil || confirmed.RowCount() == 0 {
		return ErrNothingConfirmed
	}
	p.status = PushStatus{
		Stage:    p.status.Stage,
		Market:   p.store.ConfirmedMarket(),
		RowCount: confirmed.RowCount(),
		Attempts: p.status.Attempts,
	}
	return p.fire(EventOpen)
}

// Reset returns the flow to Idle unless an upload is running. Callers hold
// the session lock.
func (p *PushOrchestrator) Reset() {
	if p.inFlight.Load() {
		return
	}
	p.status = PushStatus{Stage: PushIdle}
	if p.onChange != nil {
		p.onChange(p.status)
	}
}

// pushJob is an accepted upload waiting to run
type pushJob struct {
	ctx       context.Context
	uploadCtx context.Context
	cancel    context.CancelFunc
	table     string
	payload   *domain.Dataset
	started   time.Time
}

// Accept runs the upload of the confirmed subset. A second Accept while an
// upload is running returns the current status without uploading again.
func (p *PushOrchestrator) Accept(ctx context.Context) (PushStatus, error) {
	job, status, err := p.begin(ctx)
	if job == nil {
		return status, err
	}
	return p.run(job), nil
}

// Start accepts the push and runs the upload in the background. The
// returned status is Processing; done receives the final status. done is
// nil when no upload was started.
func (p *PushOrchestrator) Start(ctx context.Context) (PushStatus, <-chan PushStatus, error) {
	job, status, err := p.begin(ctx)
	if job == nil {
		return status, nil, err
	}
	done := make(chan PushStatus, 1)
	go func() {
		done <- p.run(job)
	}()
	return status, done, nil
}

func (p *PushOrchestrator) begin(ctx context.Context) (job *pushJob, status PushStatus, err error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.inFlight.CompareAndSwap(false, true) {
		return nil, p.status, nil
	}
	defer func() {
		if job == nil {
			p.inFlight.Store(false)
		}
	}()

	if _, ok := nextPushStage(p.status.Stage, EventAccept); !ok {
		return nil, p.status, &TransitionError{Stage: p.status.Stage, Event: EventAccept}
	}
	confirmed := p.store.Confirmed()
	if confirmed == nil || confirmed.RowCount() == 0 {
		p.status = PushStatus{Stage: PushIdle}
		if p.onChange != nil {
			p.onChange(p.status)
		}
		return nil, p.status, ErrNothingConfirmed
	}

	market := p.store.ConfirmedMarket()
	next := &pushJob{
		ctx:     ctx,
		payload: uploadPayload(confirmed, market),
		started: p.now(),
	}
	next.table = warehouse.TableName(p.cfg.TablePrefix, market, next.started)
	next.uploadCtx, next.cancel = context.WithCancel(ctx)
	if p.cfg.UploadTimeout > 0 {
		next.uploadCtx, next.cancel = context.WithTimeout(ctx, p.cfg.UploadTimeout)
	}

	p.cancel = next.cancel
	p.canceled = false
	p.status.Attempts++
	p.status.StartedAt = &next.started
	p.status.FinishedAt = nil
	p.status.TableName = next.table
	p.status.Message = ""
	p.log.Infof("Starting upload to table: %s", next.table)
	_ = p.fire(EventAccept)
	return next, p.status, nil
}

func (p *PushOrchestrator) run(job *pushJob) PushStatus {
	result, err := p.upload(job.uploadCtx, job.table, job.payload)
	job.cancel()

	p.lock.Lock()
	defer p.lock.Unlock()
	defer p.inFlight.Store(false)

	ctx := job.ctx
	finished := p.now()
	p.status.FinishedAt = &finished
	p.cancel = nil
	elapsed := finished.Sub(job.started)

	succeeded := err == nil && result != nil && result.Success
	switch {
	case p.canceled && !succeeded:
		p.fail(ctx, MsgUploadCancelled, elapsed)
	case errors.Is(err, context.DeadlineExceeded):
		p.fail(ctx, fmt.Sprintf("upload timed out after %s", p.cfg.UploadTimeout), elapsed)
	case err != nil:
		p.logger.Error("upload failed", slog.String("table", job.table), slog.String("error", err.Error()))
		p.fail(ctx, fmt.Sprintf("%s: %v", MsgUploadFailed, err), elapsed)
	case result == nil || !result.Success:
		msg := MsgUploadFailed
		if result != nil && result.Message != "" {
			msg = result.Message
		}
		p.fail(ctx, msg, elapsed)
	default:
		if result.TableName == "" {
			result.TableName = job.table
		}
		if result.Message == "" {
			result.Message = warehouse.SuccessMessage(result.RowsUploaded, result.TableName)
		}
		p.status.TableName = result.TableName
		p.status.RowsUploaded = result.RowsUploaded
		p.status.Message = result.Message
		p.store.MarkPushCompleted(*result)
		p.metrics.PushCompleted(ctx, "success", elapsed)
		_ = p.fire(EventUploadSucceeded)
	}
	return p.status
}

type uploadOutcome struct {
	result *domain.UploadResult
	err    error
}

// upload waits for the uploader or for ctx, whichever finishes first
func (p *PushOrchestrator) upload(ctx context.Context, table string, ds *domain.Dataset) (*domain.UploadResult, error) {
	done := make(chan uploadOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- uploadOutcome{err: fmt.Errorf("uploader panicked: %v", r)}
			}
		}()
		res, err := p.uploader.Upload(ctx, table, ds)
		done <- uploadOutcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil && ctx.Err() != nil && (o.result == nil || !o.result.Success) {
			return nil, ctx.Err()
		}
		return o.result, o.err
	case <-ctx.Done():
		select {
		case o := <-done:
			if o.err == nil && o.result != nil && o.result.Success {
				return o.result, nil
			}
		default:
		}
		return nil, ctx.Err()
	}
}

func (p *PushOrchestrator) fail(ctx context.Context, msg string, elapsed time.Duration) {
	p.status.Message = msg
	p.log.Errorf("Upload failed: %s", msg)
	p.metrics.PushCompleted(ctx, "failure", elapsed)
	_ = p.fire(EventUploadFailed)
}

// Cancel closes the pending confirmation and discards the confirmed subset,
// or aborts a running upload. Callers hold the session lock.
func (p *PushOrchestrator) Cancel() error {
	stage := p.status.Stage
	if err := p.fire(EventCancel); err != nil {
		return err
	}
	if stage == PushProcessing && p.cancel != nil {
		p.canceled = true
		p.cancel()
		p.log.Warnf("Upload cancellation requested")
		return nil
	}
	p.status = PushStatus{Stage: PushIdle, Attempts: p.status.Attempts}
	p.store.DiscardConfirmed()
	return nil
}

// Retry returns a failed push to PendingConfirmation with state intact.
// Callers hold the session lock.
func (p *PushOrchestrator) Retry() error {
	if err := p.fire(EventRetry); err != nil {
		return err
	}
	p.log.Infof("Retrying data push")
	return nil
}

// Finish acknowledges a successful push. The caller clears the session.
func (p *PushOrchestrator) Finish() error {
	if err := p.fire(EventFinish); err != nil {
		return err
	}
	p.status = PushStatus{Stage: PushIdle}
	return nil
}

// Abandon gives up on a failed push. The caller clears the session.
func (p *PushOrchestrator) Abandon() error {
	if err := p.fire(EventAbandon); err != nil {
		return err
	}
	p.status = PushStatus{Stage: PushIdle}
	return nil
}

// uploadPayload is the confirmed subset's data columns plus the market column
func uploadPayload(confirmed *domain.Dataset, market string) *domain.Dataset {
	data := confirmed.Select(confirmed.DataColumns()...)
	return data.WithColumn(warehouse.MarketColumn, func(int, domain.Row) domain.Value {
		return domain.String(market)
	})
}
