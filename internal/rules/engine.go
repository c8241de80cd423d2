package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"promoflow/pkg/contracts/domain"
)

// ErrorSeparator joins the messages of a row's fired rules
const ErrorSeparator = "; "

// Result is the output of a validation pass
type Result struct {
	Dataset *domain.Dataset `json:"-"`
	Stats   Stats           `json:"stats"`
}

// Engine validates datasets against one schema variant
type Engine struct {
	schema Schema
	rules  []rule
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEngine creates an engine for schema
func NewEngine(schema Schema, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		schema: schema,
		rules:  buildRules(schema),
		logger: logger.With(slog.String("component", "rule_engine"), slog.String("schema", schema.Name)),
		tracer: otel.Tracer("promoflow/rules"),
	}
}

// Schema returns the schema the engine validates against
func (e *Engine) Schema() Schema {
	return e.schema
}

// Validate evaluates every rule column-wide and returns the validated dataset:
// the raw columns followed by IsValid and ValidationErrors.
// A *SchemaError is returned when required columns are absent.
func (e *Engine) Validate(ctx context.Context, raw *domain.Dataset) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "rules.Validate")
	defer span.End()

	if err := e.precheck(raw); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", raw.RowCount()))

	masks := make([][]bool, len(e.rules))
	g, _ := errgroup.WithContext(ctx)
	for i, r := range e.rules {
		i, r := i, r
		g.Go(func() error {
			mask, err := e.evaluateColumn(raw, r)
			if err != nil {
				return err
			}
			masks[i] = mask
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	n := raw.RowCount()
	valid := make([]bool, n)
	messages := make([]string, n)
	for row := 0; row < n; row++ {
		var fired []string
		for i, r := range e.rules {
			if masks[i][row] {
				fired = append(fired, r.message)
			}
		}
		valid[row] = len(fired) == 0
		messages[row] = joinErrors(fired)
	}

	return e.finish(raw, valid, messages), nil
}

// ValidateRowWise evaluates the rules one row at a time. A panic while
// checking a row marks that row invalid with MsgRowError and the pass
// continues.
func (e *Engine) ValidateRowWise(ctx context.Context, raw *domain.Dataset) (*Result, error) {
	_, span := e.tracer.Start(ctx, "rules.ValidateRowWise")
	defer span.End()

	if err := e.precheck(raw); err != nil {
		span.RecordError(err)
		return nil, err
	}

	idx := make([][]int, len(e.rules))
	for i, r := range e.rules {
		for _, c := range r.columns {
			j, _ := raw.ColumnIndex(c)
			idx[i] = append(idx[i], j)
		}
	}

	n := raw.RowCount()
	valid := make([]bool, n)
	messages := make([]string, n)
	for row := 0; row < n; row++ {
		fired := e.checkRow(raw.Rows[row], idx, row)
		valid[row] = len(fired) == 0
		messages[row] = joinErrors(fired)
	}

	return e.finish(raw, valid, messages), nil
}

func (e *Engine) checkRow(row domain.Row, idx [][]int, rowNum int) (fired []string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("row validation panicked",
				slog.Int("row", rowNum),
				slog.Any("panic", r))
			fired = []string{MsgRowError}
		}
	}()

	for i, r := range e.rules {
		cells := make([]domain.Value, len(idx[i]))
		for j, col := range idx[i] {
			cells[j] = row[col]
		}
		if r.fails(cells...) {
			fired = append(fired, r.message)
		}
	}
	return fired
}

func (e *Engine) precheck(raw *domain.Dataset) error {
	if raw == nil {
		return ErrNoData
	}
	if missing := e.schema.MissingColumns(raw.Columns); len(missing) > 0 {
		err := &SchemaError{Missing: missing}
		e.logger.Error("schema check failed", slog.Any("missing", missing))
		return err
	}
	return nil
}

func (e *Engine) evaluateColumn(ds *domain.Dataset, r rule) (mask []bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rule %q: %v", r.message, p)
		}
	}()

	cols := make([][]domain.Value, len(r.columns))
	for i, c := range r.columns {
		values, ok := ds.Column(c)
		if !ok {
			return nil, &SchemaError{Missing: []string{c}}
		}
		cols[i] = values
	}

	mask = make([]bool, ds.RowCount())
	cells := make([]domain.Value, len(cols))
	for row := range mask {
		for i := range cols {
			cells[i] = cols[i][row]
		}
		mask[row] = r.fails(cells...)
	}
	return mask, nil
}

func (e *Engine) finish(raw *domain.Dataset, valid []bool, messages []string) *Result {
	validated := raw.
		WithColumn(domain.ColumnIsValid, func(i int, _ domain.Row) domain.Value { return domain.Bool(valid[i]) }).
		WithColumn(domain.ColumnValidationErrors, func(i int, _ domain.Row) domain.Value { return domain.String(messages[i]) })

	stats := ComputeStats(validated)
	e.logger.Info("validation completed",
		slog.Int("total", stats.Total),
		slog.Int("valid", stats.Valid),
		slog.Int("invalid", stats.Invalid))

	return &Result{Dataset: validated, Stats: stats}
}

func joinErrors(fired []string) string {
	return strings.TrimRight(strings.Join(fired, ErrorSeparator), "; ")
}
