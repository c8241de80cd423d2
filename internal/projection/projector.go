// Package projection builds display-ready views of the raw or validated
// dataset. Views are presentation only: the 1-based display index is not a
// row identity.
package projection

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"promoflow/pkg/contracts/domain"
)

// Filter selects which validated rows a view shows
type Filter string

const (
	FilterAll     Filter = "All Rows"
	FilterValid   Filter = "Valid Only"
	FilterInvalid Filter = "Invalid Only"
)

// Status marks shown in the Status column
const (
	MarkValid   = "✅"
	MarkInvalid = "❌"
)

// Messages attached to empty views
const (
	MsgNoData    = "No data to display"
	MsgNoMatches = "No rows match the selected filter"
)

// ParseFilter accepts the display names and the short forms all/valid/invalid.
// An empty string means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "all rows", "all_rows":
		return FilterAll, nil
	case "valid", "valid only", "valid_only":
		return FilterValid, nil
	case "invalid", "invalid only", "invalid_only":
		return FilterInvalid, nil
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

// RowLimit caps the rows of a view; LimitAll shows every row
type RowLimit int

// LimitAll is the "All" sentinel
const LimitAll RowLimit = 0

// ParseRowLimit accepts "All" (or empty) and positive integers
func ParseRowLimit(s string) (RowLimit, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return LimitAll, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid row limit %q", s)
	}
	return RowLimit(n), nil
}

// String renders the limit as shown in the row-limit selector
func (l RowLimit) String() string {
	if l <= LimitAll {
		return "All"
	}
	return strconv.Itoa(int(l))
}

// Source is what a view is built from. Validated wins when present.
type Source struct {
	Raw       *domain.Dataset
	Validated *domain.Dataset
}

// ViewRow is one displayed row
type ViewRow struct {
	Index int            `json:"index"`
	Cells []domain.Value `json:"cells"`
}

// View is a filtered, truncated and ordered projection
type View struct {
	Columns   []string  `json:"columns"`
	Rows      []ViewRow `json:"rows"`
	Validated bool      `json:"validated"`
	Filter    Filter    `json:"filter,omitempty"`
	Limit     string    `json:"limit"`
	// Matched counts the rows passing the filter before truncation
	Matched int    `json:"matched_rows"`
	Message string `json:"message,omitempty"`
}

// Projector builds views. Failures are reported and never propagate.
type Projector struct {
	logger *slog.Logger
	report func(error)
}

// NewProjector creates a projector; report may be nil
func NewProjector(logger *slog.Logger, report func(error)) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		logger: logger.With(slog.String("component", "view_projector")),
		report: report,
	}
}

// Project builds a view with the default logger
func Project(src Source, filter Filter, limit RowLimit) *View {
	return NewProjector(nil, nil).Project(src, filter, limit)
}

// Project builds the view for src. Before validation the filter is ignored
// and the first limit raw rows are shown.
func (p *Projector) Project(src Source, filter Filter, limit RowLimit) (view *View) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("projection failed: %v", r)
			p.logger.Error("projection failed", slog.Any("panic", r))
			if p.report != nil {
				p.report(err)
			}
			view = &View{Columns: []string{}, Rows: []ViewRow{}, Limit: limit.String(), Message: MsgNoData}
		}
	}()

	if src.Validated != nil {
		return p.projectValidated(src.Validated, filter, limit)
	}
	if src.Raw != nil {
		return p.projectRaw(src.Raw, limit)
	}
	return &View{Columns: []string{}, Rows: []ViewRow{}, Limit: limit.String(), Message: MsgNoData}
}

func (p *Projector) projectRaw(raw *domain.Dataset, limit RowLimit) *View {
	head := raw.Head(int(limit))
	v := &View{
		Columns: append([]string(nil), raw.Columns...),
		Rows:    make([]ViewRow, 0, head.RowCount()),
		Limit:   limit.String(),
		Matched: raw.RowCount(),
	}
	for i, r := range head.Rows {
		v.Rows = append(v.Rows, ViewRow{Index: i + 1, Cells: r})
	}
	if raw.RowCount() == 0 {
		v.Message = MsgNoData
	}
	return v
}

func (p *Projector) projectValidated(ds *domain.Dataset, filter Filter, limit RowLimit) *View {
	if filter == "" {
		filter = FilterAll
	}
	validIdx, ok := ds.ColumnIndex(domain.ColumnIsValid)
	if !ok {
		panic("validated dataset has no " + domain.ColumnIsValid + " column")
	}

	filtered := ds.Filter(func(_ int, r domain.Row) bool {
		valid := r[validIdx].Kind == domain.KindBool && r[validIdx].Bool
		switch filter {
		case FilterValid:
			return valid
		case FilterInvalid:
			return !valid
		default:
			return true
		}
	})
	matched := filtered.RowCount()
	filtered = filtered.Head(int(limit))

	withStatus := filtered.WithColumn(domain.ColumnStatus, func(_ int, r domain.Row) domain.Value {
		if r[validIdx].Kind == domain.KindBool && r[validIdx].Bool {
			return domain.String(MarkValid)
		}
		return domain.String(MarkInvalid)
	})

	columns := append([]string{domain.ColumnStatus}, ds.DataColumns()...)
	if filter != FilterValid && hasErrors(filtered) {
		columns = append(columns, domain.ColumnValidationErrors)
	}
	projected := withStatus.Select(columns...)

	v := &View{
		Columns:   projected.Columns,
		Rows:      make([]ViewRow, 0, projected.RowCount()),
		Validated: true,
		Filter:    filter,
		Limit:     limit.String(),
		Matched:   matched,
	}
	for i, r := range projected.Rows {
		v.Rows = append(v.Rows, ViewRow{Index: i + 1, Cells: r})
	}
	if matched == 0 {
		v.Message = MsgNoMatches
	}
	return v
}

func hasErrors(ds *domain.Dataset) bool {
	for i := 0; i < ds.RowCount(); i++ {
		if strings.TrimSpace(ds.Get(i, domain.ColumnValidationErrors).Text()) != "" {
			return true
		}
	}
	return false
}
