// Package ingest decodes uploaded CSV and XLSX files into datasets.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"promoflow/internal/validation"
	"promoflow/pkg/contracts/domain"
)

// ErrNoHeader is returned when a file has no header row
var ErrNoHeader = errors.New("file has no header row")

// DecodeError is a file that passed the upload checks but could not be parsed
type DecodeError struct {
	File string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.File, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder turns uploaded bytes into a dataset
type Decoder struct {
	validator *validation.FileValidator
	// streamingMB is the size above which XLSX sheets are read through the
	// row iterator instead of loaded at once. CSV is always read record by
	// record.
	streamingMB float64
	logger      *slog.Logger
}

// NewDecoder creates a decoder
func NewDecoder(validator *validation.FileValidator, streamingMB float64, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = validation.NewFileValidator(logger, 0)
	}
	return &Decoder{
		validator:   validator,
		streamingMB: streamingMB,
		logger:      logger.With(slog.String("component", "ingest")),
	}
}

// Decode reads an upload named name of size bytes
func (d *Decoder) Decode(ctx context.Context, name string, r io.Reader, size int64) (*domain.Dataset, domain.FileInfo, error) {
	info := domain.FileInfo{Name: filepath.Base(name), SizeMB: validation.SizeMB(size)}

	format, err := d.validator.ValidateUpload(info.Name, size)
	if err != nil {
		return nil, info, err
	}
	streaming := format == validation.FormatXLSX && d.streamingMB > 0 && info.SizeMB > d.streamingMB

	var ds *domain.Dataset
	switch format {
	case validation.FormatCSV:
		ds, err = decodeCSV(ctx, r)
	case validation.FormatXLSX:
		ds, err = decodeXLSX(ctx, r, streaming)
	}
	if err != nil {
		d.logger.Error("File decode failed",
			slog.String("file", info.Name),
			slog.String("error", err.Error()))
		return nil, info, &DecodeError{File: info.Name, Err: err}
	}

	d.logger.Info("File decoded",
		slog.String("file", info.Name),
		slog.String("format", format),
		slog.Bool("streaming", streaming),
		slog.Int("rows", ds.RowCount()),
		slog.Int("columns", ds.ColumnCount()))
	return ds, info, nil
}

// DecodeFile reads the file at path
func (d *Decoder) DecodeFile(ctx context.Context, path string) (*domain.Dataset, domain.FileInfo, error) {
	if _, _, err := d.validator.ValidateFile(path); err != nil {
		return nil, domain.FileInfo{Name: filepath.Base(path)}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.FileInfo{Name: filepath.Base(path)}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, domain.FileInfo{Name: filepath.Base(path)}, fmt.Errorf("failed to stat file: %w", err)
	}
	return d.Decode(ctx, path, f, st.Size())
}

func decodeCSV(ctx context.Context, r io.Reader) (*domain.Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, err
	}
	columns := cleanHeader(header)

	var rows []domain.Row
	for n := 0; ; n++ {
		if n%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if blankRecord(rec) {
			continue
		}
		rows = append(rows, toRow(rec))
	}
	return domain.NewDataset(columns, rows), nil
}

func decodeXLSX(ctx context.Context, r io.Reader, streaming bool) (*domain.Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}
	sheet := sheets[0]

	var records [][]string
	if streaming {
		it, err := f.Rows(sheet)
		if err != nil {
			return nil, err
		}
		for n := 0; it.Next(); n++ {
			if n%1000 == 0 && ctx.Err() != nil {
				it.Close()
				return nil, ctx.Err()
			}
			cols, err := it.Columns()
			if err != nil {
				it.Close()
				return nil, err
			}
			records = append(records, cols)
		}
		if err := it.Close(); err != nil {
			return nil, err
		}
	} else {
		records, err = f.GetRows(sheet)
		if err != nil {
			return nil, err
		}
	}

	if len(records) == 0 {
		return nil, ErrNoHeader
	}
	columns := cleanHeader(records[0])
	rows := make([]domain.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if blankRecord(rec) {
			continue
		}
		rows = append(rows, toRow(rec))
	}
	return domain.NewDataset(columns, rows), nil
}

func cleanHeader(header []string) []string {
	cols := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		cols[i] = h
	}
	return cols
}

// toRow maps empty cells to null and keeps everything else as text; the
// rule engine parses numbers and dates
func toRow(rec []string) domain.Row {
	row := make(domain.Row, len(rec))
	for i, cell := range rec {
		if strings.TrimSpace(cell) == "" {
			row[i] = domain.Null()
			continue
		}
		row[i] = domain.String(cell)
	}
	return row
}

func blankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// FromRecords builds a dataset from a header and text records the same way
// uploaded files are decoded
func FromRecords(header []string, records [][]string) (*domain.Dataset, error) {
	if len(header) == 0 {
		return nil, ErrNoHeader
	}
	rows := make([]domain.Row, 0, len(records))
	for i, rec := range records {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("row %d has %d cells, expected %d", i, len(rec), len(header))
		}
		if blankRecord(rec) {
			continue
		}
		rows = append(rows, toRow(rec))
	}
	return domain.NewDataset(cleanHeader(header), rows), nil
}
