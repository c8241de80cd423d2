package exporter

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"promoflow/internal/projection"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// SheetName is the worksheet XLSX exports are written to
const SheetName = "Export"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseFormat accepts csv and xlsx; empty means csv
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// FormatForPath picks the format from a file extension
func FormatForPath(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// ContentType is the MIME type served for f
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// FileName derives a download name such as "promos_invalid.csv"
func FileName(source string, filter projection.Filter, f Format) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if base == "" || base == "." {
		base = "export"
	}
	switch filter {
	case projection.FilterValid:
		base += "_valid"
	case projection.FilterInvalid:
		base += "_invalid"
	}
	return base + "." + string(f)
}

// Writer renders views
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a writer
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{logger: logger.With(slog.String("component", "exporter"))}
}

// Write renders view to dst in format f
func (w *Writer) Write(ctx context.Context, dst io.Writer, f Format, view *projection.View) error {
	w.logger.DebugContext(ctx, "Writing export",
		slog.String("format", string(f)),
		slog.Int("record_count", len(view.Rows)))

	switch f {
	case FormatCSV:
		return writeCSV(ctx, dst, view)
	case FormatXLSX:
		return writeXLSX(ctx, dst, view)
	}
	return fmt.Errorf("unsupported export format %q", f)
}

// WriteFile renders view to path, choosing the format from its extension
func (w *Writer) WriteFile(ctx context.Context, path string, view *projection.View) error {
	f, err := FormatForPath(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := w.Write(ctx, file, f, view); err != nil {
		file.Close()
		return err
	}
	w.logger.InfoContext(ctx, "Export written",
		slog.String("file_path", path),
		slog.Int("record_count", len(view.Rows)))
	return file.Close()
}

func writeCSV(ctx context.Context, dst io.Writer, view *projection.View) error {
	if _, err := dst.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	cw := csv.NewWriter(dst)
	if err := cw.Write(view.Columns); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	record := make([]string, len(view.Columns))
	for i, row := range view.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		for j := range record {
			record[j] = ""
			if j < len(row.Cells) {
				record[j] = row.Cells[j].Text()
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(ctx context.Context, dst io.Writer, view *projection.View) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}

	header := make([]interface{}, len(view.Columns))
	for i, c := range view.Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for i, row := range view.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		cells := make([]interface{}, len(view.Columns))
		for j := range cells {
			if j < len(row.Cells) {
				cells[j] = row.Cells[j].Any()
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(dst)
	return err
}
