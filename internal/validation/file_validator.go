// Package validation checks uploaded files before they are decoded.
package validation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Supported upload formats
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var (
	// ErrUnsupportedFormat is returned for extensions other than .csv and .xlsx
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrLegacyExcel is returned for .xls files
	ErrLegacyExcel = errors.New("legacy .xls files are not supported, save the workbook as .xlsx")
	// ErrFileTooLarge is returned when an upload exceeds the configured limit
	ErrFileTooLarge = errors.New("file too large")
	// ErrEmptyFile is returned for zero-byte uploads
	ErrEmptyFile = errors.New("file is empty")
)

// FileValidator checks upload names, sizes and paths
type FileValidator struct {
	logger    *slog.Logger
	maxSizeMB float64
}

// NewFileValidator creates a validator. maxSizeMB <= 0 disables the size limit.
func NewFileValidator(logger *slog.Logger, maxSizeMB float64) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger:    logger.With(slog.String("component", "file_validator")),
		maxSizeMB: maxSizeMB,
	}
}

// DetectFormat returns the upload format for a file name
func DetectFormat(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return "", ErrLegacyExcel
	default:
		return "", fmt.Errorf("%w: %q (expected .csv or .xlsx)", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// SizeMB converts a byte count to megabytes
func SizeMB(size int64) float64 {
	return float64(size) / 1024 / 1024
}

// ValidateUpload checks an upload's name and size and returns its format
func (v *FileValidator) ValidateUpload(name string, size int64) (string, error) {
	format, err := DetectFormat(name)
	if err != nil {
		v.logger.Warn("Upload rejected",
			slog.String("file", name),
			slog.String("error", err.Error()))
		return "", err
	}
	if size == 0 {
		v.logger.Warn("Upload rejected", slog.String("file", name), slog.String("error", ErrEmptyFile.Error()))
		return "", ErrEmptyFile
	}
	if v.maxSizeMB > 0 && SizeMB(size) > v.maxSizeMB {
		err := fmt.Errorf("%w: %.2f MB exceeds %.2f MB", ErrFileTooLarge, SizeMB(size), v.maxSizeMB)
		v.logger.Warn("Upload rejected", slog.String("file", name), slog.String("error", err.Error()))
		return "", err
	}
	return format, nil
}

// ValidateFile checks that path is a readable regular file with a supported
// extension and returns its format and size
func (v *FileValidator) ValidateFile(path string) (string, int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.logger.Error("File does not exist", slog.String("path", path))
		return "", 0, fmt.Errorf("file %s does not exist", path)
	}
	if err != nil {
		v.logger.Error("Failed to stat file",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return "", 0, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		return "", 0, fmt.Errorf("%s is a directory", path)
	}

	format, err := v.ValidateUpload(filepath.Base(path), info.Size())
	if err != nil {
		return "", 0, err
	}
	return format, info.Size(), nil
}
