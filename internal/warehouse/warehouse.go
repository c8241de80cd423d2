// Package warehouse uploads confirmed promotion datasets to a SQL data
// warehouse. Each push creates a new table named after the market and the
// push time.
package warehouse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"promoflow/pkg/contracts/domain"
)

const (
	// DefaultTablePrefix prefixes every destination table
	DefaultTablePrefix = "original_data"
	// MarketColumn tags every uploaded row with the confirmed market
	MarketColumn = "selected_country"
	// DefaultBatchSize is the number of rows inserted per transaction
	DefaultBatchSize = 500

	unknownMarket = "unknown"
)

// Uploader writes a dataset to a destination table
type Uploader interface {
	Upload(ctx context.Context, table string, ds *domain.Dataset) (*domain.UploadResult, error)
}

// Warehouse is an Uploader holding a connection
type Warehouse interface {
	Uploader
	io.Closer
	Ping(ctx context.Context) error
}

// Config selects and tunes the warehouse connection
type Config struct {
	Driver    string
	DSN       string
	BatchSize int
}

// Open connects to the warehouse named by cfg.Driver ("sqlite3" or "pgx")
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Warehouse, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return OpenSQLite(cfg.DSN, cfg.BatchSize, logger)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN, cfg.BatchSize, logger)
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Driver)
	}
}

// TableName builds "<PREFIX>_<MARKET>_<YYYYMMDD_HHMMSS>", upper-cased
func TableName(prefix, market string, at time.Time) string {
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	if market == "" {
		market = unknownMarket
	}
	name := fmt.Sprintf("%s_%s_%s", prefix, market, at.Format("20060102_150405"))
	return strings.ToUpper(SanitizeIdentifier(name))
}

// ColumnName upper-cases a column and replaces spaces and dashes with "_"
func ColumnName(col string) string {
	return strings.ToUpper(SanitizeIdentifier(col))
}

// SanitizeIdentifier replaces every character outside [A-Za-z0-9_] with "_"
func SanitizeIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SuccessMessage is the message of a successful upload
func SuccessMessage(rows int, table string) string {
	return fmt.Sprintf("Successfully uploaded %d rows to table: %s", rows, table)
}

// columnType is the SQL type inferred for a dataset column
type columnType int

const (
	typeText columnType = iota
	typeNumber
	typeBool
	typeTime
)

// inferTypes picks a type per column from its non-null values; mixed
// columns fall back to text
func inferTypes(ds *domain.Dataset) []columnType {
	types := make([]columnType, ds.ColumnCount())
	for c := range ds.Columns {
		kind := domain.KindNull
		mixed := false
		for _, r := range ds.Rows {
			v := r[c]
			if v.IsNull() {
				continue
			}
			if kind == domain.KindNull {
				kind = v.Kind
			} else if kind != v.Kind {
				mixed = true
				break
			}
		}
		switch {
		case mixed:
			types[c] = typeText
		case kind == domain.KindNumber:
			types[c] = typeNumber
		case kind == domain.KindBool:
			types[c] = typeBool
		case kind == domain.KindTime:
			types[c] = typeTime
		default:
			types[c] = typeText
		}
	}
	return types
}

// cellArg converts a cell to a driver argument for a column of type t
func cellArg(v domain.Value, t columnType) any {
	if v.IsNull() {
		return nil
	}
	if t == typeText {
		return v.Text()
	}
	return v.Any()
}

func uniqueColumns(cols []string) []string {
	seen := make(map[string]int, len(cols))
	out := make([]string, len(cols))
	for i, c := range cols {
		name := ColumnName(c)
		if name == "" {
			name = fmt.Sprintf("COLUMN_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}
