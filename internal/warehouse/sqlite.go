package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"promoflow/pkg/contracts/domain"
)

// DriverSQLite is the database/sql driver name for SQLite
const DriverSQLite = "sqlite3"

// SQLite is a warehouse backed by a SQLite database
type SQLite struct {
	db        *sql.DB
	batchSize int
	logger    *slog.Logger

	// afterBatch is called with the running row count after each batch
	afterBatch func(inserted int)
}

// OpenSQLite opens the database at dsn (":memory:" for a private in-memory one)
func OpenSQLite(dsn string, batchSize int, logger *slog.Logger) (*SQLite, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse database: %w", err)
	}
	// one connection so an in-memory database is shared by every call
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping warehouse database: %w", err)
	}
	return NewSQLite(db, batchSize, logger), nil
}

// NewSQLite wraps an open database
func NewSQLite(db *sql.DB, batchSize int, logger *slog.Logger) *SQLite {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLite{
		db:        db,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "warehouse"), slog.String("driver", DriverSQLite)),
	}
}

// Ping checks the connection
func (w *SQLite) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes the database
func (w *SQLite) Close() error {
	return w.db.Close()
}

// DB exposes the underlying handle
func (w *SQLite) DB() *sql.DB {
	return w.db
}

// Upload creates table and inserts every row of ds in one transaction. On
// any error nothing is left behind, so a retry can start clean.
func (w *SQLite) Upload(ctx context.Context, table string, ds *domain.Dataset) (*domain.UploadResult, error) {
	if ds.RowCount() == 0 {
		return &domain.UploadResult{TableName: table, Message: "No data available to upload."}, nil
	}

	start := time.Now()
	cols := uniqueColumns(ds.Columns)
	types := inferTypes(ds)

	defs := make([]string, len(cols))
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteSQLite(c)
		defs[i] = quoted[i] + " " + sqliteType(types[i])
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteSQLite(table), strings.Join(defs, ", "))
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteSQLite(table), strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin upload to %s: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	inserted := 0
	for lo := 0; lo < len(ds.Rows); lo += w.batchSize {
		hi := lo + w.batchSize
		if hi > len(ds.Rows) {
			hi = len(ds.Rows)
		}
		if err := insertBatch(ctx, stmt, ds.Rows[lo:hi], types); err != nil {
			return nil, fmt.Errorf("failed to insert rows %d-%d into %s: %w", lo+1, hi, table, err)
		}
		inserted = hi
		w.logger.Debug("batch inserted", slog.String("table", table), slog.Int("rows", inserted))
		if w.afterBatch != nil {
			w.afterBatch(inserted)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit upload to %s: %w", table, err)
	}

	now := time.Now()
	w.logger.Info("upload completed",
		slog.String("table", table),
		slog.Int("rows", inserted),
		slog.Duration("duration", now.Sub(start)))

	return &domain.UploadResult{
		Success:      true,
		TableName:    table,
		RowsUploaded: inserted,
		Message:      SuccessMessage(inserted, table),
		UploadTime:   &now,
	}, nil
}

func insertBatch(ctx context.Context, stmt *sql.Stmt, rows []domain.Row, types []columnType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args := make([]any, len(types))
	for _, r := range rows {
		for i, t := range types {
			args[i] = sqliteArg(r[i], t)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func sqliteArg(v domain.Value, t columnType) any {
	if t == typeTime && !v.IsNull() {
		return v.Time.Format(time.RFC3339)
	}
	return cellArg(v, t)
}

func sqliteType(t columnType) string {
	switch t {
	case typeNumber:
		return "REAL"
	case typeBool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func quoteSQLite(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
