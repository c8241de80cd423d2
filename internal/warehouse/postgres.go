package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"promoflow/pkg/contracts/domain"
)

// DriverPostgres selects the pgx-backed PostgreSQL warehouse
const DriverPostgres = "pgx"

// Postgres is a warehouse backed by a pgx connection pool
type Postgres struct {
	pool      *pgxpool.Pool
	batchSize int
	logger    *slog.Logger
}

// OpenPostgres connects a pool to dsn
func OpenPostgres(ctx context.Context, dsn string, batchSize int, logger *slog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse warehouse DSN: %w", err)
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 2
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{
		pool:      pool,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "warehouse"), slog.String("driver", DriverPostgres)),
	}, nil
}

// Ping checks the connection
func (w *Postgres) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}

// Close releases the pool
func (w *Postgres) Close() error {
	w.pool.Close()
	return nil
}

// Upload creates table and inserts the rows of ds with queued batches, all
// in one transaction. On any error nothing is left behind.
func (w *Postgres) Upload(ctx context.Context, table string, ds *domain.Dataset) (*domain.UploadResult, error) {
	if ds.RowCount() == 0 {
		return &domain.UploadResult{TableName: table, Message: "No data available to upload."}, nil
	}

	start := time.Now()
	cols := uniqueColumns(ds.Columns)
	types := inferTypes(ds)
	ident := pgx.Identifier{table}.Sanitize()

	defs := make([]string, len(cols))
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		defs[i] = quoted[i] + " " + postgresType(types[i])
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ident, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin upload to %s: %w", table, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	total := 0
	for lo := 0; lo < len(ds.Rows); lo += w.batchSize {
		hi := lo + w.batchSize
		if hi > len(ds.Rows) {
			hi = len(ds.Rows)
		}
		n, err := sendBatch(ctx, tx, insert, ds.Rows[lo:hi], types)
		total += n
		if err != nil {
			return nil, fmt.Errorf("failed to insert rows %d-%d into %s: %w", lo+1, hi, table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit upload to %s: %w", table, err)
	}

	now := time.Now()
	w.logger.Info("upload completed",
		slog.String("table", table),
		slog.Int("rows", total),
		slog.Duration("duration", now.Sub(start)))

	return &domain.UploadResult{
		Success:      true,
		TableName:    table,
		RowsUploaded: total,
		Message:      SuccessMessage(total, table),
		UploadTime:   &now,
	}, nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, insert string, rows []domain.Row, types []columnType) (int, error) {
	b := &pgx.Batch{}
	for _, r := range rows {
		args := make([]any, len(types))
		for i, t := range types {
			args[i] = cellArg(r[i], t)
		}
		b.Queue(insert, args...)
	}

	br := tx.SendBatch(ctx, b)
	count := 0
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return count, err
		}
		count += int(tag.RowsAffected())
	}
	return count, br.Close()
}

func postgresType(t columnType) string {
	switch t {
	case typeNumber:
		return "DOUBLE PRECISION"
	case typeBool:
		return "BOOLEAN"
	case typeTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}
