package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"discomap/internal/metrics"
)

// measurementColumns is the exact column order named in §3; the copy
// protocol frames one record per row in this order.
var measurementColumns = []string{
	"time", "sampling_point_id", "pollutant_code", "value", "unit",
	"aggregation_type", "validity", "verification", "data_capture",
	"result_time", "observation_id",
}

// Loader streams rows into the measurements hypertable using the native
// binary copy protocol (C3). It never creates the target table — schema
// ownership belongs to migrations per §3.
type Loader struct {
	Pool       *pgxpool.Pool
	BatchSize  int
	UpsertMode bool
}

// NewLoader builds a Loader with the given batch size and mode.
func NewLoader(pool *pgxpool.Pool, batchSize int, upsertMode bool) *Loader {
	if batchSize <= 0 {
		batchSize = 50000
	}
	return &Loader{Pool: pool, BatchSize: batchSize, UpsertMode: upsertMode}
}

// LoadRows writes rows to the database in batches of l.BatchSize, each
// batch inside its own transaction. It returns the number of rows written
// before the first error, if any.
func (l *Loader) LoadRows(ctx context.Context, rows []Row) (int, error) {
	written := 0
	for start := 0; start < len(rows); start += l.BatchSize {
		end := start + l.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		chunkStart := time.Now()
		var n int
		var err error
		if l.UpsertMode {
			n, err = l.loadChunkUpsert(ctx, chunk)
		} else {
			n, err = l.loadChunkCopy(ctx, chunk)
		}
		metrics.LoaderBatchDuration.Observe(time.Since(chunkStart).Seconds())
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// loadChunkCopy is the fast path: a single COPY straight into the target
// table inside one transaction. A duplicate primary key aborts the whole
// transaction; the loader does not filter duplicates.
func (l *Loader) loadChunkCopy(ctx context.Context, rows []Row) (int, error) {
	conn, err := l.Pool.Acquire(ctx)
	if err != nil {
		return 0, &LoadError{Err: err}
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, &LoadError{Err: err}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"measurements"}, measurementColumns, rowCopySourceOf(rows))
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, &LoadError{Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &LoadError{Err: err}
	}
	return int(n), nil
}

// loadChunkUpsert is the slower, conflict-tolerant path: COPY into a
// session-scoped unlogged staging table, then merge with
// INSERT ... ON CONFLICT DO UPDATE, then drop the staging table. Grounded
// on the staging-table-merge pattern this codebase already uses for bulk
// upserts; resolves spec.md's open question on upsert_mode semantics in
// favor of staging-table merge.
func (l *Loader) loadChunkUpsert(ctx context.Context, rows []Row) (int, error) {
	conn, err := l.Pool.Acquire(ctx)
	if err != nil {
		return 0, &LoadError{Err: err}
	}
	defer conn.Release()

	pgc := conn.Conn().PgConn()
	stageTable := fmt.Sprintf("measurements_stage_%d", pgc.PID())

	defer func() {
		_, _ = conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", stageTable))
	}()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, &LoadError{Err: err}
	}

	createSQL := fmt.Sprintf(`CREATE UNLOGGED TABLE IF NOT EXISTS %s (
		"time" timestamptz NOT NULL,
		sampling_point_id text NOT NULL,
		pollutant_code smallint NOT NULL,
		value double precision,
		unit text,
		aggregation_type text,
		validity smallint,
		verification smallint,
		data_capture real,
		result_time timestamptz,
		observation_id text
	)`, stageTable)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		_ = tx.Rollback(ctx)
		return 0, &LoadError{Err: err}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{stageTable}, measurementColumns, rowCopySourceOf(rows))
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, &LoadError{Err: err}
	}

	mergeSQL := fmt.Sprintf(`INSERT INTO measurements (%[2]s)
SELECT %[2]s FROM %[1]s
ON CONFLICT (time, sampling_point_id) DO UPDATE SET
	pollutant_code = EXCLUDED.pollutant_code,
	value = EXCLUDED.value,
	unit = EXCLUDED.unit,
	aggregation_type = EXCLUDED.aggregation_type,
	validity = EXCLUDED.validity,
	verification = EXCLUDED.verification,
	data_capture = EXCLUDED.data_capture,
	result_time = EXCLUDED.result_time,
	observation_id = EXCLUDED.observation_id`, stageTable, columnList())

	if _, err := tx.Exec(ctx, mergeSQL); err != nil {
		_ = tx.Rollback(ctx)
		return 0, &LoadError{Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &LoadError{Err: err}
	}
	return int(n), nil
}

func columnList() string {
	out := measurementColumns[0]
	for _, c := range measurementColumns[1:] {
		out += ", " + c
	}
	return out
}

// IsDuplicateKey reports whether err is a unique-violation from the
// database, the condition spec.md §8's round-trip laws exercise directly.
func IsDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// rowCopySource adapts a []Row into a pgx.CopyFromSource.
type rowCopySource struct {
	rows []Row
	pos  int
}

func newRowCopySource(rows []Row) *rowCopySource { return &rowCopySource{rows: rows, pos: -1} }

func rowCopySourceOf(rows []Row) pgx.CopyFromSource { return newRowCopySource(rows) }

func (s *rowCopySource) Next() bool {
	s.pos++
	return s.pos < len(s.rows)
}

func (s *rowCopySource) Values() ([]interface{}, error) {
	r := s.rows[s.pos]
	return []interface{}{
		r.Time, r.SamplingPointID, r.PollutantCode, r.Value, r.Unit,
		r.AggregationType, r.Validity, r.Verification, r.DataCapture,
		r.ResultTime, r.ObservationID,
	}, nil
}

func (s *rowCopySource) Err() error { return nil }
