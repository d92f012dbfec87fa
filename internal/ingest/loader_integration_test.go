package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const measurementsSchema = `
CREATE TABLE measurements (
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
	observation_id text,
	PRIMARY KEY ("time", sampling_point_id)
)`

func newTestLoaderPool(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test requiring Docker")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("discomap_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := pgx.Connect(ctx, connStr)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, measurementsSchema)
	require.NoError(t, err)
	require.NoError(t, conn.Close(ctx))

	pool, err := pgxpool.Connect(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return pool, cleanup
}

func makeRows(n int, pollutant int16) []Row {
	rows := make([]Row, n)
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		v := float64(i)
		rows[i] = Row{
			Time:            base.Add(time.Duration(i) * time.Hour),
			SamplingPointID: "DE/SPO-1000_1",
			PollutantCode:   pollutant,
			Value:           &v,
		}
	}
	return rows
}

func countRows(t *testing.T, pool *pgxpool.Pool) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(), "SELECT count(*) FROM measurements").Scan(&n)
	require.NoError(t, err)
	return n
}

func TestLoaderFastPathWritesDistinctRows(t *testing.T) {
	pool, cleanup := newTestLoaderPool(t)
	defer cleanup()

	loader := NewLoader(pool, 1000, false)
	rows := makeRows(25, 1)

	written, err := loader.LoadRows(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, 25, written)
	require.Equal(t, 25, countRows(t, pool))
}

func TestLoaderUpsertModeIsIdempotentOnRewrite(t *testing.T) {
	pool, cleanup := newTestLoaderPool(t)
	defer cleanup()

	loader := NewLoader(pool, 1000, true)
	rows := makeRows(25, 1)

	_, err := loader.LoadRows(context.Background(), rows)
	require.NoError(t, err)

	written, err := loader.LoadRows(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, 25, written)
	require.Equal(t, 25, countRows(t, pool))
}

func TestLoaderFastPathRejectsDuplicateKeyOnRewrite(t *testing.T) {
	pool, cleanup := newTestLoaderPool(t)
	defer cleanup()

	loader := NewLoader(pool, 1000, false)
	rows := makeRows(25, 1)

	_, err := loader.LoadRows(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, 25, countRows(t, pool))

	_, err = loader.LoadRows(context.Background(), rows)
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	require.True(t, IsDuplicateKey(loadErr.Err))
	require.Equal(t, 25, countRows(t, pool))
}
