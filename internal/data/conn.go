// Package data provides database connection and data access functionality.
package data

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"discomap/internal/config"
)

// Conn encapsulates the database pool and HTTP client shared across the
// ingestion pipeline.
type Conn struct {
	DB         *pgxpool.Pool
	HTTPClient *http.Client
}

type dbConnResult struct {
	conn *pgxpool.Pool
	err  error
}

// InitConn establishes the database connection pool, retrying for up to
// 90 seconds to tolerate a database that is still starting up (restarts,
// maintenance windows, container rescheduling).
func InitConn(cfg config.Config) (*Conn, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	result := make(chan dbConnResult, 1)
	go func() {
		defer close(result)
		var lastErr error
		for {
			select {
			case <-ctx.Done():
				result <- dbConnResult{conn: nil, err: lastErr}
				return
			default:
				poolConfig, parseErr := pgxpool.ParseConfig(cfg.DSN())
				if parseErr != nil {
					lastErr = parseErr
					time.Sleep(time.Second)
					continue
				}

				poolConfig.MaxConns = int32(cfg.DBPoolSize)
				poolConfig.MinConns = int32(cfg.DBPoolSize / 3)
				poolConfig.MaxConnLifetime = 60 * time.Minute
				poolConfig.MaxConnIdleTime = 5 * time.Minute
				poolConfig.HealthCheckPeriod = 30 * time.Second
				poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

				pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
				if err != nil {
					lastErr = err
					time.Sleep(time.Second)
					continue
				}
				result <- dbConnResult{conn: pool, err: nil}
				return
			}
		}
	}()

	res := <-result
	if res.err != nil || res.conn == nil {
		panic(fmt.Sprintf("failed to connect to database after 90s: %v", res.err))
	}

	httpClient := &http.Client{
		Timeout: cfg.FetchTimeout,
		Transport: &http.Transport{
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   50,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
			ExpectContinueTimeout: 10 * time.Second,
			MaxConnsPerHost:       100,
			DisableCompression:    true,
		},
	}

	conn := &Conn{DB: res.conn, HTTPClient: httpClient}

	cleanup := func() {
		if conn.DB != nil {
			conn.DB.Close()
		}
	}
	return conn, cleanup
}
