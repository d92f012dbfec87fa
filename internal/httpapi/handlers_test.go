package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"discomap/internal/config"
	"discomap/internal/ingest"
)

func nopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, url string) (ingest.FetchResult, error) {
	return ingest.FetchResult{Path: "/tmp/x", Bytes: 1}, nil
}

type fakeParser struct{}

func (fakeParser) ParseFile(ctx context.Context, path string) (ingest.ParseResult, error) {
	return ingest.ParseResult{Rows: []ingest.Row{{SamplingPointID: "x"}}}, nil
}

type fakeLoader struct{}

func (fakeLoader) LoadRows(ctx context.Context, rows []ingest.Row) (int, error) {
	return len(rows), nil
}

func newTestServer() *Server {
	registry := ingest.NewRegistry(0)
	etl := &ingest.FileETL{Fetcher: fakeFetcher{}, Parser: fakeParser{}, Loader: fakeLoader{}}
	newRunner := func() *ingest.BatchRunner { return ingest.NewBatchRunner(etl, 2) }
	manager := ingest.NewManager(registry, newRunner, 2)
	cfg := config.Config{MaxURLsPerRequest: 100, BatchSize: 50}
	return NewServer(manager, registry, cfg, nopLogger())
}

func TestHandleSubmitEmptyURLsReturnsBadRequest(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"urls": []}`))
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSubmitAcceptsURLsAndReturns202(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"urls": ["http://a", "http://b"]}`))
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.MasterID)
	assert.Equal(t, 2, resp.TotalURLs)
	assert.Equal(t, 1, resp.TotalBatches)
}

func TestHandleGetUnknownMasterReturns404(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/ingest/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCancelOnTerminalJobReturnsBadRequest(t *testing.T) {
	srv := newTestServer()

	submitReq := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"urls": ["http://a"]}`))
	submitRec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(submitRec, submitReq)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(submitRec.Body.Bytes(), &resp))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Registry.IsMasterTerminal(resp.MasterID) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancelReq := httptest.NewRequest(http.MethodDelete, "/ingest/"+resp.MasterID, nil)
	cancelRec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(cancelRec, cancelReq)

	assert.Equal(t, http.StatusBadRequest, cancelRec.Code)
}

func TestHandleSubmitRejectsTooManyURLs(t *testing.T) {
	srv := newTestServer()
	srv.Config.MaxURLsPerRequest = 1

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"urls": ["http://a", "http://b"]}`))
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
