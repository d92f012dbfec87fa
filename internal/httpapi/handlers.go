// Package httpapi is the thin request layer (C8): it accepts URL lists,
// assigns job ids, enqueues work on the batch manager, and exposes status
// and listing. No ingestion logic lives here.
package httpapi

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"discomap/internal/config"
	"discomap/internal/ingest"
	"discomap/internal/metrics"
)

// Server wires the job manager and registry behind the wire endpoints
// named in spec.md §6.
type Server struct {
	Manager  *ingest.Manager
	Registry *ingest.Registry
	Config   config.Config
	Log      *zap.SugaredLogger
}

// NewServer builds an httpapi.Server.
func NewServer(manager *ingest.Manager, registry *ingest.Registry, cfg config.Config, logger *zap.SugaredLogger) *Server {
	return &Server{Manager: manager, Registry: registry, Config: cfg, Log: logger}
}

// Routes builds the ServeMux for the ingest surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", s.withCommonHeaders(s.handleSubmit))
	mux.HandleFunc("POST /ingest/upload", s.withCommonHeaders(s.handleSubmitUpload))
	mux.HandleFunc("GET /ingest/{master_id}", s.withCommonHeaders(s.handleGet))
	mux.HandleFunc("DELETE /ingest/{master_id}", s.withCommonHeaders(s.handleCancel))
	mux.HandleFunc("GET /ingest", s.withCommonHeaders(s.handleList))
	mux.HandleFunc("GET /health", s.withCommonHeaders(s.handleHealth))
	return mux
}

func (s *Server) withCommonHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

type submitRequest struct {
	URLs        []string `json:"urls"`
	UpsertMode  *bool    `json:"upsert_mode,omitempty"`
	MaxWorkers  *int     `json:"max_workers,omitempty"`
}

type submitResponse struct {
	MasterID     string `json:"master_id"`
	Status       string `json:"status"`
	TotalURLs    int    `json:"total_urls"`
	TotalBatches int    `json:"total_batches"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, 10<<20)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	var req submitRequest
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, &ingest.ValidationError{Reason: "malformed request body"})
		return
	}

	s.submit(w, req.URLs)
}

func (s *Server) handleSubmitUpload(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, &ingest.ValidationError{Reason: "missing uploaded file"})
		return
	}
	defer file.Close()

	urls, err := parseURLList(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, &ingest.ValidationError{Reason: "could not read uploaded file"})
		return
	}

	s.submit(w, urls)
}

// parseURLList reads a newline-delimited UTF-8 text file of URLs, per §4.8:
// lines starting with "#" (after trimming) are comments; empty lines are
// skipped; no quoting or escaping is recognized.
func parseURLList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func (s *Server) submit(w http.ResponseWriter, urls []string) {
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, &ingest.ValidationError{Reason: "urls must not be empty"})
		return
	}
	if len(urls) > s.Config.MaxURLsPerRequest {
		writeError(w, http.StatusBadRequest, &ingest.ValidationError{Reason: "urls exceeds configured cap"})
		return
	}

	master := s.Manager.Submit(urls, s.Config.BatchSize)
	metrics.MasterJobsCreated.Inc()

	snapshot, _ := s.Registry.Snapshot(master.ID, false)
	writeJSON(w, http.StatusAccepted, submitResponse{
		MasterID:     snapshot.MasterID,
		Status:       string(snapshot.Status),
		TotalURLs:    snapshot.TotalURLs,
		TotalBatches: snapshot.TotalBatches,
	})
}

type batchView struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	URLCount    int      `json:"url_count"`
	Succeeded   int      `json:"succeeded"`
	Failed      int      `json:"failed"`
	RowsWritten int      `json:"rows_written"`
	Errors      []string `json:"errors,omitempty"`
}

type masterView struct {
	MasterID     string              `json:"master_id"`
	Status       string              `json:"status"`
	TotalURLs    int                 `json:"total_urls"`
	TotalBatches int                 `json:"total_batches"`
	Progress     ingest.Progress     `json:"progress"`
	Batches      []batchView         `json:"batches,omitempty"`
}

// toMasterView copies a lock-safe ingest.MasterView (built under r.mu by
// Registry.Snapshot/SnapshotList) into the wire DTO. It never touches a live
// *ingest.MasterJob, so it never races the manager's concurrent batch
// updates (UpdateBatch/MarkStarted).
func toMasterView(v ingest.MasterView) masterView {
	view := masterView{
		MasterID:     v.MasterID,
		Status:       string(v.Status),
		TotalURLs:    v.TotalURLs,
		TotalBatches: v.TotalBatches,
		Progress:     v.Progress,
	}
	for _, b := range v.Batches {
		view.Batches = append(view.Batches, batchView{
			ID:          b.ID,
			Status:      string(b.Status),
			URLCount:    b.URLCount,
			Succeeded:   b.Succeeded,
			Failed:      b.Failed,
			RowsWritten: b.RowsWritten,
			Errors:      b.Errors,
		})
	}
	return view
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	masterID := r.PathValue("master_id")
	includeBatches := r.URL.Query().Get("include_batches") == "true"
	snapshot, ok := s.Registry.Snapshot(masterID, includeBatches)
	if !ok {
		writeError(w, http.StatusNotFound, &ingest.NotFoundError{MasterID: masterID})
		return
	}

	writeJSON(w, http.StatusOK, toMasterView(snapshot))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	snapshots := s.Registry.SnapshotList(limit)
	views := make([]masterView, 0, len(snapshots))
	for _, snapshot := range snapshots {
		views = append(views, toMasterView(snapshot))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	masterID := r.PathValue("master_id")
	_, err := s.Registry.Cancel(masterID)
	if err != nil {
		switch err.(type) {
		case *ingest.NotFoundError:
			writeError(w, http.StatusNotFound, err)
		case *ingest.ConflictError:
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(true)
	_ = encoder.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
