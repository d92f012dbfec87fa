package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

const fetchChunkSize = 16 * 1024

// FetchResult describes one downloaded artifact.
type FetchResult struct {
	Path  string
	Bytes int64
}

// Fetcher downloads a remote file to a local scratch path (C1). It never
// retries, and the batch runner does not retry either: a failed fetch is
// counted as a failed file.
type Fetcher struct {
	Client     *http.Client
	ScratchDir string
	UserAgent  string
}

// NewFetcher builds a Fetcher around client, which must carry the
// per-request timeout (spec.md §4.1/§5; cfg.FetchTimeout via
// data.Conn.HTTPClient in production) and DisableCompression:true so Fetch
// can decode gzip itself with klauspost/compress, which several EEA
// download mirrors use regardless of Accept-Encoding. A nil client falls
// back to a bare DisableCompression client with no timeout, for tests that
// don't exercise timeout behavior.
func NewFetcher(client *http.Client, scratchDir, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{Transport: &http.Transport{DisableCompression: true}}
	}
	return &Fetcher{
		Client:     client,
		ScratchDir: scratchDir,
		UserAgent:  userAgent,
	}
}

// Fetch streams url's body to a file under f.ScratchDir, named after the
// URL's last path segment (appending ".parquet" if it has no extension).
// On any I/O error after the destination file was created, the partial
// artifact is removed before the error is returned.
func (f *Fetcher) Fetch(ctx context.Context, url string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, &FetchError{URL: url, Err: err}
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := f.Client.Do(req)
	if err != nil {
		return FetchResult{}, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FetchResult{}, &FetchError{URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body := resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return FetchResult{}, &FetchError{URL: url, Err: err}
		}
		defer gz.Close()
		body = gz
	}

	destDir := filepath.Join(f.ScratchDir, uuid.NewString())
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return FetchResult{}, &FetchError{URL: url, Err: err}
	}
	destPath := filepath.Join(destDir, deriveFilename(url))
	dest, err := os.Create(destPath)
	if err != nil {
		os.RemoveAll(destDir)
		return FetchResult{}, &FetchError{URL: url, Err: err}
	}

	n, copyErr := io.CopyBuffer(dest, body, make([]byte, fetchChunkSize))
	closeErr := dest.Close()

	if copyErr != nil || closeErr != nil {
		os.RemoveAll(destDir)
		if copyErr != nil {
			return FetchResult{}, &FetchError{URL: url, Err: copyErr}
		}
		return FetchResult{}, &FetchError{URL: url, Err: closeErr}
	}

	return FetchResult{Path: destPath, Bytes: n}, nil
}

// deriveFilename derives a scratch filename from rawURL's last path segment.
func deriveFilename(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	trimmed := strings.TrimRight(p, "/")
	segment := path.Base(trimmed)
	if segment == "" || segment == "." || segment == "/" {
		segment = "download"
	}
	if path.Ext(segment) == "" {
		segment += ".parquet"
	}
	return segment
}
