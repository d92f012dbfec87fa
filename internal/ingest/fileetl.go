package ingest

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"discomap/internal/metrics"
)

// FileResult is the counters struct C4 returns for one URL.
type FileResult struct {
	URL            string
	RowsWritten    int
	BytesFetched   int64
	SkippedRows    int
	ElapsedDownload time.Duration
	ElapsedParse   time.Duration
	ElapsedLoad    time.Duration
	Error          error
}

// fileFetcher, fileParser, and fileLoader are the narrow interfaces FileETL
// depends on; *Fetcher, *Parser, and *Loader satisfy them in production,
// and tests substitute fakes without touching the network or a database.
type fileFetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

type fileParser interface {
	ParseFile(ctx context.Context, path string) (ParseResult, error)
}

type fileLoader interface {
	LoadRows(ctx context.Context, rows []Row) (int, error)
}

// FileETL drives C1→C2→C3 for one URL (C4). It guarantees the scratch
// artifact is removed on every exit path.
type FileETL struct {
	Fetcher fileFetcher
	Parser  fileParser
	Loader  fileLoader
	RefSink RefSink
}

// RefSink receives C2's best-effort reference-data projections. The
// mainline path may use a no-op sink; it never blocks loading on these.
type RefSink interface {
	Accept(ctx context.Context, stations []StationProjection, samplingPoints []SamplingPointProjection)
}

// NewFileETL wires a fetcher, parser, and loader into one file-scope unit.
func NewFileETL(f *Fetcher, p *Parser, l *Loader, sink RefSink) *FileETL {
	return &FileETL{Fetcher: f, Parser: p, Loader: l, RefSink: sink}
}

// Run executes one URL end to end, returning per-file counters. It never
// returns a nil FileResult; callers check Result.Error, not a second error
// value, so C5 can aggregate independently of per-file failure.
func (e *FileETL) Run(ctx context.Context, url string) FileResult {
	result := FileResult{URL: url}

	downloadStart := time.Now()
	fetched, err := e.Fetcher.Fetch(ctx, url)
	result.ElapsedDownload = time.Since(downloadStart)
	if err != nil {
		result.Error = err
		metrics.FilesProcessed.WithLabelValues("failed").Inc()
		return result
	}
	result.BytesFetched = fetched.Bytes

	scratchDir := filepath.Dir(fetched.Path)
	defer os.RemoveAll(scratchDir)

	parseStart := time.Now()
	parsed, err := e.Parser.ParseFile(ctx, fetched.Path)
	result.ElapsedParse = time.Since(parseStart)
	if err != nil {
		result.Error = err
		metrics.FilesProcessed.WithLabelValues("failed").Inc()
		return result
	}
	result.SkippedRows = parsed.Skipped
	metrics.RowsSkipped.Add(float64(parsed.Skipped))

	loadStart := time.Now()
	written, err := e.Loader.LoadRows(ctx, parsed.Rows)
	result.ElapsedLoad = time.Since(loadStart)
	result.RowsWritten = written
	metrics.RowsWritten.Add(float64(written))
	if err != nil {
		result.Error = err
		metrics.FilesProcessed.WithLabelValues("failed").Inc()
		return result
	}

	if e.RefSink != nil {
		e.RefSink.Accept(ctx, parsed.Stations, parsed.SamplingPoints)
	}

	metrics.FilesProcessed.WithLabelValues("succeeded").Inc()
	return result
}
