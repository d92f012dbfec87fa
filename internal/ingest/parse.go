package ingest

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// StationProjection is one distinct (station_code, country_code) pair
// observed while parsing a file. Best-effort byproduct of C2; never
// causes a measurement row to be dropped.
type StationProjection struct {
	StationCode string
	CountryCode string
}

// SamplingPointProjection is one distinct sampling-point byproduct of C2.
type SamplingPointProjection struct {
	SamplingPointID string
	StationCode     string
	CountryCode     string
	PollutantCode   int16
}

// ParseResult is the output of parsing one file: the accepted rows plus
// the best-effort reference-data side channels and the skip count. Rows is
// fully materialized in memory; it is not a lazy or streamed sequence.
type ParseResult struct {
	Rows          []Row
	Stations      []StationProjection
	SamplingPoints []SamplingPointProjection
	Skipped       int
}

// Parser reads a downloaded columnar file and projects it onto Row (C2).
type Parser struct {
	Allocator memory.Allocator
}

// NewParser builds a Parser using the default Arrow allocator.
func NewParser() *Parser {
	return &Parser{Allocator: memory.DefaultAllocator}
}

// ParseFile opens path and produces the full row set plus projections. The
// source format is Apache Parquet, matching the EEA download API's native
// format.
func (p *Parser) ParseFile(ctx context.Context, path string) (ParseResult, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return ParseResult{}, &ParseError{Path: path, Err: err}
	}
	defer rdr.Close()

	arrowRdr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, p.Allocator)
	if err != nil {
		return ParseResult{}, &ParseError{Path: path, Err: err}
	}

	table, err := arrowRdr.ReadTable(ctx)
	if err != nil {
		return ParseResult{}, &ParseError{Path: path, Err: err}
	}
	defer table.Release()

	fileColumns := make(map[string]int, int(table.NumCols()))
	for i := 0; i < int(table.NumCols()); i++ {
		fileColumns[table.Schema().Field(i).Name] = i
	}

	idx, missing := buildColumnIndex(fileColumns)
	if len(missing) > 0 {
		return ParseResult{}, &ParseError{Path: path, Err: fmt.Errorf("missing required columns: %v", missing)}
	}

	columns := make(map[string]*array.Chunked, len(idx))
	for canonical, colIdx := range idx {
		columns[canonical] = table.Column(colIdx).Data()
	}

	result := ParseResult{}
	stationSeen := make(map[StationProjection]struct{})
	spSeen := make(map[string]struct{})

	numRows := int(table.NumRows())
	for row := 0; row < numRows; row++ {
		rawTime, timeOK := chunkedString(columns["time"], row)
		rawSP, spOK := chunkedString(columns["sampling_point_id"], row)
		rawPollutant, pollutantOK := chunkedInt(columns["pollutant_code"], row)

		if !timeOK || !spOK || !pollutantOK {
			result.Skipped++
			continue
		}

		ts, err := parseFlexibleTime(rawTime)
		if err != nil {
			result.Skipped++
			continue
		}

		out := Row{
			Time:            ts.UTC(),
			SamplingPointID: rawSP,
			PollutantCode:   int16(rawPollutant),
		}

		if v, ok := chunkedFloat(columns["value"], row); ok {
			out.Value = &v
		}
		if s, ok := chunkedString(columns["unit"], row); ok {
			out.Unit = &s
		}
		if s, ok := chunkedString(columns["aggregation_type"], row); ok {
			out.AggregationType = &s
		}
		if n, ok := chunkedInt(columns["validity"], row); ok {
			v := int16(n)
			out.Validity = &v
		}
		if n, ok := chunkedInt(columns["verification"], row); ok {
			v := int16(n)
			out.Verification = &v
		}
		if f, ok := chunkedFloat(columns["data_capture"], row); ok {
			v := float32(f)
			out.DataCapture = &v
		}
		if s, ok := chunkedString(columns["result_time"], row); ok {
			if rt, err := parseFlexibleTime(s); err == nil {
				rtUTC := rt.UTC()
				out.ResultTime = &rtUTC
			}
		}
		if s, ok := chunkedString(columns["observation_id"], row); ok && s != "" {
			out.ObservationID = &s
		} else {
			synth := fmt.Sprintf("OBS_%s_%s", rawSP, ts.UTC().Format("2006010215"))
			out.ObservationID = &synth
		}

		result.Rows = append(result.Rows, out)

		if station, country, ok := decomposeSamplingPoint(rawSP); ok {
			sp := StationProjection{StationCode: station, CountryCode: country}
			if _, seen := stationSeen[sp]; !seen {
				stationSeen[sp] = struct{}{}
				result.Stations = append(result.Stations, sp)
			}
			if _, seen := spSeen[rawSP]; !seen {
				spSeen[rawSP] = struct{}{}
				result.SamplingPoints = append(result.SamplingPoints, SamplingPointProjection{
					SamplingPointID: rawSP,
					StationCode:     station,
					CountryCode:     country,
					PollutantCode:   int16(rawPollutant),
				})
			}
		}
	}

	log.Printf("parsed %s: %d rows, %d skipped", path, len(result.Rows), result.Skipped)
	return result, nil
}

// decomposeSamplingPoint applies the best-effort station/country extraction
// rule from §4.2. Malformed identifiers only suppress the projection.
func decomposeSamplingPoint(samplingPointID string) (station, country string, ok bool) {
	slash := strings.Index(samplingPointID, "/")
	if slash < 0 {
		return "", "", false
	}
	country = samplingPointID[:slash]
	remainder := samplingPointID[slash+1:]

	var prefix string
	switch {
	case strings.HasPrefix(remainder, "SPO-"):
		prefix = "SPO-"
	case strings.HasPrefix(remainder, "SPO."):
		prefix = "SPO."
	default:
		return "", "", false
	}

	rest := remainder[len(prefix):]
	underscore := strings.Index(rest, "_")
	if underscore < 0 {
		return "", "", false
	}
	station = country + rest[:underscore]
	return station, country, true
}

// parseFlexibleTime accepts RFC3339 and the naive "YYYY-MM-DD HH:MM:SS"
// shape seen in EEA exports; naive timestamps are assumed UTC.
func parseFlexibleTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// The chunked* helpers read one row out of a column's chunked Arrow array,
// tolerating the handful of physical types EEA Parquet files use for a
// given logical column (string/dictionary for text, int32/int64 for
// integers, float32/float64 for floats) and treating a null row as "no
// value" rather than an error.
func chunkedString(col *array.Chunked, row int) (string, bool) {
	arr, idx, ok := locate(col, row)
	if !ok {
		return "", false
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(idx), true
	case *array.LargeString:
		return a.Value(idx), true
	case *array.Dictionary:
		return fmt.Sprintf("%v", a.GetValue(idx)), true
	case *array.Timestamp:
		return a.Value(idx).ToTime(arrow.Nanosecond).Format(time.RFC3339), true
	default:
		return "", false
	}
}

func chunkedInt(col *array.Chunked, row int) (int64, bool) {
	arr, idx, ok := locate(col, row)
	if !ok {
		return 0, false
	}
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(idx), true
	case *array.Int32:
		return int64(a.Value(idx)), true
	case *array.Int16:
		return int64(a.Value(idx)), true
	case *array.String:
		n, err := strconv.ParseInt(a.Value(idx), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func chunkedFloat(col *array.Chunked, row int) (float64, bool) {
	arr, idx, ok := locate(col, row)
	if !ok {
		return 0, false
	}
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(idx), true
	case *array.Float32:
		return float64(a.Value(idx)), true
	case *array.Int64:
		return float64(a.Value(idx)), true
	default:
		return 0, false
	}
}

// locate resolves row into (chunk, index-within-chunk) and reports whether
// the value is present (non-null) at that position.
func locate(col *array.Chunked, row int) (arrow.Array, int, bool) {
	if col == nil {
		return nil, 0, false
	}
	offset := row
	for _, chunk := range col.Chunks() {
		if offset < chunk.Len() {
			if chunk.IsNull(offset) {
				return nil, 0, false
			}
			return chunk, offset, true
		}
		offset -= chunk.Len()
	}
	return nil, 0, false
}
