package ingest

import "time"

// Row is one normalized observation matching the measurements hypertable's
// column order. Nullable fields use pointers so an absent source column is
// distinguishable from an explicit zero value.
type Row struct {
	Time             time.Time
	SamplingPointID  string
	PollutantCode    int16
	Value            *float64
	Unit             *string
	AggregationType  *string
	Validity         *int16
	Verification     *int16
	DataCapture      *float32
	ResultTime       *time.Time
	ObservationID    *string
}

// columnVariants maps each canonical column to the source column names C2
// must recognize, per the name-variant table.
var columnVariants = map[string][]string{
	"time":              {"DatetimeBegin", "Start"},
	"sampling_point_id":  {"SamplingPoint", "Samplingpoint"},
	"pollutant_code":     {"AirPollutantCode", "Pollutant"},
	"value":              {"Concentration", "Value"},
	"unit":               {"UnitOfMeasurement", "Unit"},
	"aggregation_type":   {"AggregationType", "AggType"},
	"observation_id":     {"ObservationId", "FkObservationLog"},
	"validity":           {"Validity"},
	"verification":       {"Verification"},
	"data_capture":       {"DataCapture"},
	"result_time":        {"ResultTime"},
}

// requiredCanonical is the set of columns a row may not be missing (§3).
// Concentration/value is deliberately absent: spec.md marks it nullable even
// though the upstream importer this system replaces treated it as required.
var requiredCanonical = []string{"time", "sampling_point_id", "pollutant_code"}

// resolveColumn returns the first matching source column name present in
// fileColumns for the given canonical name, or "" if none match.
func resolveColumn(canonical string, fileColumns map[string]int) string {
	for _, candidate := range columnVariants[canonical] {
		if _, ok := fileColumns[candidate]; ok {
			return candidate
		}
	}
	return ""
}

// columnIndex is a resolved mapping from canonical column name to the
// physical column index in one opened file, built once per file by C2.
type columnIndex map[string]int

func buildColumnIndex(fileColumns map[string]int) (columnIndex, []string) {
	idx := make(columnIndex, len(columnVariants))
	var missingRequired []string
	for canonical := range columnVariants {
		name := resolveColumn(canonical, fileColumns)
		if name == "" {
			continue
		}
		idx[canonical] = fileColumns[name]
	}
	for _, req := range requiredCanonical {
		if _, ok := idx[req]; !ok {
			missingRequired = append(missingRequired, req)
		}
	}
	return idx, missingRequired
}
