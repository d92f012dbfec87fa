package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildColumnIndexAcceptsNameVariants(t *testing.T) {
	fileColumns := map[string]int{
		"Start":          0,
		"Samplingpoint":  1,
		"Pollutant":      2,
		"Value":          3,
	}

	idx, missing := buildColumnIndex(fileColumns)

	assert.Empty(t, missing)
	assert.Equal(t, 0, idx["time"])
	assert.Equal(t, 1, idx["sampling_point_id"])
	assert.Equal(t, 2, idx["pollutant_code"])
	assert.Equal(t, 3, idx["value"])
}

func TestBuildColumnIndexReportsMissingRequired(t *testing.T) {
	fileColumns := map[string]int{
		"DatetimeBegin": 0,
	}

	_, missing := buildColumnIndex(fileColumns)

	assert.ElementsMatch(t, []string{"sampling_point_id", "pollutant_code"}, missing)
}

func TestDecomposeSamplingPoint(t *testing.T) {
	cases := []struct {
		name        string
		id          string
		wantStation string
		wantCountry string
		wantOK      bool
	}{
		{"dash variant", "IT/SPO-1234_5678", "IT1234", "IT", true},
		{"dot variant", "DE/SPO.9988_1122", "DE9988", "DE", true},
		{"no slash", "SPO-1234_5678", "", "", false},
		{"no spo prefix", "IT/XYZ-1234_5678", "", "", false},
		{"no underscore after prefix", "IT/SPO-1234", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			station, country, ok := decomposeSamplingPoint(tc.id)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantStation, station)
				assert.Equal(t, tc.wantCountry, country)
			}
		})
	}
}

func TestParseFlexibleTimeNormalizesToUTC(t *testing.T) {
	t1, err := parseFlexibleTime("2023-01-01T02:00:00")
	assert.NoError(t, err)
	assert.Equal(t, "UTC", t1.Location().String())

	t2, err := parseFlexibleTime("2023-01-01 02:00:00")
	assert.NoError(t, err)
	assert.Equal(t, "UTC", t2.Location().String())

	_, err = parseFlexibleTime("not-a-time")
	assert.Error(t, err)
}
