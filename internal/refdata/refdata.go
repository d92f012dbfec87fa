// Package refdata upserts the best-effort stations/sampling-points
// projections C2 emits into the reference tables measurements rows point
// at. It is the "straightforward upsert loop" spec.md names as an
// external collaborator, not a spec.md component itself. FileETL calls
// Sink.Accept once per file, after that file's measurement rows are
// committed; errors here are logged and never fail the file.
package refdata

import (
	"context"
	"log"

	"github.com/jackc/pgx/v4/pgxpool"

	"discomap/internal/ingest"
)

// Sink upserts C2's reference-data projections on a best-effort basis; a
// failure here never affects measurement rows already committed.
type Sink struct {
	DB *pgxpool.Pool
}

// NewSink builds a refdata.Sink backed by pool.
func NewSink(pool *pgxpool.Pool) *Sink {
	return &Sink{DB: pool}
}

// Accept implements ingest.RefSink.
func (s *Sink) Accept(ctx context.Context, stations []ingest.StationProjection, samplingPoints []ingest.SamplingPointProjection) {
	if err := s.upsertStations(ctx, stations); err != nil {
		log.Printf("refdata: upsert stations: %v", err)
	}
	if err := s.upsertSamplingPoints(ctx, samplingPoints); err != nil {
		log.Printf("refdata: upsert sampling points: %v", err)
	}
}

func (s *Sink) upsertStations(ctx context.Context, stations []ingest.StationProjection) error {
	for _, st := range stations {
		_, err := s.DB.Exec(ctx, `
			INSERT INTO stations (station_code, country_code)
			VALUES ($1, $2)
			ON CONFLICT (station_code) DO NOTHING`,
			st.StationCode, st.CountryCode)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) upsertSamplingPoints(ctx context.Context, points []ingest.SamplingPointProjection) error {
	for _, sp := range points {
		_, err := s.DB.Exec(ctx, `
			INSERT INTO sampling_points (sampling_point_id, station_code, country_code, pollutant_code)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (sampling_point_id) DO NOTHING`,
			sp.SamplingPointID, sp.StationCode, sp.CountryCode, sp.PollutantCode)
		if err != nil {
			return err
		}
	}
	return nil
}
