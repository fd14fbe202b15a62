package pipeline

import (
	"log/slog"
	"time"

	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

// VariableTransformer turns a dataset variable into time-major series ready
// for the store.
type VariableTransformer struct {
	grid     domain.Grid
	exporter Exporter
	logger   *slog.Logger
}

// NewVariableTransformer creates a transformer for grid. Diagnostic export is
// off until an exporter is set with WithExporter.
func NewVariableTransformer(grid domain.Grid, logger *slog.Logger) *VariableTransformer {
	return &VariableTransformer{grid: grid, logger: logger}
}

// Transform reads v, reorients it to time-major, applies its linear
// transform and then deaccumulates it. Scaling always precedes
// deaccumulation. A failed diagnostic export is logged and the series is
// still returned.
func (t *VariableTransformer) Transform(ds domain.Dataset, v domain.VariableSpec, run time.Time, nTime int) (domain.TimeMajor, error) {
	tm, err := t.readTimeMajor(ds, v, nTime)
	if err != nil {
		return domain.TimeMajor{}, err
	}

	if v.Linear != nil {
		domain.ApplyLinear(&tm, *v.Linear)
	}
	if v.Accumulated {
		domain.Deaccumulate(&tm, v.Skip())
	}

	if t.exporter != nil {
		if err := t.exporter.Export(t.grid, v, run, domain.ToSpaceMajor(tm)); err != nil {
			t.logger.Warn("diagnostic export failed", "variable", v.Name, "error", err)
		} else {
			t.logger.Debug("diagnostic export written", "variable", v.Name)
		}
	}
	return tm, nil
}

// readTimeMajor reads the raw space-major array and reorients it. The raw
// buffer is unreachable once this returns.
func (t *VariableTransformer) readTimeMajor(ds domain.Dataset, v domain.VariableSpec, nTime int) (domain.TimeMajor, error) {
	arr, err := ds.ReadArray(v.RemoteName)
	if err != nil {
		return domain.TimeMajor{}, err
	}
	sm, err := arr.SpaceMajor(nTime, t.grid.LocationCount())
	if err != nil {
		return domain.TimeMajor{}, err
	}
	arr.Data = nil
	return domain.Reorient(&sm), nil
}
