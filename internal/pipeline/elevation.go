package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

// elevationChunk is the chunk shape of the static elevation grid.
var elevationChunk = []int{20, 20}

// ElevationPath is where a grid's elevation mask is stored.
func ElevationPath(grid domain.Grid) string {
	return filepath.Join(grid.StorePath, "static", "hsurf.nc")
}

// EnsureElevationMask derives the land/sea elevation mask from the dataset's
// altitude and land fraction arrays and writes it, unless it already exists.
// It reports whether a mask was written.
func EnsureElevationMask(ds domain.Dataset, grid domain.Grid, store Store) (bool, error) {
	path := ElevationPath(grid)
	if store.StaticExists(path) {
		return false, nil
	}

	altitude, err := readStatic(ds, grid, grid.AltitudeName)
	if err != nil {
		return false, err
	}
	landFraction, err := readStatic(ds, grid, grid.LandFractionName)
	if err != nil {
		return false, err
	}
	masked, err := domain.MaskElevation(altitude, landFraction)
	if err != nil {
		return false, err
	}

	if err := store.WriteStatic(path, []int{grid.Ny, grid.Nx}, elevationChunk, 1, masked); err != nil {
		return false, fmt.Errorf("write elevation mask: %w", err)
	}
	return true, nil
}

func readStatic(ds domain.Dataset, grid domain.Grid, name string) ([]float32, error) {
	arr, err := ds.ReadArray(name)
	if err != nil {
		return nil, err
	}
	if len(arr.Data) != grid.LocationCount() {
		return nil, fmt.Errorf("%w: %s has %d values, grid has %d locations",
			domain.ErrSchemaMismatch, name, len(arr.Data), grid.LocationCount())
	}
	return arr.Data, nil
}
