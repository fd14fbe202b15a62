package domain

import (
	"fmt"
	"strings"
)

var (
	xDimNames    = []string{"x", "lon", "longitude"}
	yDimNames    = []string{"y", "lat", "latitude"}
	timeDimNames = []string{"time", "t"}
)

// ValidateSchema checks a dataset's dimensions against the grid and returns
// the length of the time dimension.
func ValidateSchema(dims []Dimension, grid Grid) (int, error) {
	if len(dims) != 3 {
		return 0, fmt.Errorf("%w: expected 3 dimensions (x, y, time), got %d", ErrSchemaMismatch, len(dims))
	}

	nx, ny, nTime := -1, -1, -1
	for _, d := range dims {
		switch {
		case matchesAny(d.Name, xDimNames):
			nx = d.Len
		case matchesAny(d.Name, yDimNames):
			ny = d.Len
		case matchesAny(d.Name, timeDimNames):
			nTime = d.Len
		default:
			return 0, fmt.Errorf("%w: unexpected dimension %q", ErrSchemaMismatch, d.Name)
		}
	}
	if nx < 0 || ny < 0 || nTime < 0 {
		return 0, fmt.Errorf("%w: dimensions %v do not cover x, y and time", ErrSchemaMismatch, dims)
	}

	if nx != grid.Nx || ny != grid.Ny {
		return 0, fmt.Errorf("%w: grid is %dx%d, dataset is %dx%d", ErrSchemaMismatch, grid.Nx, grid.Ny, nx, ny)
	}
	if nTime < grid.TimeStepsMin || nTime > grid.TimeStepsMax {
		return 0, fmt.Errorf("%w: %d time steps outside accepted range [%d, %d]",
			ErrSchemaMismatch, nTime, grid.TimeStepsMin, grid.TimeStepsMax)
	}
	return nTime, nil
}

func matchesAny(name string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(name, c) {
			return true
		}
	}
	return false
}
