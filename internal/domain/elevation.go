package domain

import "fmt"

const (
	// SeaElevation marks cells that are not land in the elevation file.
	SeaElevation float32 = -999

	// landFractionThreshold is the minimum land fraction of a land cell.
	landFractionThreshold float32 = 0.5
)

// MaskElevation returns a copy of altitude where every cell with a land
// fraction below 0.5 is replaced by SeaElevation.
func MaskElevation(altitude, landFraction []float32) ([]float32, error) {
	if len(altitude) != len(landFraction) {
		return nil, fmt.Errorf("%w: altitude has %d cells, land fraction %d",
			ErrSchemaMismatch, len(altitude), len(landFraction))
	}
	out := make([]float32, len(altitude))
	for i, a := range altitude {
		if landFraction[i] < landFractionThreshold {
			out[i] = SeaElevation
			continue
		}
		out[i] = a
	}
	return out, nil
}
