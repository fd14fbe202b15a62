package domain

import "fmt"

// Array is a floating point variable read from a dataset, flattened
// row-major in the order of Dims.
type Array struct {
	Name  string
	Dims  []string
	Shape []int
	Data  []float32
}

// SpaceMajor interprets a forecast variable as space-major. The time
// dimension must be the outermost one.
func (a Array) SpaceMajor(nTime, nLocations int) (SpaceMajor, error) {
	if len(a.Dims) == 0 || !matchesAny(a.Dims[0], timeDimNames) {
		return SpaceMajor{}, fmt.Errorf("%w: %s has dimensions %v, expected time first", ErrSchemaMismatch, a.Name, a.Dims)
	}
	return NewSpaceMajor(a.Data, nTime, nLocations)
}

// SpaceMajor holds one variable as read from the dataset: all locations of a
// time step are contiguous, index = t*NLocations + loc.
type SpaceMajor struct {
	Data       []float32
	NTime      int
	NLocations int
}

// TimeMajor holds one variable with each location's series contiguous,
// index = loc*NTime + t.
type TimeMajor struct {
	Data       []float32
	NTime      int
	NLocations int
}

// Series returns the time series of one location. The slice aliases Data.
func (tm TimeMajor) Series(loc int) []float32 {
	return tm.Data[loc*tm.NTime : (loc+1)*tm.NTime]
}

// NewSpaceMajor wraps a flat buffer read from a dataset and checks its size.
func NewSpaceMajor(data []float32, nTime, nLocations int) (SpaceMajor, error) {
	if len(data) != nTime*nLocations {
		return SpaceMajor{}, fmt.Errorf("%w: array has %d values, expected %d time steps x %d locations",
			ErrSchemaMismatch, len(data), nTime, nLocations)
	}
	return SpaceMajor{Data: data, NTime: nTime, NLocations: nLocations}, nil
}

// Reorient transposes a space-major array to time-major. The source buffer
// is released: sm.Data is nil on return.
func Reorient(sm *SpaceMajor) TimeMajor {
	out := make([]float32, len(sm.Data))
	for t := 0; t < sm.NTime; t++ {
		row := sm.Data[t*sm.NLocations : (t+1)*sm.NLocations]
		for loc, v := range row {
			out[loc*sm.NTime+t] = v
		}
	}
	tm := TimeMajor{Data: out, NTime: sm.NTime, NLocations: sm.NLocations}
	sm.Data = nil
	return tm
}

// ToSpaceMajor transposes a time-major array back into a new space-major one.
// The input is left untouched.
func ToSpaceMajor(tm TimeMajor) SpaceMajor {
	out := make([]float32, len(tm.Data))
	for loc := 0; loc < tm.NLocations; loc++ {
		series := tm.Series(loc)
		for t, v := range series {
			out[t*tm.NLocations+loc] = v
		}
	}
	return SpaceMajor{Data: out, NTime: tm.NTime, NLocations: tm.NLocations}
}

// ApplyLinear converts every value in place with value*scale + offset.
func ApplyLinear(tm *TimeMajor, lt LinearTransform) {
	for i, v := range tm.Data {
		tm.Data[i] = v*lt.Scale + lt.Offset
	}
}

// Deaccumulate turns totals since the run start into per-slot increments, in
// place. For each location, every slot after the first skip+1 slots is
// replaced by its difference from the preceding slot; the leading slots keep
// their value.
func Deaccumulate(tm *TimeMajor, skip int) {
	for loc := 0; loc < tm.NLocations; loc++ {
		series := tm.Series(loc)
		// Walk backwards so each difference still sees the previous total.
		for t := len(series) - 1; t > skip; t-- {
			series[t] -= series[t-1]
		}
	}
}
