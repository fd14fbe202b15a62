// Package netcdf reads model datasets and writes NetCDF files using the pure
// Go go-native-netcdf implementation.
package netcdf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"slices"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

// Dataset is an open NetCDF file.
type Dataset struct {
	path string
	nc   api.Group
}

// Open opens a NetCDF (CDF or HDF5 based) file. A missing file yields an
// error matching domain.ErrNotYetAvailable.
func Open(path string) (*Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", domain.ErrNotYetAvailable, err)
		}
		return nil, fmt.Errorf("stat dataset: %w", err)
	}
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	return &Dataset{path: path, nc: nc}, nil
}

// Path returns the file the dataset was opened from.
func (d *Dataset) Path() string {
	return d.path
}

// Close releases the underlying file.
func (d *Dataset) Close() error {
	d.nc.Close()
	return nil
}

// Dimensions lists the dimensions used by the dataset's variables in order of
// first appearance. The reader API has no dimension table, so lengths come
// from coordinate variables, or from the shape of a variable using the
// dimension when there is none.
func (d *Dataset) Dimensions() ([]domain.Dimension, error) {
	var names []string
	// users maps a dimension to the lowest-rank variable that uses it.
	users := make(map[string]string)
	rank := make(map[string]int)
	for _, v := range d.nc.ListVariables() {
		vg, err := d.nc.GetVarGetter(v)
		if err != nil {
			return nil, fmt.Errorf("inspect variable %s: %w", v, err)
		}
		vdims := vg.Dimensions()
		for _, dim := range vdims {
			if !slices.Contains(names, dim) {
				names = append(names, dim)
			}
			if r, ok := rank[dim]; !ok || len(vdims) < r {
				users[dim] = v
				rank[dim] = len(vdims)
			}
		}
	}

	dims := make([]domain.Dimension, 0, len(names))
	for _, name := range names {
		n, err := d.dimensionLen(name, users[name])
		if err != nil {
			return nil, err
		}
		dims = append(dims, domain.Dimension{Name: name, Len: n})
	}
	return dims, nil
}

func (d *Dataset) dimensionLen(name, user string) (int, error) {
	if vg, err := d.nc.GetVarGetter(name); err == nil && len(vg.Dimensions()) == 1 {
		return int(vg.Len()), nil
	}

	vr, err := d.nc.GetVariable(user)
	if err != nil {
		return 0, fmt.Errorf("read variable %s for dimension %s: %w", user, name, err)
	}
	shape := shapeOf(vr.Values)
	idx := slices.Index(vr.Dimensions, name)
	if idx < 0 || idx >= len(shape) {
		return 0, fmt.Errorf("%w: cannot determine length of dimension %s", domain.ErrSchemaMismatch, name)
	}
	return shape[idx], nil
}

// ReadArray reads a floating point variable as a flat row-major buffer.
func (d *Dataset) ReadArray(name string) (domain.Array, error) {
	if !slices.Contains(d.nc.ListVariables(), name) {
		return domain.Array{}, fmt.Errorf("%w: %s in %s", domain.ErrMissingArray, name, d.path)
	}
	vr, err := d.nc.GetVariable(name)
	if err != nil {
		return domain.Array{}, fmt.Errorf("read variable %s: %w", name, err)
	}
	data, shape, ok := flattenFloat(vr.Values)
	if !ok {
		return domain.Array{}, fmt.Errorf("%w: %s is %T, expected floating point", domain.ErrTypeMismatch, name, vr.Values)
	}
	return domain.Array{Name: name, Dims: vr.Dimensions, Shape: shape, Data: data}, nil
}

// ReadInt16 reads an int16 variable as a flat row-major buffer.
func (d *Dataset) ReadInt16(name string) ([]int16, []int, error) {
	if !slices.Contains(d.nc.ListVariables(), name) {
		return nil, nil, fmt.Errorf("%w: %s in %s", domain.ErrMissingArray, name, d.path)
	}
	vr, err := d.nc.GetVariable(name)
	if err != nil {
		return nil, nil, fmt.Errorf("read variable %s: %w", name, err)
	}
	switch v := vr.Values.(type) {
	case []int16:
		return v, []int{len(v)}, nil
	case [][]int16:
		return flatten2(v), shapeOf(v), nil
	default:
		return nil, nil, fmt.Errorf("%w: %s is %T, expected int16", domain.ErrTypeMismatch, name, vr.Values)
	}
}

func flattenFloat(values any) ([]float32, []int, bool) {
	switch v := values.(type) {
	case []float32:
		return v, []int{len(v)}, true
	case [][]float32:
		return flatten2(v), shapeOf(v), true
	case [][][]float32:
		return flatten3(v), shapeOf(v), true
	case []float64:
		return toFloat32(v), []int{len(v)}, true
	case [][]float64:
		return toFloat32(flatten2(v)), shapeOf(v), true
	case [][][]float64:
		return toFloat32(flatten3(v)), shapeOf(v), true
	default:
		return nil, nil, false
	}
}

func flatten2[T any](v [][]T) []T {
	if len(v) == 0 {
		return nil
	}
	out := make([]T, 0, len(v)*len(v[0]))
	for _, row := range v {
		out = append(out, row...)
	}
	return out
}

func flatten3[T any](v [][][]T) []T {
	if len(v) == 0 || len(v[0]) == 0 {
		return nil
	}
	out := make([]T, 0, len(v)*len(v[0])*len(v[0][0]))
	for _, plane := range v {
		for _, row := range plane {
			out = append(out, row...)
		}
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// shapeOf walks nested slices along their first elements.
func shapeOf(values any) []int {
	var shape []int
	v := reflect.ValueOf(values)
	for v.Kind() == reflect.Slice {
		shape = append(shape, v.Len())
		if v.Len() == 0 {
			break
		}
		v = v.Index(0)
	}
	return shape
}
