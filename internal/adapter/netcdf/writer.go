package netcdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// Attrs are NetCDF attributes, written in key order.
type Attrs map[string]any

// Writer creates a classic CDF file. Data goes to a temporary file that
// replaces the target on Close, so readers never observe a partial file.
type Writer struct {
	path string
	tmp  string
	cw   *cdf.CDFWriter
}

// Create starts a new file at path, creating parent directories.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	cw, err := cdf.OpenWriter(tmp)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &Writer{path: path, tmp: tmp, cw: cw}, nil
}

// AddGlobalAttrs sets file-level attributes.
func (w *Writer) AddGlobalAttrs(attrs Attrs) error {
	m, err := orderedMap(attrs)
	if err != nil {
		return err
	}
	return w.cw.AddGlobalAttrs(m)
}

// AddFloat32 adds a float32 variable stored flat in row-major order.
func (w *Writer) AddFloat32(name string, dims []string, shape []int, data []float32, attrs Attrs) error {
	return addVar(w, name, dims, shape, data, attrs)
}

// AddInt16 adds an int16 variable stored flat in row-major order.
func (w *Writer) AddInt16(name string, dims []string, shape []int, data []int16, attrs Attrs) error {
	return addVar(w, name, dims, shape, data, attrs)
}

// AddInt32 adds an int32 variable stored flat in row-major order.
func (w *Writer) AddInt32(name string, dims []string, shape []int, data []int32, attrs Attrs) error {
	return addVar(w, name, dims, shape, data, attrs)
}

// Close finishes the file and moves it into place.
func (w *Writer) Close() error {
	if err := w.cw.Close(); err != nil {
		_ = os.Remove(w.tmp)
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		_ = os.Remove(w.tmp)
		return fmt.Errorf("move %s into place: %w", w.path, err)
	}
	return nil
}

// Abort discards the file. Safe to call after a failed Add.
func (w *Writer) Abort() {
	_ = w.cw.Close()
	_ = os.Remove(w.tmp)
}

func addVar[T any](w *Writer, name string, dims []string, shape []int, data []T, attrs Attrs) error {
	if len(dims) != len(shape) {
		return fmt.Errorf("variable %s: %d dimensions but shape %v", name, len(dims), shape)
	}
	values, err := nest(data, shape)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	m, err := orderedMap(attrs)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	if err := w.cw.AddVar(name, api.Variable{Values: values, Dimensions: dims, Attributes: m}); err != nil {
		return fmt.Errorf("add variable %s: %w", name, err)
	}
	return nil
}

// nest reshapes a flat buffer into the nested slices the CDF writer expects.
// Rows alias the flat buffer.
func nest[T any](data []T, shape []int) (any, error) {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}

	switch len(shape) {
	case 1:
		return data, nil
	case 2:
		return rows(data, shape[0], shape[1]), nil
	case 3:
		plane := shape[1] * shape[2]
		out := make([][][]T, shape[0])
		for i := range out {
			out[i] = rows(data[i*plane:(i+1)*plane], shape[1], shape[2])
		}
		return out, nil
	default:
		return nil, errors.New("only 1 to 3 dimensions are supported")
	}
}

func rows[T any](data []T, n, width int) [][]T {
	out := make([][]T, n)
	for i := range out {
		out[i] = data[i*width : (i+1)*width : (i+1)*width]
	}
	return out
}

func orderedMap(attrs Attrs) (*util.OrderedMap, error) {
	m, err := util.NewOrderedMap(sortedKeys(attrs), map[string]any(attrs))
	if err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	return m, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
