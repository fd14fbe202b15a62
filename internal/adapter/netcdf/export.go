package netcdf

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

// Exporter writes diagnostic files named after the variable into a directory.
type Exporter struct {
	dir string
}

// NewExporter creates an Exporter writing into dir.
func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

// Export writes dir/<variable>.nc, replacing the file of an earlier run.
func (e *Exporter) Export(grid domain.Grid, v domain.VariableSpec, run time.Time, sm domain.SpaceMajor) error {
	return ExportVariable(filepath.Join(e.dir, v.Name+".nc"), grid, v, run, sm)
}

// ExportVariable writes one transformed variable as a self-contained
// (time, y, x) NetCDF file for manual verification.
func ExportVariable(path string, grid domain.Grid, v domain.VariableSpec, run time.Time, sm domain.SpaceMajor) error {
	if sm.NLocations != grid.LocationCount() {
		return fmt.Errorf("%w: export of %s has %d locations, grid has %d",
			domain.ErrSchemaMismatch, v.Name, sm.NLocations, grid.LocationCount())
	}

	w, err := Create(path)
	if err != nil {
		return err
	}
	if err := writeExport(w, grid, v, run, sm); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

func writeExport(w *Writer, grid domain.Grid, v domain.VariableSpec, run time.Time, sm domain.SpaceMajor) error {
	if err := w.AddGlobalAttrs(Attrs{
		"domain": grid.Name,
		"run":    run.UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}
	if err := addCoordinates(w, grid, sm.NTime); err != nil {
		return err
	}
	return w.AddFloat32(v.Name,
		[]string{"time", "y", "x"},
		[]int{sm.NTime, grid.Ny, grid.Nx},
		sm.Data,
		Attrs{"units": v.Unit, "source_name": v.RemoteName},
	)
}

// addCoordinates writes index coordinate variables for time, y and x so the
// dimensions can be recovered by Dataset.Dimensions.
func addCoordinates(w *Writer, grid domain.Grid, nTime int) error {
	for _, c := range []struct {
		name  string
		n     int
		units string
	}{
		{"time", nTime, "steps since run"},
		{"y", grid.Ny, "index"},
		{"x", grid.Nx, "index"},
	} {
		idx := make([]int32, c.n)
		for i := range idx {
			idx[i] = int32(i)
		}
		if err := w.AddInt32(c.name, []string{c.name}, []int{c.n}, idx, Attrs{"units": c.units}); err != nil {
			return err
		}
	}
	return nil
}

// WriteDataset writes a complete model-style dataset: coordinates, the given
// static (y, x) fields and (time, y, x) forecast fields. Used to produce
// fixtures with a domain's shape.
func WriteDataset(path string, grid domain.Grid, nTime int, static map[string][]float32, forecast map[string][]float32) error {
	w, err := Create(path)
	if err != nil {
		return err
	}
	if err := writeDataset(w, grid, nTime, static, forecast); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

func writeDataset(w *Writer, grid domain.Grid, nTime int, static, forecast map[string][]float32) error {
	if err := w.AddGlobalAttrs(Attrs{"domain": grid.Name}); err != nil {
		return err
	}
	if err := addCoordinates(w, grid, nTime); err != nil {
		return err
	}
	for _, name := range sortedKeys(static) {
		if err := w.AddFloat32(name, []string{"y", "x"}, []int{grid.Ny, grid.Nx}, static[name], Attrs{}); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(forecast) {
		if err := w.AddFloat32(name, []string{"time", "y", "x"}, []int{nTime, grid.Ny, grid.Nx}, forecast[name], Attrs{}); err != nil {
			return err
		}
	}
	return nil
}
