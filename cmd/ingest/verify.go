package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/forecast-grid-etl/internal/adapter/gridstore"
	"github.com/couchcryptid/forecast-grid-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
	"github.com/couchcryptid/forecast-grid-etl/internal/pipeline"
)

var errVerifyFailed = errors.New("verification failed")

// check tracks pass/fail for one verification phase.
type check struct {
	name   string
	errors []string
}

func (c *check) errorf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *check) passed() bool { return len(c.errors) == 0 }

func newVerifyCmd() *cobra.Command {
	var (
		hour     int
		pastDays int
		samples  int
	)
	cmd := &cobra.Command{
		Use:   "verify <domain> <dataset.nc>",
		Short: "Compare the stored series of a run against its source dataset",
		Long: "Verify re-reads a local dataset, applies the same transforms as run, " +
			"and checks a sample of locations in the store against the result.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			grid, err := e.grid(args[0])
			if err != nil {
				return err
			}
			run, err := domain.SelectRun(grid, runSelector(hour, pastDays))
			if err != nil {
				return err
			}
			ds, err := netcdf.Open(args[1])
			if err != nil {
				return err
			}
			defer ds.Close()

			v := &verifier{
				grid:    grid,
				ds:      ds,
				store:   gridstore.New(grid.FileLength, e.logger),
				run:     run,
				samples: samples,
				tf:      pipeline.NewVariableTransformer(grid, e.logger),
			}
			return v.report(cmd.OutOrStdout(), v.checks())
		},
	}
	f := cmd.Flags()
	f.IntVar(&hour, "run", -1, "run hour (UTC) of today; latest published run when unset")
	f.IntVar(&pastDays, "past-days", 0, "shift the selected run this many days back")
	f.IntVar(&samples, "samples", 100, "number of evenly spaced locations to compare")
	return cmd
}

type verifier struct {
	grid    domain.Grid
	ds      domain.Dataset
	store   *gridstore.Store
	tf      *pipeline.VariableTransformer
	run     time.Time
	samples int
}

func (v *verifier) checks() []*check {
	schema := &check{name: "Dataset schema"}
	dims, err := v.ds.Dimensions()
	if err != nil {
		schema.errorf("read dimensions: %v", err)
		return []*check{schema}
	}
	nTime, err := domain.ValidateSchema(dims, v.grid)
	if err != nil {
		schema.errorf("%v", err)
		return []*check{schema}
	}

	out := []*check{schema, v.checkElevation()}
	ring := domain.NewRingTimeRange(v.run, v.grid.TimeStepSeconds, nTime)
	for _, spec := range v.grid.Variables {
		out = append(out, v.checkVariable(spec, ring))
	}
	return out
}

func (v *verifier) checkElevation() *check {
	c := &check{name: "Elevation mask"}
	stored, _, err := v.store.ReadStatic(pipeline.ElevationPath(v.grid))
	if err != nil {
		c.errorf("read stored mask: %v", err)
		return c
	}
	altitude, err := v.ds.ReadArray(v.grid.AltitudeName)
	if err != nil {
		c.errorf("read %s: %v", v.grid.AltitudeName, err)
		return c
	}
	land, err := v.ds.ReadArray(v.grid.LandFractionName)
	if err != nil {
		c.errorf("read %s: %v", v.grid.LandFractionName, err)
		return c
	}
	want, err := domain.MaskElevation(altitude.Data, land.Data)
	if err != nil {
		c.errorf("%v", err)
		return c
	}
	if len(stored) != len(want) {
		c.errorf("stored mask has %d cells, dataset %d", len(stored), len(want))
		return c
	}
	for _, loc := range v.sampleLocations() {
		if stored[loc] != want[loc] {
			c.errorf("location %d: stored %g, expected %g", loc, stored[loc], want[loc])
		}
	}
	return c
}

func (v *verifier) checkVariable(spec domain.VariableSpec, ring domain.RingTimeRange) *check {
	c := &check{name: "Variable " + spec.Name}
	tm, err := v.tf.Transform(v.ds, spec, v.run, ring.Len())
	if err != nil {
		c.errorf("transform: %v", err)
		return c
	}
	// Half a quantization step plus float slack.
	tolerance := 0.5/float64(spec.ScaleFactor) + 1e-4

	for _, loc := range v.sampleLocations() {
		stored, err := v.store.ReadTimeSeries(v.grid.StorePath, spec.OutputName, loc, ring, spec.ScaleFactor)
		if err != nil {
			c.errorf("location %d: %v", loc, err)
			return c
		}
		want := tm.Series(loc)
		for t := spec.Skip(); t < len(want); t++ {
			got := float64(stored[t])
			if math.IsNaN(got) {
				if !math.IsNaN(float64(want[t])) {
					c.errorf("location %d slot %d: not stored", loc, ring.Start+int64(t))
				}
				continue
			}
			if math.Abs(got-float64(want[t])) > tolerance && !clamped(want[t], spec.ScaleFactor) {
				c.errorf("location %d slot %d: stored %g, expected %g", loc, ring.Start+int64(t), got, want[t])
			}
		}
	}
	return c
}

// clamped reports whether value lies outside the int16 range of the store.
func clamped(value, scaleFactor float32) bool {
	q := math.Round(float64(value) * float64(scaleFactor))
	return q >= math.MaxInt16 || q <= math.MinInt16
}

func (v *verifier) sampleLocations() []int {
	n := v.grid.LocationCount()
	k := min(max(v.samples, 1), n)
	locs := make([]int, k)
	for i := range locs {
		locs[i] = i * n / k
	}
	return locs
}

func (v *verifier) report(w io.Writer, checks []*check) error {
	fmt.Fprintf(w, "=== %s run %s ===\n\n", v.grid.Name, v.run.Format("2006-01-02T15Z"))
	allPassed := true
	for _, c := range checks {
		status := "\033[32mPASS\033[0m"
		if !c.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(c.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", c.name, status)
	}

	for _, c := range checks {
		if c.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", c.name)
		for i, e := range c.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}
	if !allPassed {
		return errVerifyFailed
	}
	fmt.Fprintln(w, "\nAll checks passed.")
	return nil
}
