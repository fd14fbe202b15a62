package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/forecast-grid-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

func newGenFixtureCmd() *cobra.Command {
	var (
		out   string
		steps int
	)
	cmd := &cobra.Command{
		Use:   "genfixture <domain>",
		Short: "Write a synthetic dataset shaped like the domain's model output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			grid, err := e.grid(args[0])
			if err != nil {
				return err
			}
			if steps <= 0 {
				steps = grid.TimeStepsMin
			}
			if steps < grid.TimeStepsMin || steps > grid.TimeStepsMax {
				return fmt.Errorf("%w: %d steps outside [%d, %d] for %s",
					domain.ErrInvalidArgument, steps, grid.TimeStepsMin, grid.TimeStepsMax, grid.Name)
			}

			static, forecast := syntheticFields(grid, steps)
			if err := netcdf.WriteDataset(out, grid, steps, static, forecast); err != nil {
				return err
			}
			e.logger.Info("fixture written", "domain", grid.Name, "path", out, "steps", steps)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output NetCDF file")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of time steps; the domain minimum when unset")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// syntheticFields builds smooth fields: a land/sea split along x, terrain
// rising to the east, a diurnal cycle for instantaneous variables and
// monotonically growing totals for accumulated ones.
func syntheticFields(grid domain.Grid, steps int) (map[string][]float32, map[string][]float32) {
	n := grid.LocationCount()
	altitude := make([]float32, n)
	land := make([]float32, n)
	for loc := 0; loc < n; loc++ {
		x := loc % grid.Nx
		altitude[loc] = float32(x) * 2
		if x >= grid.Nx/4 {
			land[loc] = 1
		}
	}
	static := map[string][]float32{grid.AltitudeName: altitude, grid.LandFractionName: land}

	forecast := make(map[string][]float32, len(grid.Variables))
	for _, v := range grid.Variables {
		data := make([]float32, steps*n)
		for t := 0; t < steps; t++ {
			phase := math.Sin(2 * math.Pi * float64(t) / 24)
			for loc := 0; loc < n; loc++ {
				if v.Accumulated {
					data[t*n+loc] = float32(t) * 0.1
					continue
				}
				data[t*n+loc] = float32(100*(1+phase)) + float32(loc%grid.Nx)/float32(grid.Nx)
			}
		}
		forecast[v.RemoteName] = data
	}
	return static, forecast
}
