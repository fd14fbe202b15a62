package main

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/forecast-grid-etl/internal/adapter/gridstore"
	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

func newReadCmd() *cobra.Command {
	var (
		location int
		hour     int
		pastDays int
		steps    int
	)
	cmd := &cobra.Command{
		Use:   "read <domain> <variable>",
		Short: "Print the stored series of one location for a run window",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			grid, err := e.grid(args[0])
			if err != nil {
				return err
			}
			v, ok := grid.Variable(args[1])
			if !ok {
				return fmt.Errorf("%w: unknown variable %q for domain %s", domain.ErrInvalidArgument, args[1], grid.Name)
			}
			if location < 0 || location >= grid.LocationCount() {
				return fmt.Errorf("%w: location %d outside [0, %d)", domain.ErrInvalidArgument, location, grid.LocationCount())
			}
			run, err := domain.SelectRun(grid, runSelector(hour, pastDays))
			if err != nil {
				return err
			}
			if steps <= 0 {
				steps = grid.TimeStepsMax
			}

			ring := domain.NewRingTimeRange(run, grid.TimeStepSeconds, steps)
			store := gridstore.New(grid.FileLength, e.logger)
			series, err := store.ReadTimeSeries(grid.StorePath, v.OutputName, location, ring, v.ScaleFactor)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, value := range series {
				slot := ring.Start + int64(i)
				at := time.Unix(slot*grid.TimeStepSeconds, 0).UTC().Format(time.RFC3339)
				if math.IsNaN(float64(value)) {
					fmt.Fprintf(out, "%s\t-\n", at)
					continue
				}
				fmt.Fprintf(out, "%s\t%g\n", at, value)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&location, "location", 0, "flat grid index y*nx+x")
	f.IntVar(&hour, "run", -1, "run hour (UTC) of today; latest published run when unset")
	f.IntVar(&pastDays, "past-days", 0, "shift the selected run this many days back")
	f.IntVar(&steps, "steps", 0, "number of time slots to print; the domain maximum when unset")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}
