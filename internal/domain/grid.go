package domain

import (
	"fmt"
	"strings"
	"time"
)

// Grid describes one model domain: its spatial grid, time stepping, run
// cadence and where its files live. Loaded from configuration, never computed.
type Grid struct {
	Name string

	Nx int
	Ny int

	// TimeStepSeconds is the spacing of one time slot.
	TimeStepSeconds int64
	// FileLength is the number of time slots held by one store partition file.
	FileLength int

	// UpdateIntervalHours is the run cadence; run hours are multiples of it.
	UpdateIntervalHours int
	// AvailabilityDelay is how long after its reference hour a run is
	// usually published.
	AvailabilityDelay time.Duration

	// Accepted band for the dataset's time dimension.
	TimeStepsMin int
	TimeStepsMax int

	// RemotePath is the dataset location template. Tokens {YYYY}, {MM},
	// {DD} and {HH} expand to the run time.
	RemotePath   string
	DownloadPath string
	StorePath    string

	AltitudeName     string
	LandFractionName string

	Variables []VariableSpec
}

// LocationCount returns the number of grid cells.
func (g Grid) LocationCount() int {
	return g.Nx * g.Ny
}

// LastRunHour returns the hour of the most recent run expected to be
// published at now.
func (g Grid) LastRunHour(now time.Time) int {
	t := now.UTC().Add(-g.AvailabilityDelay)
	return t.Hour() / g.UpdateIntervalHours * g.UpdateIntervalHours
}

// RemoteURL expands RemotePath for the given run.
func (g Grid) RemoteURL(run time.Time) string {
	run = run.UTC()
	r := strings.NewReplacer(
		"{YYYY}", fmt.Sprintf("%04d", run.Year()),
		"{MM}", fmt.Sprintf("%02d", int(run.Month())),
		"{DD}", fmt.Sprintf("%02d", run.Day()),
		"{HH}", fmt.Sprintf("%02d", run.Hour()),
	)
	return r.Replace(g.RemotePath)
}

// Variable looks up a variable by name.
func (g Grid) Variable(name string) (VariableSpec, bool) {
	for _, v := range g.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return VariableSpec{}, false
}

// SelectVariables returns the named variables in the given order, or all
// variables of the grid when names is empty.
func (g Grid) SelectVariables(names []string) ([]VariableSpec, error) {
	if len(names) == 0 {
		return g.Variables, nil
	}
	out := make([]VariableSpec, 0, len(names))
	for _, name := range names {
		v, ok := g.Variable(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("%w: unknown variable %q for domain %s", ErrInvalidArgument, name, g.Name)
		}
		out = append(out, v)
	}
	return out, nil
}

// LinearTransform converts raw values with value*Scale + Offset.
type LinearTransform struct {
	Scale  float32
	Offset float32
}

// VariableSpec is the static metadata of one forecast variable.
type VariableSpec struct {
	Name       string
	RemoteName string
	// Linear is nil when the raw values are stored as-is.
	Linear *LinearTransform
	// Accumulated marks totals since the run start that must be differenced.
	Accumulated   bool
	SkipFirstHour bool
	OutputName    string
	// ScaleFactor is the store quantization factor, stored = round(value*ScaleFactor).
	ScaleFactor float32
	Unit        string
}

// Skip returns the number of leading time slots excluded by deaccumulation.
func (v VariableSpec) Skip() int {
	if v.SkipFirstHour {
		return 1
	}
	return 0
}

// Dimension is a named dataset dimension and its length.
type Dimension struct {
	Name string
	Len  int
}

// SeriesUpdate announces that a variable's series was written for a run.
type SeriesUpdate struct {
	Domain    string    `json:"domain"`
	Variable  string    `json:"variable"`
	Run       time.Time `json:"run"`
	StartSlot int64     `json:"start_slot"`
	EndSlot   int64     `json:"end_slot"`
	Locations int       `json:"locations"`
	WrittenAt time.Time `json:"written_at"`
}

// RunStatus summarizes the ingest state of one domain.
type RunStatus struct {
	Domain      string    `json:"domain"`
	Ready       bool      `json:"ready"`
	LastRun     time.Time `json:"last_run,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}
