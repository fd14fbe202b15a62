package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
	"github.com/couchcryptid/forecast-grid-etl/internal/observability"
	"github.com/couchcryptid/forecast-grid-etl/internal/pipeline"
)

// --- mocks ---

type memDataset struct {
	dims   []domain.Dimension
	arrays map[string]domain.Array
	reads  []string
	closed bool
}

func (d *memDataset) Dimensions() ([]domain.Dimension, error) { return d.dims, nil }

func (d *memDataset) ReadArray(name string) (domain.Array, error) {
	d.reads = append(d.reads, name)
	arr, ok := d.arrays[name]
	if !ok {
		return domain.Array{}, domain.ErrMissingArray
	}
	// Hand out a copy so transforms cannot alter the fixture.
	arr.Data = append([]float32(nil), arr.Data...)
	return arr, nil
}

func (d *memDataset) Close() error {
	d.closed = true
	return nil
}

type mockAcquirer struct {
	ds       domain.Dataset
	err      error
	calls    int
	path     string
	deadline time.Time
}

func (m *mockAcquirer) Acquire(_ context.Context, path string, deadline time.Time) (domain.Dataset, error) {
	m.calls++
	m.path, m.deadline = path, deadline
	if m.err != nil {
		return nil, m.err
	}
	return m.ds, nil
}

type update struct {
	base, name          string
	tm                  domain.TimeMajor
	ring                domain.RingTimeRange
	skipFirst, skipLast int
	smoothing           int
	scaleFactor         float32
}

type memStore struct {
	statics  map[string][]float32
	updates  []update
	writeErr error
}

func newMemStore() *memStore {
	return &memStore{statics: make(map[string][]float32)}
}

func (s *memStore) StaticExists(path string) bool {
	_, ok := s.statics[path]
	return ok
}

func (s *memStore) WriteStatic(path string, _, _ []int, _ float32, data []float32) error {
	s.statics[path] = data
	return nil
}

func (s *memStore) UpdateTimeOriented(base, name string, tm domain.TimeMajor, ring domain.RingTimeRange, skipFirst, skipLast, smoothing int, scaleFactor float32) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.updates = append(s.updates, update{base, name, tm, ring, skipFirst, skipLast, smoothing, scaleFactor})
	return nil
}

type mockNotifier struct {
	published []domain.SeriesUpdate
	err       error
}

func (m *mockNotifier) Publish(_ context.Context, u domain.SeriesUpdate) error {
	m.published = append(m.published, u)
	return m.err
}

type mockExporter struct {
	exported map[string]domain.SpaceMajor
	err      error
}

func (m *mockExporter) Export(_ domain.Grid, v domain.VariableSpec, _ time.Time, sm domain.SpaceMajor) error {
	if m.err != nil {
		return m.err
	}
	m.exported[v.Name] = sm
	return nil
}

// --- fixtures ---

const nTime = 60

var runTime = time.Date(2024, time.April, 26, 6, 0, 0, 0, time.UTC)

func testGrid() domain.Grid {
	return domain.Grid{
		Name:                "test_domain",
		Nx:                  20,
		Ny:                  10,
		TimeStepSeconds:     3600,
		FileLength:          48,
		UpdateIntervalHours: 3,
		TimeStepsMin:        58,
		TimeStepsMax:        64,
		RemotePath:          "s3://models/test/{YYYY}{MM}{DD}{HH}.nc",
		StorePath:           "/store/test_domain",
		AltitudeName:        "hsurf",
		LandFractionName:    "lsm",
		Variables: []domain.VariableSpec{
			{Name: "temperature_2m", RemoteName: "t2m", Linear: &domain.LinearTransform{Scale: 1, Offset: -273.15}, OutputName: "temperature_2m", ScaleFactor: 20},
			{Name: "precipitation", RemoteName: "tp", Accumulated: true, SkipFirstHour: true, OutputName: "precipitation", ScaleFactor: 10},
		},
	}
}

func forecastArray(name string, grid domain.Grid, value func(t, loc int) float32) domain.Array {
	n := grid.LocationCount()
	data := make([]float32, nTime*n)
	for t := 0; t < nTime; t++ {
		for loc := 0; loc < n; loc++ {
			data[t*n+loc] = value(t, loc)
		}
	}
	return domain.Array{Name: name, Dims: []string{"time", "y", "x"}, Shape: []int{nTime, grid.Ny, grid.Nx}, Data: data}
}

func staticArray(name string, grid domain.Grid, value func(loc int) float32) domain.Array {
	data := make([]float32, grid.LocationCount())
	for i := range data {
		data[i] = value(i)
	}
	return domain.Array{Name: name, Dims: []string{"y", "x"}, Shape: []int{grid.Ny, grid.Nx}, Data: data}
}

func newDataset(grid domain.Grid) *memDataset {
	return &memDataset{
		dims: []domain.Dimension{{Name: "time", Len: nTime}, {Name: "y", Len: grid.Ny}, {Name: "x", Len: grid.Nx}},
		arrays: map[string]domain.Array{
			"t2m":   forecastArray("t2m", grid, func(t, loc int) float32 { return 270 + float32(t)/10 + float32(loc)/100 }),
			"tp":    forecastArray("tp", grid, func(t, _ int) float32 { return float32(t * t) }),
			"hsurf": staticArray("hsurf", grid, func(loc int) float32 { return float32(loc) }),
			"lsm":   staticArray("lsm", grid, func(loc int) float32 { return float32(loc%2) * 0.9 }),
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	grid     domain.Grid
	ds       *memDataset
	acquirer *mockAcquirer
	store    *memStore
	metrics  *observability.Metrics
	clock    *clockwork.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(runTime.Add(2 * time.Hour)))
	t.Cleanup(func() { domain.SetClock(nil) })

	grid := testGrid()
	ds := newDataset(grid)
	return &harness{
		grid:     grid,
		ds:       ds,
		acquirer: &mockAcquirer{ds: ds},
		store:    newMemStore(),
		metrics:  observability.NewMetricsForTesting(),
		clock:    clockwork.NewFakeClockAt(runTime.Add(2 * time.Hour)),
	}
}

func (h *harness) pipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	opts = append([]pipeline.Option{pipeline.WithClock(h.clock)}, opts...)
	return pipeline.New(h.grid, h.acquirer, h.store, discardLogger(), h.metrics, opts...)
}

func hour(h int) *int { return &h }

// --- tests ---

func TestPipeline_Run_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.grid.Variables = h.grid.Variables[:1]
	p := h.pipeline()

	err := p.Run(context.Background(), pipeline.Request{Run: domain.RunSelector{Hour: hour(6)}})
	require.NoError(t, err)

	assert.Equal(t, "s3://models/test/2024042606.nc", h.acquirer.path)
	assert.True(t, h.ds.closed)
	require.Len(t, h.store.updates, 1)

	u := h.store.updates[0]
	assert.Equal(t, "/store/test_domain", u.base)
	assert.Equal(t, "temperature_2m", u.name)
	assert.Equal(t, nTime, u.ring.Len())
	assert.Equal(t, runTime.Unix()/3600, u.ring.Start)
	assert.Equal(t, 0, u.skipFirst)
	assert.Equal(t, 0, u.skipLast)
	assert.Equal(t, 0, u.smoothing)
	assert.Equal(t, float32(20), u.scaleFactor)
	assert.Equal(t, 200, u.tm.NLocations)

	src := h.ds.arrays["t2m"].Data
	n := h.grid.LocationCount()
	want := make([]float32, len(src))
	for loc := 0; loc < n; loc++ {
		for ts := 0; ts < nTime; ts++ {
			want[loc*nTime+ts] = src[ts*n+loc] - 273.15
		}
	}
	if diff := cmp.Diff(want, u.tm.Data, cmpopts.EquateApprox(0, 1e-3)); diff != "" {
		t.Errorf("transformed series mismatch (-want +got):\n%s", diff)
	}

	assert.True(t, p.Ready())
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("test_domain", "success")), 0)
	assert.InDelta(t, float64(runTime.Unix()), testutil.ToFloat64(h.metrics.LastSuccessTime.WithLabelValues("test_domain")), 0)
}

func TestPipeline_Run_AccumulatedVariable(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline()

	require.NoError(t, p.Run(context.Background(), pipeline.Request{
		Run:       domain.RunSelector{Hour: hour(6)},
		Variables: []string{"precipitation"},
	}))

	require.Len(t, h.store.updates, 1)
	u := h.store.updates[0]
	assert.Equal(t, 1, u.skipFirst)
	assert.Equal(t, float32(10), u.scaleFactor)

	// Totals t^2 become increments 2t-1 after the first skipped slot.
	series := u.tm.Series(7)
	assert.Equal(t, float32(0), series[0])
	assert.Equal(t, float32(1), series[1])
	assert.Equal(t, float32(3), series[2])
	assert.Equal(t, float32(2*59-1), series[59])
}

func TestPipeline_Run_SchemaMismatchReadsNothing(t *testing.T) {
	tests := []struct {
		name string
		dims []domain.Dimension
	}{
		{"time outside band", []domain.Dimension{{Name: "time", Len: 30}, {Name: "y", Len: 10}, {Name: "x", Len: 20}}},
		{"nx mismatch", []domain.Dimension{{Name: "time", Len: 60}, {Name: "y", Len: 10}, {Name: "x", Len: 21}}},
		{"ny mismatch", []domain.Dimension{{Name: "time", Len: 60}, {Name: "y", Len: 9}, {Name: "x", Len: 20}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ds.dims = tt.dims
			p := h.pipeline()

			err := p.Run(context.Background(), pipeline.Request{Run: domain.RunSelector{Hour: hour(6)}})
			require.ErrorIs(t, err, domain.ErrSchemaMismatch)
			assert.Empty(t, h.ds.reads)
			assert.Empty(t, h.store.updates)
			assert.Empty(t, h.store.statics)
			assert.True(t, h.ds.closed)
			assert.False(t, p.Ready())
			assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("test_domain", "error")), 0)
		})
	}
}

func TestPipeline_Run_InvalidArgumentsBeforeIO(t *testing.T) {
	tests := []struct {
		name string
		req  pipeline.Request
	}{
		{"unknown variable", pipeline.Request{Variables: []string{"snow_depth"}}},
		{"unaligned run hour", pipeline.Request{Run: domain.RunSelector{Hour: hour(7)}}},
		{"negative past days", pipeline.Request{Run: domain.RunSelector{PastDays: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p := h.pipeline()

			err := p.Run(context.Background(), tt.req)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Zero(t, h.acquirer.calls)
		})
	}
}

func TestPipeline_Run_ElevationMaskOnce(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline()
	req := pipeline.Request{Run: domain.RunSelector{Hour: hour(6)}}

	require.NoError(t, p.Run(context.Background(), req))
	require.NoError(t, p.Run(context.Background(), req))

	path := pipeline.ElevationPath(h.grid)
	require.Contains(t, h.store.statics, path)
	mask := h.store.statics[path]
	assert.Equal(t, domain.SeaElevation, mask[0])
	assert.Equal(t, float32(1), mask[1])
	assert.Equal(t, domain.SeaElevation, mask[2])
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.ElevationMasks), 0)

	hsurfReads := 0
	for _, r := range h.ds.reads {
		if r == "hsurf" {
			hsurfReads++
		}
	}
	assert.Equal(t, 1, hsurfReads, "second run must not read the static arrays")
}

func TestPipeline_Run_MissingElevationArray(t *testing.T) {
	h := newHarness(t)
	delete(h.ds.arrays, "lsm")
	p := h.pipeline()

	err := p.Run(context.Background(), pipeline.Request{Run: domain.RunSelector{Hour: hour(6)}})
	require.ErrorIs(t, err, domain.ErrMissingArray)
	assert.Empty(t, h.store.updates)
}

func TestPipeline_Run_MissingVariableKeepsEarlierWrites(t *testing.T) {
	h := newHarness(t)
	delete(h.ds.arrays, "tp")
	p := h.pipeline()

	err := p.Run(context.Background(), pipeline.Request{Run: domain.RunSelector{Hour: hour(6)}})
	require.ErrorIs(t, err, domain.ErrMissingArray)
	assert.Contains(t, err.Error(), "precipitation")
	require.Len(t, h.store.updates, 1)
	assert.Equal(t, "temperature_2m", h.store.updates[0].name)
	assert.False(t, p.Ready())
}

func TestPipeline_Run_StoreWriteFailure(t *testing.T) {
	h := newHarness(t)
	h.store.writeErr = errors.New("disk full")
	p := h.pipeline()

	err := p.Run(context.Background(), pipeline.Request{Run: domain.RunSelector{Hour: hour(6)}})
	require.ErrorIs(t, err, domain.ErrStoreWrite)
	assert.Contains(t, err.Error(), "disk full")
}

func TestPipeline_Run_AcquireTimeout(t *testing.T) {
	h := newHarness(t)
	h.acquirer.err = domain.ErrTimeoutExceeded
	p := h.pipeline(pipeline.WithAcquireTimeout(90 * time.Minute))

	err := p.Run(context.Background(), pipeline.Request{})
	require.ErrorIs(t, err, domain.ErrTimeoutExceeded)
	assert.Equal(t, h.clock.Now().Add(90*time.Minute), h.acquirer.deadline)
	assert.Empty(t, h.store.updates)
}

func TestPipeline_Run_Notifies(t *testing.T) {
	h := newHarness(t)
	notifier := &mockNotifier{}
	p := h.pipeline(pipeline.WithNotifier(notifier))

	require.NoError(t, p.Run(context.Background(), pipeline.Request{Run: domain.RunSelector{Hour: hour(6)}}))

	require.Len(t, notifier.published, 2)
	precip := notifier.published[1]
	assert.Equal(t, "test_domain", precip.Domain)
	assert.Equal(t, "precipitation", precip.Variable)
	assert.Equal(t, runTime, precip.Run)
	assert.Equal(t, runTime.Unix()/3600+1, precip.StartSlot)
	assert.Equal(t, runTime.Unix()/3600+nTime, precip.EndSlot)
	assert.Equal(t, 200, precip.Locations)
}

func TestPipeline_Run_NotifyFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(pipeline.WithNotifier(&mockNotifier{err: errors.New("broker down")}))

	require.NoError(t, p.Run(context.Background(), pipeline.Request{Run: domain.RunSelector{Hour: hour(6)}}))
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.NotifyErrors), 0)
	assert.Len(t, h.store.updates, 2)
}

func TestPipeline_Run_Export(t *testing.T) {
	h := newHarness(t)
	exporter := &mockExporter{exported: make(map[string]domain.SpaceMajor)}
	p := h.pipeline(pipeline.WithExporter(exporter))

	require.NoError(t, p.Run(context.Background(), pipeline.Request{
		Run:       domain.RunSelector{Hour: hour(6)},
		Variables: []string{"temperature_2m"},
	}))

	sm, ok := exporter.exported["temperature_2m"]
	require.True(t, ok)
	src := h.ds.arrays["t2m"].Data
	require.Len(t, sm.Data, len(src))
	assert.InDelta(t, src[123]-273.15, sm.Data[123], 1e-3)
	// The export is a copy; the stored series is still time-major.
	assert.InDelta(t, src[0]-273.15, h.store.updates[0].tm.Data[0], 1e-3)
}

func TestPipeline_Run_ExportFailureKeepsStoreWrite(t *testing.T) {
	h := newHarness(t)
	exporter := &mockExporter{exported: make(map[string]domain.SpaceMajor), err: errors.New("disk full")}
	p := h.pipeline(pipeline.WithExporter(exporter))

	require.NoError(t, p.Run(context.Background(), pipeline.Request{
		Run:       domain.RunSelector{Hour: hour(6)},
		Variables: []string{"temperature_2m", "precipitation"},
	}))

	assert.Empty(t, exporter.exported)
	require.Len(t, h.store.updates, 2)
	assert.Equal(t, "temperature_2m", h.store.updates[0].name)
	assert.Equal(t, "precipitation", h.store.updates[1].name)
	assert.True(t, p.Ready())
}

func TestPipeline_Run_ContextCancelled(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, pipeline.Request{Run: domain.RunSelector{Hour: hour(6)}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.store.updates)
}

func TestPipeline_CheckReadiness_NotReady(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline()
	require.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Status(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline()

	st := p.Status()
	assert.Equal(t, "test_domain", st.Domain)
	assert.False(t, st.Ready)
	assert.True(t, st.LastRun.IsZero())

	require.NoError(t, p.Run(context.Background(), pipeline.Request{Run: domain.RunSelector{Hour: hour(6)}}))
	st = p.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, runTime, st.LastSuccess)
	assert.Empty(t, st.LastError)

	h.acquirer.err = domain.ErrTimeoutExceeded
	require.Error(t, p.Run(context.Background(), pipeline.Request{Run: domain.RunSelector{Hour: hour(6), PastDays: 1}}))
	st = p.Status()
	assert.True(t, st.Ready, "a failed run keeps the domain ready")
	assert.Equal(t, runTime.AddDate(0, 0, -1), st.LastRun)
	assert.Equal(t, runTime, st.LastSuccess)
	assert.Contains(t, st.LastError, "deadline exceeded")
}
