package gridstore

import (
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

func newTestStore(fileLength int) *Store {
	return New(fileLength, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// series builds a time-major array where location l at step t holds l*100+t.
func series(nLoc, nTime int) domain.TimeMajor {
	tm := domain.TimeMajor{Data: make([]float32, nLoc*nTime), NTime: nTime, NLocations: nLoc}
	for loc := 0; loc < nLoc; loc++ {
		for t, s := 0, tm.Series(loc); t < nTime; t++ {
			s[t] = float32(loc*100 + t)
		}
	}
	return tm
}

var equateNaN = cmpopts.EquateNaNs()

func nan() float32 { return float32(math.NaN()) }

func TestUpdateTimeOriented_SpansPartitions(t *testing.T) {
	base := t.TempDir()
	s := newTestStore(10)
	ring := domain.RingTimeRange{Start: 25, End: 37}

	require.NoError(t, s.UpdateTimeOriented(base, "temperature_2m", series(3, 12), ring, 0, 0, 0, 1))

	assert.FileExists(t, filepath.Join(base, "temperature_2m", "chunk_2.nc"))
	assert.FileExists(t, filepath.Join(base, "temperature_2m", "chunk_3.nc"))
	assert.NoFileExists(t, filepath.Join(base, "temperature_2m", "chunk_4.nc"))

	got, err := s.ReadTimeSeries(base, "temperature_2m", 2, domain.RingTimeRange{Start: 24, End: 38}, 1)
	require.NoError(t, err)
	want := []float32{nan(), 200, 201, 202, 203, 204, 205, 206, 207, 208, 209, 210, 211, nan()}
	if diff := cmp.Diff(want, got, equateNaN); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateTimeOriented_SkipFirst(t *testing.T) {
	base := t.TempDir()
	s := newTestStore(48)
	ring := domain.RingTimeRange{Start: 100, End: 104}

	require.NoError(t, s.UpdateTimeOriented(base, "precipitation", series(1, 4), ring, 1, 0, 0, 10))

	got, err := s.ReadTimeSeries(base, "precipitation", 0, ring, 10)
	require.NoError(t, err)
	if diff := cmp.Diff([]float32{nan(), 1, 2, 3}, got, equateNaN); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateTimeOriented_MergesRuns(t *testing.T) {
	base := t.TempDir()
	s := newTestStore(48)

	first := series(2, 6)
	require.NoError(t, s.UpdateTimeOriented(base, "v", first, domain.RingTimeRange{Start: 0, End: 6}, 0, 0, 0, 1))

	// A later run overlaps the tail of the first one and overrides it.
	second := domain.TimeMajor{Data: []float32{-1, -2, -3, -4, -5, -6, -7, -8}, NTime: 4, NLocations: 2}
	require.NoError(t, s.UpdateTimeOriented(base, "v", second, domain.RingTimeRange{Start: 3, End: 7}, 0, 0, 0, 1))

	got, err := s.ReadTimeSeries(base, "v", 1, domain.RingTimeRange{Start: 0, End: 8}, 1)
	require.NoError(t, err)
	want := []float32{100, 101, 102, -5, -6, -7, -8, nan()}
	if diff := cmp.Diff(want, got, equateNaN); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateTimeOriented_Quantization(t *testing.T) {
	base := t.TempDir()
	s := newTestStore(8)
	tm := domain.TimeMajor{Data: []float32{12.34, -0.26, nan(), 1e6}, NTime: 4, NLocations: 1}

	require.NoError(t, s.UpdateTimeOriented(base, "t", tm, domain.RingTimeRange{Start: 0, End: 4}, 0, 0, 0, 20))

	got, err := s.ReadTimeSeries(base, "t", 0, domain.RingTimeRange{Start: 0, End: 4}, 20)
	require.NoError(t, err)
	want := []float32{12.35, -0.25, nan(), math.MaxInt16 / 20.0}
	if diff := cmp.Diff(want, got, equateNaN, cmpopts.EquateApprox(0, 1e-4)); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateTimeOriented_Smoothing(t *testing.T) {
	base := t.TempDir()
	s := newTestStore(8)
	tm := domain.TimeMajor{Data: []float32{0, 2, 4, 6}, NTime: 4, NLocations: 1}

	require.NoError(t, s.UpdateTimeOriented(base, "w", tm, domain.RingTimeRange{Start: 0, End: 4}, 0, 0, 2, 10))

	got, err := s.ReadTimeSeries(base, "w", 0, domain.RingTimeRange{Start: 0, End: 4}, 10)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 3, 5}, got)
	assert.Equal(t, []float32{0, 2, 4, 6}, tm.Data, "input must not be modified")
}

func TestUpdateTimeOriented_Invalid(t *testing.T) {
	s := newTestStore(8)
	tm := series(1, 4)

	tests := []struct {
		name        string
		ring        domain.RingTimeRange
		skip, skipL int
		scaleFactor float32
	}{
		{"ring length differs", domain.RingTimeRange{Start: 0, End: 5}, 0, 0, 1},
		{"skip everything", domain.RingTimeRange{Start: 0, End: 4}, 2, 2, 1},
		{"zero scale factor", domain.RingTimeRange{Start: 0, End: 4}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.UpdateTimeOriented(t.TempDir(), "v", tm, tt.ring, tt.skip, tt.skipL, 0, tt.scaleFactor)
			require.ErrorIs(t, err, domain.ErrStoreWrite)
		})
	}
}

func TestUpdateTimeOriented_LocationCountChanged(t *testing.T) {
	base := t.TempDir()
	s := newTestStore(8)
	ring := domain.RingTimeRange{Start: 0, End: 4}
	require.NoError(t, s.UpdateTimeOriented(base, "v", series(2, 4), ring, 0, 0, 0, 1))

	err := s.UpdateTimeOriented(base, "v", series(3, 4), ring, 0, 0, 0, 1)
	require.ErrorIs(t, err, domain.ErrStoreWrite)
}

func TestWriteStatic(t *testing.T) {
	s := newTestStore(8)
	path := filepath.Join(t.TempDir(), "static", "hsurf.nc")
	data := []float32{1, 2, -999, 4, 5, 6}

	assert.False(t, s.StaticExists(path))
	require.NoError(t, s.WriteStatic(path, []int{2, 3}, []int{20, 20}, 1, data))
	assert.True(t, s.StaticExists(path))

	got, shape, err := s.ReadStatic(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, shape)
	assert.Equal(t, data, got)
}

func TestWriteStatic_ShapeMismatch(t *testing.T) {
	s := newTestStore(8)
	err := s.WriteStatic(filepath.Join(t.TempDir(), "x.nc"), []int{2, 3}, []int{20, 20}, 1, []float32{1})
	require.ErrorIs(t, err, domain.ErrStoreWrite)
}

func TestReadTimeSeries_Empty(t *testing.T) {
	s := newTestStore(8)
	got, err := s.ReadTimeSeries(t.TempDir(), "v", 0, domain.RingTimeRange{Start: 0, End: 3}, 1)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, v := range got {
		assert.True(t, math.IsNaN(float64(v)))
	}
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(2), floorDiv(25, 10))
	assert.Equal(t, int64(0), floorDiv(9, 10))
	assert.Equal(t, int64(-1), floorDiv(-1, 10))
	assert.Equal(t, int64(-1), floorDiv(-10, 10))
}

func TestQuantize(t *testing.T) {
	assert.Equal(t, int16(247), quantize(12.34, 20))
	assert.Equal(t, int16(missing), quantize(nan(), 20))
	assert.Equal(t, int16(math.MaxInt16), quantize(1e9, 1))
	assert.Equal(t, int16(missing+1), quantize(-1e9, 1))
	assert.True(t, math.IsNaN(float64(dequantize(missing, 20))))
}
