package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid() Grid {
	return Grid{
		Name:                "test_domain",
		Nx:                  20,
		Ny:                  10,
		TimeStepSeconds:     3600,
		FileLength:          48,
		UpdateIntervalHours: 3,
		TimeStepsMin:        58,
		TimeStepsMax:        64,
	}
}

func TestValidateSchema(t *testing.T) {
	grid := testGrid()

	tests := []struct {
		name    string
		dims    []Dimension
		want    int
		wantErr bool
	}{
		{"canonical names", []Dimension{{"time", 60}, {"y", 10}, {"x", 20}}, 60, false},
		{"order irrelevant", []Dimension{{"x", 20}, {"time", 58}, {"y", 10}}, 58, false},
		{"lat/lon aliases", []Dimension{{"time", 64}, {"lat", 10}, {"lon", 20}}, 64, false},
		{"too few dimensions", []Dimension{{"time", 60}, {"x", 200}}, 0, true},
		{"too many dimensions", []Dimension{{"time", 60}, {"y", 10}, {"x", 20}, {"height", 1}}, 0, true},
		{"unknown dimension", []Dimension{{"time", 60}, {"y", 10}, {"level", 20}}, 0, true},
		{"nx mismatch", []Dimension{{"time", 60}, {"y", 10}, {"x", 21}}, 0, true},
		{"ny mismatch", []Dimension{{"time", 60}, {"y", 11}, {"x", 20}}, 0, true},
		{"time below band", []Dimension{{"time", 30}, {"y", 10}, {"x", 20}}, 0, true},
		{"time above band", []Dimension{{"time", 65}, {"y", 10}, {"x", 20}}, 0, true},
		{"duplicate axis", []Dimension{{"time", 60}, {"x", 20}, {"lon", 20}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateSchema(tt.dims, grid)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrSchemaMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaskElevation(t *testing.T) {
	altitude := []float32{120, 0, 35.5, 1800, -2}
	landFraction := []float32{1, 0, 0.49, 0.5, 0.51}

	masked, err := MaskElevation(altitude, landFraction)
	require.NoError(t, err)

	for i := range altitude {
		if landFraction[i] < 0.5 {
			assert.Equal(t, SeaElevation, masked[i], "cell %d is sea", i)
		} else {
			assert.Equal(t, altitude[i], masked[i], "cell %d is land", i)
		}
	}
	assert.Equal(t, []float32{120, 0, 35.5, 1800, -2}, altitude, "input must not be modified")
}

func TestMaskElevation_LengthMismatch(t *testing.T) {
	_, err := MaskElevation(make([]float32, 4), make([]float32, 3))
	require.ErrorIs(t, err, ErrSchemaMismatch)
}
