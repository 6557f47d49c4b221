package planner

import (
	"aoi-edge/internal/types"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlan_ZigzagTwoByTwo(t *testing.T) {
	cfg := types.ScanConfig{Width: 80, Height: 60, Overlap: 0}
	path := Plan(cfg, DefaultFOV, types.Position{})

	require.Len(t, path, 4)
	want := []types.ScanPoint{
		{ID: 1, WorkX: 0, WorkY: 0, MachineX: 0, MachineY: 0},
		{ID: 2, WorkX: 40, WorkY: 0, MachineX: 40, MachineY: 0},
		{ID: 3, WorkX: 40, WorkY: 30, MachineX: 40, MachineY: 30},
		{ID: 4, WorkX: 0, WorkY: 30, MachineX: 0, MachineY: 30},
	}
	require.Equal(t, want, path)
}

func TestPlan_OffsetAppliedToMachineFrame(t *testing.T) {
	cfg := types.ScanConfig{Width: 80, Height: 30, Overlap: 0}
	path := Plan(cfg, DefaultFOV, types.Position{X: 12.5, Y: -3})

	require.Len(t, path, 2)
	require.Equal(t, 0.0, path[0].WorkX)
	require.Equal(t, 12.5, path[0].MachineX)
	require.Equal(t, -3.0, path[0].MachineY)
	require.Equal(t, 52.5, path[1].MachineX)
}

func TestPlan_OverlapShrinksStepAndRounds(t *testing.T) {
	// 重叠 10%: stepX = 36, stepY = 27 -> cols = ceil(100/36) = 3, rows = ceil(50/27) = 2
	cfg := types.ScanConfig{Width: 100, Height: 50, Overlap: 0.1}
	path := Plan(cfg, DefaultFOV, types.Position{})

	require.Len(t, path, 6)
	require.Equal(t, []float64{0, 36, 72, 72, 36, 0}, workXs(path))
	for i, p := range path {
		require.Equal(t, i+1, p.ID)
	}
	require.Equal(t, 27.0, path[3].WorkY)
}

func TestPlan_RowsShareY(t *testing.T) {
	cfg := types.ScanConfig{Width: 120, Height: 90, Overlap: 0.25}
	path := Plan(cfg, DefaultFOV, types.Position{})

	cols := 4 // ceil(120/30)
	for i := 0; i < len(path); i += cols {
		for j := i; j < i+cols; j++ {
			require.Equal(t, path[i].WorkY, path[j].WorkY)
		}
	}
}

func TestPlan_EmptyWhenNoArea(t *testing.T) {
	require.Empty(t, Plan(types.ScanConfig{Width: 0, Height: 60}, DefaultFOV, types.Position{}))
	require.Empty(t, Plan(types.ScanConfig{Width: 80, Height: 60, Overlap: 1}, DefaultFOV, types.Position{}))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(types.ScanConfig{Width: 80, Height: 60, Overlap: 0.2}, DefaultFOV, 0))

	err := Validate(types.ScanConfig{Width: 80, Height: 60, Overlap: 1}, DefaultFOV, 0)
	require.True(t, errors.Is(err, ErrInvalidConfig))

	err = Validate(types.ScanConfig{Width: -1, Height: 60}, DefaultFOV, 0)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate_RejectsNonFiniteSize(t *testing.T) {
	for _, sc := range []types.ScanConfig{
		{Width: math.NaN(), Height: 60},
		{Width: 80, Height: math.Inf(1)},
		{Width: math.Inf(-1), Height: 60},
	} {
		require.ErrorIs(t, Validate(sc, DefaultFOV, 0), ErrInvalidConfig)
	}
}

func TestValidate_RejectsOversizedGrid(t *testing.T) {
	huge := types.ScanConfig{Width: 3e7, Height: 3e7, Overlap: 0.1}
	require.ErrorIs(t, Validate(huge, DefaultFOV, 0), ErrInvalidConfig)
	require.Empty(t, Plan(huge, DefaultFOV, types.Position{}))

	// 2x2 = 4 个点，上限 3 时拒绝，上限 4 时通过
	sc := types.ScanConfig{Width: 80, Height: 60}
	require.ErrorIs(t, Validate(sc, DefaultFOV, 3), ErrInvalidConfig)
	require.NoError(t, Validate(sc, DefaultFOV, 4))
}

func workXs(path []types.ScanPoint) []float64 {
	out := make([]float64, len(path))
	for i, p := range path {
		out[i] = p.WorkX
	}
	return out
}
