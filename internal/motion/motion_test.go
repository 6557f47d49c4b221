package motion

import (
	"aoi-edge/internal/types"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimulator_MoveToClipsToEnvelope(t *testing.T) {
	s := NewSimulator(DefaultEnvelope)

	pos, err := s.MoveTo(context.Background(), 350, -20)
	require.NoError(t, err)
	require.Equal(t, types.Position{X: 300, Y: 0}, pos)
	require.Equal(t, pos, s.Position())
}

func TestSimulator_JogZeroHome(t *testing.T) {
	s := NewSimulator(DefaultEnvelope)

	_, err := s.Jog("X", 25)
	require.NoError(t, err)
	st, err := s.Jog("y", 10)
	require.NoError(t, err)
	require.Equal(t, types.Position{X: 25, Y: 10}, st.Machine)

	st = s.Zero()
	require.Equal(t, types.Position{X: 25, Y: 10}, st.Offset)
	require.Equal(t, types.Position{}, st.Work)

	_, err = s.Jog("x", 5)
	require.NoError(t, err)
	require.Equal(t, types.Position{X: 5, Y: 0}, s.Status().Work)

	st = s.Home()
	require.Equal(t, types.Position{}, st.Machine)
	require.Equal(t, types.Position{X: -25, Y: -10}, st.Work)

	_, err = s.Jog("z", 1)
	require.ErrorIs(t, err, ErrInvalidAxis)
}

func TestSimulator_MoveToHonoursCancelledContext(t *testing.T) {
	s := NewSimulator(DefaultEnvelope)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.MoveTo(ctx, 10, 10)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, types.Position{}, s.Position())
}
