package fsm

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFSM() *FSM {
	return NewFSM(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

func TestFSM_RunLifecycle(t *testing.T) {
	f := newTestFSM()
	require.Equal(t, StateIdle, f.Current())

	var entered []string
	f.RegisterCallback(StateCompleted, func(id string) { entered = append(entered, "completed:"+id) })
	f.RegisterCallback(StateError, func(id string) { entered = append(entered, "error:"+id) })

	require.NoError(t, f.Fire(EventStart, "run-1"))
	require.Equal(t, StateRunning, f.Current())
	require.NoError(t, f.Fire(EventFinish, ""))
	require.Equal(t, StateCompleted, f.Current())

	require.NoError(t, f.Fire(EventStart, "run-2"))
	require.NoError(t, f.Fire(EventFail, ""))
	require.Equal(t, StateError, f.Current())

	require.Equal(t, []string{"completed:run-1", "error:run-2"}, entered)
}

func TestFSM_InvalidTransition(t *testing.T) {
	f := newTestFSM()
	require.Error(t, f.Fire(EventFinish, ""))
	require.Equal(t, StateIdle, f.Current())

	require.NoError(t, f.Fire(EventStart, "run-1"))
	require.Error(t, f.Fire(EventStart, "run-2"))
	require.Equal(t, StateRunning, f.Current())
}
