package main

import (
	"aoi-edge/internal/report"
	"aoi-edge/internal/types"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, historyDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "data:\n  history_dir: " + historyDir + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestPlanCommand(t *testing.T) {
	path := writeConfig(t, t.TempDir())

	out, err := execute(t, "plan", "--config", path, "--width", "80", "--height", "60", "--overlap", "0", "--offset-x", "5")
	require.NoError(t, err)

	var pts []types.ScanPoint
	require.NoError(t, json.Unmarshal([]byte(out), &pts))
	require.Len(t, pts, 4)
	require.Equal(t, types.ScanPoint{ID: 2, WorkX: 40, WorkY: 0, MachineX: 45, MachineY: 0}, pts[1])

	_, err = execute(t, "plan", "--config", path, "--width", "80", "--height", "60", "--overlap", "1")
	require.Error(t, err)
}

func TestHistoryCommands(t *testing.T) {
	dir := t.TempDir()
	store, err := report.NewStore(dir, slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	require.NoError(t, err)
	require.NoError(t, store.CreateRun("20260301_080000"))
	require.NoError(t, store.Save("20260301_080000", types.RunReport{
		Metadata:    types.RunMetadata{PartNo: "P-42", BatchNo: "B-1"},
		TotalPoints: 1,
		Results:     []types.ResultEntry{{PointID: 1, Verdict: types.VerdictNG, Detections: []types.Detection{}}},
		CompletedAt: time.Date(2026, 3, 1, 8, 1, 0, 0, time.UTC),
		Status:      types.RunCompleted,
	}))
	path := writeConfig(t, dir)

	out, err := execute(t, "history", "list", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, "20260301_080000")
	require.Contains(t, out, "P-42")

	out, err = execute(t, "history", "show", "20260301_080000", "--config", path)
	require.NoError(t, err)
	var rep types.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Equal(t, types.VerdictNG, rep.Results[0].Verdict)

	_, err = execute(t, "history", "show", "20990101_000000", "--config", path)
	require.ErrorIs(t, err, report.ErrNotFound)
}
