package orchestrator

import (
	"aoi-edge/internal/event"
	"aoi-edge/internal/fsm"
	"aoi-edge/internal/metrics"
	"aoi-edge/internal/persistence"
	"aoi-edge/internal/report"
	"aoi-edge/internal/types"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	orch       *Orchestrator
	motion     *fakeMotion
	camera     *fakeCamera
	classifier *fakeClassifier
	store      *report.Store
	wal        *persistence.WAL
	walPath    string
	bus        *event.Bus
}

func newTestEnv(t *testing.T, motion *fakeMotion, classifier *fakeClassifier) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	dir := t.TempDir()

	store, err := report.NewStore(filepath.Join(dir, "history"), logger)
	require.NoError(t, err)
	walPath := filepath.Join(dir, "runs.wal")
	wal, err := persistence.NewWAL(walPath)
	require.NoError(t, err)
	t.Cleanup(func() { wal.Close() })

	if motion == nil {
		motion = &fakeMotion{}
	}
	if classifier == nil {
		classifier = &fakeClassifier{}
	}
	env := &testEnv{
		motion:     motion,
		camera:     &fakeCamera{},
		classifier: classifier,
		store:      store,
		wal:        wal,
		walPath:    walPath,
		bus:        event.NewBus(),
	}
	env.orch = New(Config{FlushFrames: 3}, Deps{
		Motion:     env.motion,
		Camera:     env.camera,
		Classifier: env.classifier,
		Store:      store,
		WAL:        wal,
		Bus:        env.bus,
		Logger:     logger,
	})
	return env
}

func threePoints() []types.Point {
	return []types.Point{
		{ID: 1, X: 10, Y: 10, Kind: types.KindInspection},
		{ID: 2, X: 20, Y: 10, Kind: types.KindInspection},
		{ID: 3, X: 20, Y: 30, Kind: types.KindInspection},
	}
}

func TestOrchestrator_CompletesRunAndWritesReport(t *testing.T) {
	env := newTestEnv(t, nil, &fakeClassifier{ngOn: map[int]bool{2: true}})

	var finished atomic.Int32
	env.bus.Subscribe(event.RunFinished, func(e event.Event) { finished.Add(1) })

	n, err := env.orch.Start(threePoints(), types.RunMetadata{PartNo: "P-100", BatchNo: "B-1"})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	env.orch.Wait()

	st := env.orch.Status()
	require.False(t, st.Running)
	require.Equal(t, string(fsm.StateCompleted), st.State)
	require.Equal(t, 3, st.CurrentIndex)
	require.Len(t, st.Results, 3)
	require.Empty(t, st.LastError)
	require.Empty(t, st.ReportError)

	require.Equal(t, []types.Position{{X: 10, Y: 10}, {X: 20, Y: 10}, {X: 20, Y: 30}}, env.motion.Visited())
	require.Equal(t, []int{3, 3, 3}, env.camera.flushed)

	rep, err := env.store.Get(st.RunID)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, rep.Status)
	require.Equal(t, 3, rep.TotalPoints)
	require.Equal(t, "P-100", rep.Metadata.PartNo)
	require.False(t, rep.Metadata.StartTime.IsZero())
	require.Len(t, rep.Results, 3)
	require.Equal(t, types.VerdictNG, rep.Results[1].Verdict)
	require.Equal(t, 1, rep.NGCount())
	require.Equal(t, st.RunID+"/2.jpg", rep.Results[1].ImagePath)
	require.NotNil(t, rep.Results[0].Detections)

	env.bus.Drain()
	require.EqualValues(t, 1, finished.Load())

	// 已完成的运行不应被恢复
	recovered, err := env.orch.Recover()
	require.NoError(t, err)
	require.Zero(t, recovered)
}

func TestOrchestrator_RejectedStartLeavesStateUnchanged(t *testing.T) {
	motion := newGatedMotion()
	env := newTestEnv(t, motion, nil)

	_, err := env.orch.Start(threePoints(), types.RunMetadata{PartNo: "first"})
	require.NoError(t, err)
	<-motion.entered

	before := env.orch.Status()
	n, err := env.orch.Start(threePoints()[:1], types.RunMetadata{PartNo: "second"})
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Zero(t, n)
	require.Equal(t, before, env.orch.Status())

	close(motion.gate)
	env.orch.Wait()
	require.Equal(t, "first", env.orch.Status().Metadata.PartNo)
	require.Len(t, env.orch.Status().Results, 3)
}

func TestOrchestrator_StopIsIdempotent(t *testing.T) {
	motion := newGatedMotion()
	env := newTestEnv(t, motion, nil)

	// 空闲时 Stop 无操作
	env.orch.Stop()
	require.False(t, env.orch.Status().StopRequested)

	_, err := env.orch.Start(threePoints(), types.RunMetadata{})
	require.NoError(t, err)
	<-motion.entered

	env.orch.Stop()
	env.orch.Stop()
	close(motion.gate)
	env.orch.Wait()

	st := env.orch.Status()
	require.False(t, st.Running)
	require.True(t, st.StopRequested)
	require.Equal(t, len(st.Results), st.CurrentIndex)
	require.Equal(t, 1, st.CurrentIndex)
	require.Empty(t, st.LastError)

	rep, err := env.store.Get(st.RunID)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, rep.Status)
	require.Len(t, rep.Results, 1)
	require.Equal(t, 3, rep.TotalPoints)

	env.orch.Stop()
	require.Equal(t, st, env.orch.Status())
}

func TestOrchestrator_InferenceFailureProducesErrorReport(t *testing.T) {
	env := newTestEnv(t, nil, &fakeClassifier{failOn: 2})

	_, err := env.orch.Start(threePoints(), types.RunMetadata{})
	require.NoError(t, err)
	env.orch.Wait()

	st := env.orch.Status()
	require.False(t, st.Running)
	require.Equal(t, string(fsm.StateError), st.State)
	require.Contains(t, st.LastError, "point 2")
	require.Contains(t, st.LastError, "inference backend unavailable")
	require.Len(t, st.Results, 1)
	require.Equal(t, 1, st.CurrentIndex)

	rep, err := env.store.Get(st.RunID)
	require.NoError(t, err)
	require.Equal(t, types.RunError, rep.Status)
	require.Equal(t, st.LastError, rep.Error)
	require.Len(t, rep.Results, 1)
	require.Equal(t, 1, rep.Results[0].PointID)
}

func TestOrchestrator_PanicIsRecovered(t *testing.T) {
	env := newTestEnv(t, nil, &fakeClassifier{panicOn: 1})

	_, err := env.orch.Start(threePoints(), types.RunMetadata{})
	require.NoError(t, err)
	env.orch.Wait()

	st := env.orch.Status()
	require.False(t, st.Running)
	require.Contains(t, st.LastError, "model crashed")

	rep, err := env.store.Get(st.RunID)
	require.NoError(t, err)
	require.Equal(t, types.RunError, rep.Status)
	require.Empty(t, rep.Results)

	// 失败之后可以再次开始
	_, err = env.orch.Start(threePoints()[:1], types.RunMetadata{})
	require.NoError(t, err)
	env.orch.Wait()
	require.Empty(t, env.orch.Status().LastError)
}

func TestOrchestrator_ZeroPointsStillWritesReport(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	n, err := env.orch.Start(nil, types.RunMetadata{PartNo: "empty"})
	require.NoError(t, err)
	require.Zero(t, n)
	env.orch.Wait()

	st := env.orch.Status()
	rep, err := env.store.Get(st.RunID)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, rep.Status)
	require.Empty(t, rep.Results)
	require.NotNil(t, rep.Results)
}

func TestOrchestrator_ReportFailureIsSeparateFromRunOutcome(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.orch.store = failingSaveStore{Store: env.store}

	var reportFailed atomic.Int32
	env.bus.Subscribe(event.ReportFailed, func(e event.Event) { reportFailed.Add(1) })

	_, err := env.orch.Start(threePoints(), types.RunMetadata{})
	require.NoError(t, err)
	env.orch.Wait()

	st := env.orch.Status()
	require.False(t, st.Running)
	require.Empty(t, st.LastError)
	require.Contains(t, st.ReportError, "disk full")
	require.Equal(t, string(fsm.StateCompleted), st.State)

	env.bus.Drain()
	require.EqualValues(t, 1, reportFailed.Load())

	// 报告没写成功，运行在 WAL 中保持未完成，重启后由 Recover 补写
	env.orch.store = env.store
	recovered, err := env.orch.Recover()
	require.NoError(t, err)
	require.Equal(t, 1, recovered)
	rep, err := env.store.Get(st.RunID)
	require.NoError(t, err)
	require.Equal(t, "interrupted", rep.Error)
	require.Len(t, rep.Results, 3)
}

func TestOrchestrator_RecoverInterruptedRun(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	// 模拟上一次进程在第 2 个点位之前崩溃
	meta := types.RunMetadata{PartNo: "P-9", StartTime: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	runID := report.NewRunID(meta.StartTime)
	require.NoError(t, env.wal.Start(runID, meta, 4))
	require.NoError(t, env.wal.Point(runID, types.ResultEntry{PointID: 1, Verdict: types.VerdictOK, Detections: []types.Detection{}}))

	recovered, err := env.orch.Recover()
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	rep, err := env.store.Get(runID)
	require.NoError(t, err)
	require.Equal(t, types.RunError, rep.Status)
	require.Equal(t, "interrupted", rep.Error)
	require.Equal(t, 4, rep.TotalPoints)
	require.Equal(t, "P-9", rep.Metadata.PartNo)
	require.Len(t, rep.Results, 1)

	recovered, err = env.orch.Recover()
	require.NoError(t, err)
	require.Zero(t, recovered)

	info, err := os.Stat(env.walPath)
	require.NoError(t, err)
	require.Zero(t, info.Size())
}

func TestOrchestrator_RunIDsWithinSameSecondDoNotCollide(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	env.orch.now = func() time.Time { return fixed }

	_, err := env.orch.Start(threePoints()[:1], types.RunMetadata{})
	require.NoError(t, err)
	env.orch.Wait()
	first := env.orch.Status().RunID

	_, err = env.orch.Start(threePoints()[:1], types.RunMetadata{})
	require.NoError(t, err)
	env.orch.Wait()
	second := env.orch.Status().RunID

	require.Equal(t, "20260601_120000", first)
	require.Equal(t, "20260601_120000_002", second)

	// 同一秒内第 10 次以后的运行仍按启动顺序排在最前
	for i := 3; i <= 11; i++ {
		_, err = env.orch.Start(threePoints()[:1], types.RunMetadata{})
		require.NoError(t, err)
		env.orch.Wait()
	}
	require.Equal(t, "20260601_120000_011", env.orch.Status().RunID)

	runs, err := env.store.List()
	require.NoError(t, err)
	require.Len(t, runs, 11)
	require.Equal(t, "20260601_120000_011", runs[0].RunID)
	require.Equal(t, "20260601_120000_010", runs[1].RunID)
	require.Equal(t, "20260601_120000", runs[10].RunID)
}

func TestOrchestrator_StopDuringInterPointDelay(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.orch.cfg.InterPointDelayMs = 400

	_, err := env.orch.Start(threePoints(), types.RunMetadata{})
	require.NoError(t, err)

	// 第一个点完成后进入点间停顿
	require.Eventually(t, func() bool {
		return env.orch.Status().CurrentIndex == 1
	}, 2*time.Second, 5*time.Millisecond)
	env.orch.Stop()
	env.orch.Wait()

	st := env.orch.Status()
	require.Len(t, st.Results, 1)
	require.Equal(t, 1, st.CurrentIndex)
	require.Equal(t, []types.Position{{X: 10, Y: 10}}, env.motion.Visited())

	rep, err := env.store.Get(st.RunID)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, rep.Status)
	require.Len(t, rep.Results, 1)
}

func TestOrchestrator_TravelTime(t *testing.T) {
	o := &Orchestrator{cfg: Config{FeedRate: 50, SettleMs: 200}}
	require.Equal(t, 2*time.Second+200*time.Millisecond, o.travelTime(100))

	o.cfg.FeedRate = 0
	require.Equal(t, 200*time.Millisecond, o.travelTime(100))
}

func TestOrchestrator_LifecycleStateEntriesAreCounted(t *testing.T) {
	env := newTestEnv(t, nil, &fakeClassifier{failOn: 2})
	entries := func(s fsm.State) float64 {
		return testutil.ToFloat64(metrics.RunStateEntriesTotal.WithLabelValues(string(s)))
	}
	runningBefore := entries(fsm.StateRunning)
	completedBefore := entries(fsm.StateCompleted)
	errorBefore := entries(fsm.StateError)

	// 第一次运行成功，第二次运行在第二次推理时失败
	for range 2 {
		_, err := env.orch.Start(threePoints()[:1], types.RunMetadata{})
		require.NoError(t, err)
		env.orch.Wait()
	}

	require.Equal(t, runningBefore+2, entries(fsm.StateRunning))
	require.Equal(t, completedBefore+1, entries(fsm.StateCompleted))
	require.Equal(t, errorBefore+1, entries(fsm.StateError))
}
