// Package orchestrator 负责检测运行的调度：同一时刻最多一个运行，
// 逐点执行 移动 → 拍照 → 推理 → 存图，并在结束时落盘报告
package orchestrator

import (
	"aoi-edge/internal/event"
	"aoi-edge/internal/fsm"
	"aoi-edge/internal/metrics"
	"aoi-edge/internal/persistence"
	"aoi-edge/internal/report"
	"aoi-edge/internal/types"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRunning 表示已有运行在执行中
var ErrAlreadyRunning = errors.New("an inspection run is already in progress")

// Motion 是运动平台
type Motion interface {
	MoveTo(ctx context.Context, x, y float64) (types.Position, error)
	Position() types.Position
}

// Camera 是图像源
type Camera interface {
	Flush(ctx context.Context, n int) error
	Capture(ctx context.Context) (image.Image, error)
}

// Classifier 是推理引擎
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (types.Classification, error)
}

// Store 是运行历史存储
type Store interface {
	CreateRun(runID string) error
	SaveImage(runID string, pointID int, img image.Image) (string, error)
	Save(runID string, rep types.RunReport) error
}

// Config 定义编排器配置
type Config struct {
	FeedRate          float64 `mapstructure:"feed_rate"`            // 进给速度 mm/s，用于估算移动耗时
	SettleMs          int     `mapstructure:"settle_ms"`            // 到位后的稳定时间
	InterPointDelayMs int     `mapstructure:"inter_point_delay_ms"` // 点位之间的间隔
	FlushFrames       int     `mapstructure:"flush_frames"`         // 拍照前丢弃的缓存帧数
}

// Deps 汇总编排器的协作者，WAL 和 Bus 可以为 nil
type Deps struct {
	Motion     Motion
	Camera     Camera
	Classifier Classifier
	Store      Store
	WAL        *persistence.WAL
	Bus        *event.Bus
	Logger     *slog.Logger
}

// Orchestrator 单飞 (single-flight) 运行编排器
// JobState 只由后台协程写入，StopRequested 除外
type Orchestrator struct {
	mu    sync.RWMutex
	state types.JobState
	done  chan struct{} // 当前运行结束时关闭

	lastBase string // 上一次运行编号的时间部分
	seq      int    // 同一秒内的第几次运行

	cfg        Config
	motion     Motion
	camera     Camera
	classifier Classifier
	store      Store
	wal        *persistence.WAL
	bus        *event.Bus
	lifecycle  *fsm.FSM
	logger     *slog.Logger
	now        func() time.Time
}

// New 创建编排器
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.FlushFrames < 0 {
		cfg.FlushFrames = 0
	}
	logger := deps.Logger.With("component", "orchestrator")
	lifecycle := fsm.NewFSM(deps.Logger)
	for _, s := range []fsm.State{fsm.StateRunning, fsm.StateCompleted, fsm.StateError} {
		lifecycle.RegisterCallback(s, func(runID string) {
			metrics.RunStateEntriesTotal.WithLabelValues(string(s)).Inc()
			if s == fsm.StateError {
				logger.Warn("运行进入错误状态", "run_id", runID)
			}
		})
	}
	return &Orchestrator{
		state:      types.JobState{State: string(lifecycle.Current()), Results: []types.ResultEntry{}},
		cfg:        cfg,
		motion:     deps.Motion,
		camera:     deps.Camera,
		classifier: deps.Classifier,
		store:      deps.Store,
		wal:        deps.WAL,
		bus:        deps.Bus,
		lifecycle:  lifecycle,
		logger:     logger,
		now:        time.Now,
	}
}

// Start 接受一组 (已校正到机械坐标的) 点位并在后台开始运行，立即返回接受的点数
// 已有运行时返回 ErrAlreadyRunning，状态不发生任何变化
func (o *Orchestrator) Start(points []types.Point, meta types.RunMetadata) (int, error) {
	o.mu.Lock()
	if o.state.Running {
		o.mu.Unlock()
		return 0, ErrAlreadyRunning
	}

	if meta.StartTime.IsZero() {
		meta.StartTime = o.now()
	}
	runID := o.nextRunID(meta.StartTime)
	if err := o.store.CreateRun(runID); err != nil {
		o.mu.Unlock()
		return 0, fmt.Errorf("创建运行目录失败: %w", err)
	}
	if err := o.lifecycle.Fire(fsm.EventStart, runID); err != nil {
		o.mu.Unlock()
		return 0, err
	}

	pts := append([]types.Point(nil), points...)
	o.state = types.JobState{
		Running:     true,
		State:       string(o.lifecycle.Current()),
		TotalPoints: len(pts),
		Results:     []types.ResultEntry{},
		RunID:       runID,
		Metadata:    meta,
	}

	// 先写入 WAL，崩溃后可以补写报告
	if o.wal != nil {
		if err := o.wal.Start(runID, meta, len(pts)); err != nil {
			o.logger.Error("写入 WAL 失败", "error", err, "run_id", runID)
		}
	}

	done := make(chan struct{})
	o.done = done
	snapshot := o.state.Clone()
	go o.execute(runID, pts, meta, done)
	o.mu.Unlock()

	o.logger.Info("检测运行已启动", "run_id", runID, "points", len(pts), "part_no", meta.PartNo, "batch_no", meta.BatchNo)
	o.publish(event.Event{Type: event.RunStarted, RunID: runID, State: snapshot})
	return len(pts), nil
}

// Stop 请求停止当前运行，在下一个点位边界生效；空闲时无操作，可重复调用
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Running && !o.state.StopRequested {
		o.state.StopRequested = true
		o.logger.Info("收到停止请求", "run_id", o.state.RunID)
	}
}

// Status 返回当前状态的深拷贝
func (o *Orchestrator) Status() types.JobState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Clone()
}

// Wait 阻塞直到当前运行 (如果有) 结束，用于停机和测试
func (o *Orchestrator) Wait() {
	o.mu.RLock()
	done := o.done
	o.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// Recover 为 WAL 中已开始但未结束的运行补写 error 报告，返回补写的数量
// 在系统启动、接受新运行之前调用
func (o *Orchestrator) Recover() (int, error) {
	if o.wal == nil {
		return 0, nil
	}
	runs, err := o.wal.Recover()
	if err != nil {
		return 0, fmt.Errorf("读取 WAL 失败: %w", err)
	}

	var errs []error
	for _, run := range runs {
		results := run.Results
		if results == nil {
			results = []types.ResultEntry{}
		}
		rep := types.RunReport{
			Metadata:    run.Metadata,
			TotalPoints: run.TotalPoints,
			Results:     results,
			CompletedAt: o.now(),
			Status:      types.RunError,
			Error:       "interrupted",
		}
		if err := o.store.CreateRun(run.RunID); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := o.store.Save(run.RunID, rep); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := o.wal.Complete(run.RunID); err != nil {
			errs = append(errs, err)
			continue
		}
		o.logger.Warn("补写中断运行的报告", "run_id", run.RunID, "results", len(results), "total_points", run.TotalPoints)
	}

	if len(errs) > 0 {
		return len(runs), errors.Join(errs...)
	}
	// 所有运行都已闭合，日志可以清空
	if err := o.wal.Compact(); err != nil {
		o.logger.Warn("压缩 WAL 失败", "error", err)
	}
	return len(runs), nil
}

// nextRunID 同一秒内再次启动时追加序号，避免覆盖上一次的运行目录
// 调用方需持有 o.mu
func (o *Orchestrator) nextRunID(start time.Time) string {
	base := report.NewRunID(start)
	if base != o.lastBase {
		o.lastBase, o.seq = base, 1
		return base
	}
	o.seq++
	return fmt.Sprintf("%s_%03d", base, o.seq)
}

func (o *Orchestrator) publish(e event.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}
