package orchestrator

import (
	"aoi-edge/internal/event"
	"aoi-edge/internal/fsm"
	"aoi-edge/internal/types"
	"aoi-edge/internal/util"
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// execute 是运行的后台协程主体
func (o *Orchestrator) execute(runID string, points []types.Point, meta types.RunMetadata, done chan struct{}) {
	defer close(done)

	// 生成 Trace ID 并注入 Context，串联本次运行的日志和远程推理调用
	traceID := util.NewTraceID()
	ctx := util.ContextWithTraceID(context.Background(), traceID)
	logger := o.logger.With("run_id", runID, "trace_id", traceID)

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
				logger.Error("运行中发生 panic", "panic", r)
			}
		}()
		runErr = o.inspectAll(ctx, logger, runID, points)
	}()

	o.finish(logger, runID, meta, runErr)
}

func (o *Orchestrator) inspectAll(ctx context.Context, logger *slog.Logger, runID string, points []types.Point) error {
	for i, p := range points {
		if o.stopRequested() {
			logger.Info("运行已按请求停止", "completed", i, "total", len(points))
			return nil
		}
		start := time.Now()
		entry, distance, err := o.inspectPoint(ctx, runID, p)
		if err != nil {
			logger.Error("点位检测失败", "point_id", p.ID, "error", err)
			return fmt.Errorf("point %d: %w", p.ID, err)
		}

		o.mu.Lock()
		o.state.Results = append(o.state.Results, entry)
		o.state.CurrentIndex = len(o.state.Results)
		snapshot := o.state.Clone()
		o.mu.Unlock()

		if o.wal != nil {
			if err := o.wal.Point(runID, entry); err != nil {
				logger.Error("写入 WAL 失败", "error", err, "point_id", p.ID)
			}
		}

		logger.Info("点位检测完成", "point_id", p.ID, "result", entry.Verdict, "detections", len(entry.Detections))
		o.publish(event.Event{
			Type:     event.PointInspected,
			RunID:    runID,
			State:    snapshot,
			Result:   &entry,
			Duration: time.Since(start),
			Distance: distance,
		})

		// 点间停顿放在本点结束之后，停顿期间的停止请求由下一轮开头的检查处理
		if i < len(points)-1 && o.cfg.InterPointDelayMs > 0 {
			time.Sleep(time.Duration(o.cfg.InterPointDelayMs) * time.Millisecond)
		}
	}
	return nil
}

// inspectPoint 执行单个点位: 移动 → 等待到位 → 清缓存帧 → 拍照 → 推理 → 存图
func (o *Orchestrator) inspectPoint(ctx context.Context, runID string, p types.Point) (types.ResultEntry, float64, error) {
	from := o.motion.Position()
	distance := math.Hypot(p.X-from.X, p.Y-from.Y)

	if _, err := o.motion.MoveTo(ctx, p.X, p.Y); err != nil {
		return types.ResultEntry{}, 0, fmt.Errorf("motion: %w", err)
	}
	time.Sleep(o.travelTime(distance))

	if err := o.camera.Flush(ctx, o.cfg.FlushFrames); err != nil {
		return types.ResultEntry{}, distance, fmt.Errorf("camera flush: %w", err)
	}
	img, err := o.camera.Capture(ctx)
	if err != nil {
		return types.ResultEntry{}, distance, fmt.Errorf("camera capture: %w", err)
	}

	cls, err := o.classifier.Classify(ctx, img)
	if err != nil {
		return types.ResultEntry{}, distance, fmt.Errorf("inference: %w", err)
	}

	rel, err := o.store.SaveImage(runID, p.ID, img)
	if err != nil {
		return types.ResultEntry{}, distance, fmt.Errorf("save image: %w", err)
	}

	detections := cls.Detections
	if detections == nil {
		detections = []types.Detection{}
	}
	return types.ResultEntry{
		PointID:    p.ID,
		X:          p.X,
		Y:          p.Y,
		Verdict:    cls.Verdict,
		Detections: detections,
		ImagePath:  rel,
	}, distance, nil
}

// travelTime 估算移动耗时: 距离 / 进给速度 + 稳定时间
func (o *Orchestrator) travelTime(distance float64) time.Duration {
	d := time.Duration(o.cfg.SettleMs) * time.Millisecond
	if o.cfg.FeedRate > 0 {
		d += time.Duration(distance / o.cfg.FeedRate * float64(time.Second))
	}
	return d
}

func (o *Orchestrator) stopRequested() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.StopRequested
}

// finish 写报告 → 记录 WAL 完成 → 清除 Running，顺序不可调换：
// 观察到 Running=false 的读者一定能读到报告
func (o *Orchestrator) finish(logger *slog.Logger, runID string, meta types.RunMetadata, runErr error) {
	status := types.RunCompleted
	errMsg := ""
	if runErr != nil {
		status = types.RunError
		errMsg = runErr.Error()
	}

	o.mu.Lock()
	o.state.LastError = errMsg
	rep := types.RunReport{
		Metadata:    meta,
		TotalPoints: o.state.TotalPoints,
		Results:     o.state.Clone().Results,
		CompletedAt: o.now(),
		Status:      status,
		Error:       errMsg,
	}
	o.mu.Unlock()

	reportErr := o.store.Save(runID, rep)
	if reportErr != nil {
		logger.Error("写入报告失败", "error", reportErr)
	} else if o.wal != nil {
		// 报告写入失败时不标记完成，下次启动时由 Recover 补写
		if err := o.wal.Complete(runID); err != nil {
			logger.Error("写入 WAL 失败", "error", err)
		}
	}

	o.mu.Lock()
	ev := fsm.EventFinish
	if runErr != nil {
		ev = fsm.EventFail
	}
	if err := o.lifecycle.Fire(ev, ""); err != nil {
		logger.Error("状态转移失败", "error", err)
	}
	o.state.State = string(o.lifecycle.Current())
	if reportErr != nil {
		o.state.ReportError = reportErr.Error()
	}
	o.state.Running = false
	snapshot := o.state.Clone()
	o.mu.Unlock()

	if reportErr != nil {
		o.publish(event.Event{Type: event.ReportFailed, RunID: runID, State: snapshot, Error: reportErr})
	}
	logger.Info("检测运行结束", "status", status, "results", len(rep.Results), "ng", rep.NGCount(), "error", errMsg)
	o.publish(event.Event{Type: event.RunFinished, RunID: runID, State: snapshot, Status: status, Error: runErr})
}
