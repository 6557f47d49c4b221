package handlers

import (
	"aoi-edge/internal/event"
	"aoi-edge/internal/metrics"
	"log/slog"
)

// StateBroadcaster 把运行状态推送给前端 (web.Hub)
type StateBroadcaster interface {
	BroadcastState(state any)
}

// RegisterEventHandlers 将所有事件处理器注册到事件总线
// 监控、UI 推送和审计日志各自订阅，互不影响运行本身
func RegisterEventHandlers(bus *event.Bus, ui StateBroadcaster, logger *slog.Logger) {
	logger = logger.With("component", "audit")

	// --- 指标处理器 (Metrics Handler) ---
	bus.Subscribe(event.RunStarted, func(e event.Event) {
		metrics.ActiveRuns.Set(1)
	})
	bus.Subscribe(event.RunFinished, func(e event.Event) {
		metrics.ActiveRuns.Set(0)
		metrics.RunsTotal.WithLabelValues(string(e.Status)).Inc()
	})
	// 记录点位判定、节拍耗时和移动距离
	bus.Subscribe(event.PointInspected, func(e event.Event) {
		if e.Result != nil {
			metrics.PointsInspectedTotal.WithLabelValues(string(e.Result.Verdict)).Inc()
		}
		metrics.PointDuration.Observe(e.Duration.Seconds())
		metrics.TravelDistanceTotal.Add(e.Distance)
	})
	bus.Subscribe(event.ReportFailed, func(e event.Event) {
		metrics.ReportWriteFailuresTotal.Inc()
	})

	// --- Web UI 处理器 (Web UI Handler) ---
	// 每次状态变化都推送完整快照
	for _, t := range []event.EventType{event.RunStarted, event.PointInspected, event.RunFinished} {
		bus.Subscribe(t, func(e event.Event) {
			ui.BroadcastState(e.State)
		})
	}

	// --- 日志处理器 (Logging Handler) ---
	bus.Subscribe(event.RunStarted, func(e event.Event) {
		logger.Info("运行开始", "run_id", e.RunID, "part_no", e.State.Metadata.PartNo, "batch_no", e.State.Metadata.BatchNo, "total_points", e.State.TotalPoints)
	})
	bus.Subscribe(event.RunFinished, func(e event.Event) {
		if e.Error != nil {
			logger.Error("运行失败", "run_id", e.RunID, "error", e.Error, "results", len(e.State.Results))
			return
		}
		logger.Info("运行结束", "run_id", e.RunID, "status", e.Status, "results", len(e.State.Results), "stopped", e.State.StopRequested)
	})
	bus.Subscribe(event.ReportFailed, func(e event.Event) {
		logger.Error("报告落盘失败", "run_id", e.RunID, "error", e.Error)
	})
}
