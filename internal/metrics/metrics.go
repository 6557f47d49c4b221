package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 定义 Prometheus 监控指标
var (
	// ActiveRuns 仪表盘：当前正在执行的运行数 (0 或 1)
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aoi_active_runs",
		Help: "Whether an inspection run is currently executing",
	})

	// RunsTotal 计数器：结束的运行总数
	// 按结果 (completed/error) 分类
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aoi_runs_total",
		Help: "The total number of finished inspection runs",
	}, []string{"status"})

	// PointsInspectedTotal 计数器：检测点位总数，按判定 (OK/NG) 分类
	PointsInspectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aoi_points_inspected_total",
		Help: "The total number of inspected points",
	}, []string{"result"})

	// PointDuration 直方图：单点流水线 (移动、拍照、推理、存图) 耗时分布
	// 用于分析节拍瓶颈
	PointDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aoi_point_duration_seconds",
		Help:    "Time spent on each inspection point",
		Buckets: prometheus.DefBuckets,
	})

	// TravelDistanceTotal 计数器：累计移动距离
	TravelDistanceTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aoi_travel_distance_mm_total",
		Help: "Total gantry travel distance in millimetres",
	})

	// RunStateEntriesTotal 计数器：运行生命周期进入各状态的次数
	RunStateEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aoi_run_state_entries_total",
		Help: "The number of times the run lifecycle entered each state",
	}, []string{"state"})

	// ReportWriteFailuresTotal 计数器：报告写入失败次数
	ReportWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aoi_report_write_failures_total",
		Help: "The number of run reports that could not be persisted",
	})
)
