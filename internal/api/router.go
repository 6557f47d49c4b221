// Package api 把编排器、历史、运动平台和示教程序暴露为 HTTP 接口
package api

import (
	"aoi-edge/internal/alignment"
	"aoi-edge/internal/motion"
	"aoi-edge/internal/orchestrator"
	"aoi-edge/internal/planner"
	"aoi-edge/internal/program"
	"aoi-edge/internal/report"
	"aoi-edge/internal/util"
	"aoi-edge/internal/web"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBodySize = 1 << 20 // 1MB

// errBadRequest 标记无法解析的请求体或参数
var errBadRequest = errors.New("bad request")

// Deps 汇总 HTTP 层需要的组件
type Deps struct {
	Orchestrator  *orchestrator.Orchestrator
	Reports       *report.Store
	Motion        *motion.Simulator
	Camera        orchestrator.Camera
	Classifier    orchestrator.Classifier
	Session       *program.Session
	Programs      *program.Store
	Hub           *web.Hub
	FOV           planner.FOV
	MaxScanPoints int // 单次扫描规划的点位上限
	Logger        *slog.Logger
}

// NewRouter 创建 HTTP 路由
func NewRouter(deps Deps) http.Handler {
	h := &handler{Deps: deps, logger: deps.Logger.With("component", "api")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.trace)

	r.Get("/api/health", h.health)
	r.Post("/api/scan/preview", h.scanPreview)

	r.Route("/api/orchestrator", func(r chi.Router) {
		r.Post("/start", h.startRun)
		r.Post("/stop", h.stopRun)
		r.Get("/status", h.runStatus)
		r.Get("/history", h.listHistory)
		r.Get("/history/{runID}", h.getHistory)
		r.Post("/history/{runID}/override", h.overrideResult)
	})

	r.Route("/api/motion", func(r chi.Router) {
		r.Get("/status", h.motionStatus)
		r.Post("/jog", h.jog)
		r.Post("/home", h.home)
		r.Post("/zero", h.zero)
	})

	r.Get("/api/camera/snapshot", h.snapshot)
	r.Post("/api/inference/detect", h.detect)

	r.Route("/api/program", func(r chi.Router) {
		r.Get("/current", h.currentProgram)
		r.Post("/record/ref/{idx}", h.recordRef)
		r.Post("/record/point", h.recordPoint)
		r.Delete("/clear", h.clearProgram)
		r.Post("/align", h.align)
		r.Get("/list", h.listPrograms)
		r.Post("/save/{name}", h.saveProgram)
		r.Post("/load/{name}", h.loadProgram)
		r.Get("/export/{name}/gcode", h.exportGCode)
		r.Delete("/{name}", h.deleteProgram)
	})

	// 运行图像，report.json 中的 image_path 相对于此目录
	r.Handle("/data/history/*", http.StripPrefix("/data/history/", http.FileServer(http.Dir(deps.Reports.Root()))))

	r.Handle("/metrics", promhttp.Handler())
	if deps.Hub != nil {
		r.Get("/ws", deps.Hub.ServeWs)
	}
	return r
}

type handler struct {
	Deps
	logger *slog.Logger
}

// trace 沿用调用方的 X-Trace-ID，没有则生成一个，并记录请求日志
func (h *handler) trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = util.NewTraceID()
		}
		w.Header().Set("X-Trace-ID", traceID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(util.ContextWithTraceID(r.Context(), traceID)))
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"trace_id", traceID,
		)
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": "simulation"})
}

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, alignment.ErrInsufficientPoints),
		errors.Is(err, planner.ErrInvalidConfig),
		errors.Is(err, report.ErrInvalidVerdict),
		errors.Is(err, report.ErrInvalidRunID),
		errors.Is(err, program.ErrInvalidRefIndex),
		errors.Is(err, program.ErrInvalidName),
		errors.Is(err, motion.ErrInvalidAxis):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, report.ErrNotFound), errors.Is(err, program.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		traceID, _ := util.TraceIDFromContext(r.Context())
		h.logger.Error("请求处理失败", "path", r.URL.Path, "error", err, "trace_id", traceID)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON 解析请求体，失败时返回包装了 errBadRequest 的错误
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}
