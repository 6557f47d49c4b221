package api

import (
	"aoi-edge/internal/planner"
	"aoi-edge/internal/types"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// startRequest 是开始运行的请求体
type startRequest struct {
	Points  []types.Point `json:"points"`
	PartNo  string        `json:"part_no"`
	BatchNo string        `json:"batch_no"`
}

type overrideRequest struct {
	PointID int           `json:"point_id"`
	Verdict types.Verdict `json:"result"`
}

func (h *handler) scanPreview(w http.ResponseWriter, r *http.Request) {
	cfg := types.ScanConfig{Overlap: 0.1} // 未指定时 10% 重叠
	if err := decodeJSON(w, r, &cfg); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := planner.Validate(cfg, h.FOV, h.MaxScanPoints); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, planner.Plan(cfg, h.FOV, h.Motion.Offset()))
}

func (h *handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := h.Orchestrator.Start(req.Points, types.RunMetadata{
		PartNo:    req.PartNo,
		BatchNo:   req.BatchNo,
		StartTime: time.Now(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "points": n})
}

func (h *handler) stopRun(w http.ResponseWriter, r *http.Request) {
	h.Orchestrator.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (h *handler) runStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.Status())
}

func (h *handler) listHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Reports.List()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reports.Get(chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handler) overrideResult(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	runID := chi.URLParam(r, "runID")
	entry, err := h.Reports.OverrideResult(runID, req.PointID, req.Verdict)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("人工复判", "run_id", runID, "point_id", req.PointID, "result", req.Verdict)
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "result": entry})
}
