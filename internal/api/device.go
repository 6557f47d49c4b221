package api

import (
	"fmt"
	"image/jpeg"
	"net/http"
)

type jogRequest struct {
	Axis     string  `json:"axis"`
	Distance float64 `json:"distance"`
}

func (h *handler) motionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Motion.Status())
}

func (h *handler) jog(w http.ResponseWriter, r *http.Request) {
	var req jogRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.Motion.Jog(req.Axis, req.Distance)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Motion.Home())
}

func (h *handler) zero(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Motion.Zero())
}

// snapshot 返回当前位置的一帧 JPEG
func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) {
	img, err := h.Camera.Capture(r.Context())
	if err != nil {
		h.writeError(w, r, fmt.Errorf("camera capture: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 80}); err != nil {
		h.logger.Warn("编码快照失败", "error", err)
	}
}

// detect 对当前画面做一次单独推理，不产生运行记录
func (h *handler) detect(w http.ResponseWriter, r *http.Request) {
	img, err := h.Camera.Capture(r.Context())
	if err != nil {
		h.writeError(w, r, fmt.Errorf("camera capture: %w", err))
		return
	}
	res, err := h.Classifier.Classify(r.Context(), img)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("inference: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
