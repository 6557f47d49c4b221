package api

import (
	"aoi-edge/internal/alignment"
	"aoi-edge/internal/program"
	"aoi-edge/internal/types"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type alignRequest struct {
	RunRefs []types.Point `json:"run_refs"`
}

func (h *handler) currentProgram(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.Current())
}

func (h *handler) recordRef(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", program.ErrInvalidRefIndex, err))
		return
	}
	p, err := h.Session.RecordRef(idx, h.Motion.Position())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) recordPoint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.RecordPoint(h.Motion.Position()))
}

func (h *handler) clearProgram(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.Clear())
}

// align 用当前程序的示教基准点和本次实测的基准点求解变换，返回修正后的检测点
func (h *handler) align(w http.ResponseWriter, r *http.Request) {
	var req alignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	cur := h.Session.Current()
	res, err := alignment.Align(cur.Refs, req.RunRefs, cur.Points)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("基准点配准完成", "method", res.Method, "points", len(res.CorrectedPoints))
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) listPrograms(w http.ResponseWriter, r *http.Request) {
	list, err := h.Programs.List()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) saveProgram(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := program.ValidateName(name); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Programs.Save(h.Session.Rename(name)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "name": name})
}

func (h *handler) loadProgram(w http.ResponseWriter, r *http.Request) {
	p, err := h.Programs.Load(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Session.Replace(p)
	writeJSON(w, http.StatusOK, h.Session.Current())
}

func (h *handler) exportGCode(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, err := h.Programs.Load(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name + ".nc"}))
	_, _ = w.Write([]byte(program.ExportGCode(p)))
}

func (h *handler) deleteProgram(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.Programs.Delete(name); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}
