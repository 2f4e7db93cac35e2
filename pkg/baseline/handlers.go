package baseline

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/reqboard/reqboard/pkg/apperrors"
	"github.com/reqboard/reqboard/pkg/scope"
)

type handlers struct {
	mgr *Manager
}

// RegisterRoutes mounts the baseline endpoints under a requirement route
// that carries an {id} URL parameter.
func RegisterRoutes(mgr *Manager) func(chi.Router) {
	h := &handlers{mgr: mgr}
	return func(r chi.Router) {
		r.Post("/baselines", h.create)
		r.Get("/baselines", h.list)
		r.Get("/baselines/diff", h.diff)
	}
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	projectID := scope.ProjectIDFromContext(r.Context())
	requirementID := chi.URLParam(r, "id")
	actor := scope.ActorFromContext(r.Context())

	b, err := h.mgr.CreateBaseline(r.Context(), projectID, requirementID, actor)
	if err != nil {
		writeError(w, apperrors.HTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	projectID := scope.ProjectIDFromContext(r.Context())
	requirementID := chi.URLParam(r, "id")

	pageSize := 20
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pageSize")
			return
		}
		pageSize = parsed
	}

	baselines, nextToken, total, err := h.mgr.GetBaselineHistory(r.Context(), projectID, requirementID, pageSize, r.URL.Query().Get("pageToken"))
	if err != nil {
		writeError(w, apperrors.HTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, BaselineList{
		Baselines:     baselines,
		NextPageToken: nextToken,
		TotalSize:     total,
	})
}

func (h *handlers) diff(w http.ResponseWriter, r *http.Request) {
	projectID := scope.ProjectIDFromContext(r.Context())
	requirementID := chi.URLParam(r, "id")

	versionA, err := strconv.Atoi(r.URL.Query().Get("versionA"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid versionA")
		return
	}
	versionB, err := strconv.Atoi(r.URL.Query().Get("versionB"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid versionB")
		return
	}

	result, err := h.mgr.DiffBaselines(r.Context(), projectID, requirementID, versionA, versionB)
	if err != nil {
		writeError(w, apperrors.HTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
