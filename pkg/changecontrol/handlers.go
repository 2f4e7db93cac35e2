package changecontrol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/reqboard/reqboard/pkg/apperrors"
	"github.com/reqboard/reqboard/pkg/history"
	"github.com/reqboard/reqboard/pkg/scope"
)

// createHandler returns a handler that proposes a change request.
func createHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in CreateInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		pc, _ := scope.ProjectFromContext(r.Context())
		cr, err := engine.Create(r.Context(), pc.ProjectID, scope.ActorFromContext(r.Context()), in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, cr)
	}
}

// listHandler returns a handler that lists change requests with an optional
// status filter.
func listHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := scope.ProjectIDFromContext(r.Context())

		var statuses []Status
		for _, st := range r.URL.Query()["status"] {
			statuses = append(statuses, Status(st))
		}

		crs, nextToken, total, err := engine.List(r.Context(), projectID, statuses, parsePageSize(r), r.URL.Query().Get("pageToken"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if crs == nil {
			crs = []ChangeRequest{}
		}
		writeJSON(w, http.StatusOK, ChangeRequestList{
			ChangeRequests: crs,
			NextPageToken:  nextToken,
			TotalSize:      total,
		})
	}
}

// getHandler returns a handler that retrieves a single change request.
func getHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := scope.ProjectIDFromContext(r.Context())
		cr, err := engine.GetByID(r.Context(), projectID, chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cr)
	}
}

// transitionHandler returns a handler that moves a change request through
// its workflow. With ?dryRun=true the transition is validated but not
// applied.
func transitionHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in TransitionInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		pc, _ := scope.ProjectFromContext(r.Context())
		id := chi.URLParam(r, "id")

		if r.URL.Query().Get("dryRun") == "true" {
			if err := engine.ValidateStatusChange(r.Context(), pc.ProjectID, id, in.Status); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "dry-run",
				"message": fmt.Sprintf("transition to %s is allowed", in.Status),
			})
			return
		}

		cr, err := engine.TransitionStatus(r.Context(), pc.ProjectID, id, scope.ActorFromContext(r.Context()), in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cr)
	}
}

// commentHandler returns a handler that appends a comment to the change
// request's history.
func commentHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		pc, _ := scope.ProjectFromContext(r.Context())
		err := engine.Comment(r.Context(), pc.ProjectID, chi.URLParam(r, "id"), scope.ActorFromContext(r.Context()), body.Text)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// historyHandler returns a handler that lists paginated ledger entries for
// a change request.
func historyHandler(engine *Engine, ledger *history.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := scope.ProjectIDFromContext(r.Context())
		id := chi.URLParam(r, "id")

		if _, err := engine.GetByID(r.Context(), projectID, id); err != nil {
			writeDomainError(w, err)
			return
		}

		records, nextToken, total, err := ledger.List(history.EntityChangeRequest, id, parsePageSize(r), r.URL.Query().Get("pageToken"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list history: %v", err))
			return
		}

		entries := make([]history.Entry, len(records))
		for i, rec := range records {
			entries[i] = history.RecordToEntry(rec)
		}
		writeJSON(w, http.StatusOK, history.EntryList{
			Entries:       entries,
			NextPageToken: nextToken,
			TotalSize:     total,
		})
	}
}

// RequirementSubroutes mounts the per-requirement change request listing
// under a requirement route that carries an {id} URL parameter.
func RequirementSubroutes(engine *Engine) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/changerequests", func(w http.ResponseWriter, req *http.Request) {
			projectID := scope.ProjectIDFromContext(req.Context())
			crs, err := engine.GetForRequirement(req.Context(), projectID, chi.URLParam(req, "id"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			if crs == nil {
				crs = []ChangeRequest{}
			}
			writeJSON(w, http.StatusOK, ChangeRequestList{ChangeRequests: crs, TotalSize: len(crs)})
		})
	}
}

func parsePageSize(r *http.Request) int {
	pageSize := 20
	if ps := r.URL.Query().Get("pageSize"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 {
			pageSize = v
		}
	}
	return pageSize
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	var it *apperrors.InvalidTransitionError
	if errors.As(err, &it) {
		writeJSON(w, status, it)
		return
	}
	var ve *apperrors.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, status, ve)
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
