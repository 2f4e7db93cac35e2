package requirements

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

// createHandler returns a handler that creates a requirement in draft state.
func createHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in CreateInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		pc, _ := scope.ProjectFromContext(r.Context())
		req, err := store.Create(r.Context(), pc.ProjectID, scope.ActorFromContext(r.Context()), in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, req)
	}
}

// listHandler returns a handler that lists requirements with optional kind
// and status filters.
func listHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := scope.ProjectIDFromContext(r.Context())

		filter := Filter{}
		for _, k := range r.URL.Query()["kind"] {
			filter.Kinds = append(filter.Kinds, Kind(k))
		}
		for _, st := range r.URL.Query()["status"] {
			filter.Statuses = append(filter.Statuses, Status(st))
		}

		pageSize := parsePageSize(r)
		pageToken := r.URL.Query().Get("pageToken")

		reqs, nextToken, total, err := store.List(r.Context(), projectID, filter, pageSize, pageToken)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if reqs == nil {
			reqs = []Requirement{}
		}
		writeJSON(w, http.StatusOK, RequirementList{
			Requirements:  reqs,
			NextPageToken: nextToken,
			TotalSize:     total,
		})
	}
}

// hierarchyHandler returns a handler that renders the project's requirement
// tree.
func hierarchyHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := scope.ProjectIDFromContext(r.Context())
		roots, err := store.GetHierarchy(r.Context(), projectID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if roots == nil {
			roots = []*HierarchyNode{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"roots": roots})
	}
}

// getHandler returns a handler that retrieves a single requirement.
func getHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := scope.ProjectIDFromContext(r.Context())
		req, err := store.GetByID(r.Context(), projectID, chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

// patchHandler returns a handler that applies a partial update. With
// ?dryRun=true and a status in the patch, the transition is validated but
// not applied.
func patchHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		pc, _ := scope.ProjectFromContext(r.Context())
		id := chi.URLParam(r, "id")

		if r.URL.Query().Get("dryRun") == "true" && patch.Status != nil {
			if err := store.ValidateStatusChange(r.Context(), pc.ProjectID, id, *patch.Status); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "dry-run",
				"message": fmt.Sprintf("transition to %s is allowed", *patch.Status),
			})
			return
		}

		req, err := store.Update(r.Context(), pc.ProjectID, id, scope.ActorFromContext(r.Context()), patch)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

// deleteHandler returns a handler that tombstones a requirement.
func deleteHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pc, _ := scope.ProjectFromContext(r.Context())
		err := store.Delete(r.Context(), pc.ProjectID, chi.URLParam(r, "id"), scope.ActorFromContext(r.Context()))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// commentHandler returns a handler that appends a comment to the
// requirement's history.
func commentHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		pc, _ := scope.ProjectFromContext(r.Context())
		err := store.Comment(r.Context(), pc.ProjectID, chi.URLParam(r, "id"), scope.ActorFromContext(r.Context()), body.Text)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// historyHandler returns a handler that lists paginated ledger entries for
// a requirement.
func historyHandler(store *Store, ledger *history.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := scope.ProjectIDFromContext(r.Context())
		id := chi.URLParam(r, "id")

		// Resolve first so a missing requirement is a 404, not an empty list.
		if _, err := store.GetByID(r.Context(), projectID, id); err != nil {
			writeDomainError(w, err)
			return
		}

		records, nextToken, total, err := ledger.List(history.EntityRequirement, id, parsePageSize(r), r.URL.Query().Get("pageToken"))
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

func parsePageSize(r *http.Request) int {
	pageSize := 20
	if ps := r.URL.Query().Get("pageSize"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 {
			pageSize = v
		}
	}
	return pageSize
}

// writeDomainError maps a typed domain error to its HTTP status, emitting
// the structured error payload so callers see the specific rule violated.
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

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
