package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reqboard/reqboard/pkg/apperrors"
	"github.com/reqboard/reqboard/pkg/requirements"
	"github.com/reqboard/reqboard/pkg/scope"
)

// RequirementSubroutes mounts the per-requirement link endpoints under a
// requirement route that carries an {id} URL parameter.
func RequirementSubroutes(store *Store) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/links", linkHandler(store))
		r.Get("/links", listLinksHandler(store))
		r.Delete("/links", unlinkHandler(store))
	}
}

// NewRouter creates a chi router with the project-level trace endpoints.
func NewRouter(store *Store) chi.Router {
	r := chi.NewRouter()
	r.Get("/matrix", matrixHandler(store))
	r.Get("/coverage", coverageHandler(store))
	return r
}

func linkHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in LinkInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		pc, _ := scope.ProjectFromContext(r.Context())
		link, err := store.Link(r.Context(), pc.ProjectID, chi.URLParam(r, "id"), scope.ActorFromContext(r.Context()), in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, link)
	}
}

func listLinksHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := scope.ProjectIDFromContext(r.Context())
		links, err := store.ListForRequirement(r.Context(), projectID, chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if links == nil {
			links = []TraceLink{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"links": links, "totalSize": len(links)})
	}
}

func unlinkHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in LinkInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		projectID := scope.ProjectIDFromContext(r.Context())
		if err := store.Unlink(r.Context(), projectID, chi.URLParam(r, "id"), in); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func matrixHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := scope.ProjectIDFromContext(r.Context())

		filter := MatrixFilter{}
		for _, k := range r.URL.Query()["kind"] {
			filter.Kinds = append(filter.Kinds, requirements.Kind(k))
		}
		for _, st := range r.URL.Query()["status"] {
			filter.Statuses = append(filter.Statuses, requirements.Status(st))
		}

		matrix, err := store.BuildMatrix(r.Context(), projectID, filter)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, matrix)
	}
}

func coverageHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := scope.ProjectIDFromContext(r.Context())
		coverage, err := store.ComputeCoverage(r.Context(), projectID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, coverage)
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
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
