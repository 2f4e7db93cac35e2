package requirements

import (
	"github.com/go-chi/chi/v5"

	"github.com/reqboard/reqboard/pkg/history"
)

// NewRouter creates a chi router with requirement API routes. Subresource
// registrations (baselines, change requests, trace links) are attached under
// the per-requirement route so they resolve the same {id} parameter.
func NewRouter(store *Store, ledger *history.Ledger, subresources ...func(chi.Router)) chi.Router {
	r := chi.NewRouter()

	r.Post("/", createHandler(store))
	r.Get("/", listHandler(store))
	r.Get("/hierarchy", hierarchyHandler(store))

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", getHandler(store))
		r.Patch("/", patchHandler(store))
		r.Delete("/", deleteHandler(store))
		r.Post("/comments", commentHandler(store))
		r.Get("/history", historyHandler(store, ledger))

		for _, register := range subresources {
			register(r)
		}
	})

	return r
}
