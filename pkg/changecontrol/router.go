package changecontrol

import (
	"github.com/go-chi/chi/v5"

	"github.com/reqboard/reqboard/pkg/history"
)

// NewRouter creates a chi router with change request API routes.
func NewRouter(engine *Engine, ledger *history.Ledger) chi.Router {
	r := chi.NewRouter()

	r.Post("/", createHandler(engine))
	r.Get("/", listHandler(engine))

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", getHandler(engine))
		r.Post("/transition", transitionHandler(engine))
		r.Post("/comments", commentHandler(engine))
		r.Get("/history", historyHandler(engine, ledger))
	})

	return r
}
