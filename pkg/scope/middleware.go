package scope

import (
	"encoding/json"
	"net/http"
)

// Middleware returns HTTP middleware that resolves the project context using
// the provided Resolver and stores it in the request context. On resolution
// failure it responds with a 400 JSON error.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pc, err := resolver.Resolve(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "bad_request",
					"message": err.Error(),
				})
				return
			}

			ctx := WithProject(r.Context(), pc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
