package scope

import "context"

// ctxKey is an unexported type used as the context key for ProjectContext.
type ctxKey struct{}

// ProjectContext carries the resolved project and actor through request
// context. The core trusts these values; producing them from credentials is
// the identity layer's concern.
type ProjectContext struct {
	ProjectID string
	ActorID   string
}

// WithProject returns a new context with the given ProjectContext attached.
func WithProject(ctx context.Context, pc ProjectContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, pc)
}

// ProjectFromContext retrieves the ProjectContext from the context.
// Returns the zero value and false if no project is set.
func ProjectFromContext(ctx context.Context) (ProjectContext, bool) {
	pc, ok := ctx.Value(ctxKey{}).(ProjectContext)
	return pc, ok
}

// ProjectIDFromContext is a convenience function that returns the project ID
// from the context, or "" if no project context is set.
func ProjectIDFromContext(ctx context.Context) string {
	pc, ok := ProjectFromContext(ctx)
	if !ok {
		return ""
	}
	return pc.ProjectID
}

// ActorFromContext returns the actor ID from the context, or "system" if no
// project context is set.
func ActorFromContext(ctx context.Context) string {
	pc, ok := ProjectFromContext(ctx)
	if !ok || pc.ActorID == "" {
		return "system"
	}
	return pc.ActorID
}
