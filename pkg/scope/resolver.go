// Package scope resolves the project and actor a request operates on and
// carries them through the request context. Identity is trusted input: the
// resolver reads headers (or a JWT subject) but performs no authentication
// of its own.
package scope

import (
	"fmt"
	"net/http"
	"regexp"
)

// maxProjectIDLen is the maximum length for a project ID.
const maxProjectIDLen = 63

// projectIDRe validates project ID format: lowercase alphanumeric and
// hyphens, must start and end with an alphanumeric character.
var projectIDRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ProjectQueryParam is the query parameter name used for project resolution.
const ProjectQueryParam = "project"

// ProjectHeader is the HTTP header used for project resolution.
const ProjectHeader = "X-Project-ID"

// ActorHeader is the HTTP header carrying the caller's principal.
const ActorHeader = "X-User-Principal"

// Resolver resolves the project context from an HTTP request.
type Resolver interface {
	Resolve(r *http.Request) (ProjectContext, error)
}

// ActorExtractor produces the acting principal for a request. The default
// reads the X-User-Principal header; a JWT-backed extractor is available via
// NewJWTActorExtractor.
type ActorExtractor func(r *http.Request) string

// HeaderActorExtractor reads the actor from the X-User-Principal header,
// falling back to "system".
func HeaderActorExtractor(r *http.Request) string {
	if principal := r.Header.Get(ActorHeader); principal != "" {
		return principal
	}
	return "system"
}

// HeaderResolver reads the project from the request query parameter or
// header and the actor via the configured extractor.
type HeaderResolver struct {
	Actor ActorExtractor
}

// Resolve extracts the project from the request. It checks the query
// parameter first, then falls back to the X-Project-ID header. Returns an
// error if the project is missing or invalid.
func (h HeaderResolver) Resolve(r *http.Request) (ProjectContext, error) {
	project := r.URL.Query().Get(ProjectQueryParam)
	if project == "" {
		project = r.Header.Get(ProjectHeader)
	}

	if project == "" {
		return ProjectContext{}, fmt.Errorf("project is required (use ?project= query param or X-Project-ID header)")
	}

	if err := validateProjectID(project); err != nil {
		return ProjectContext{}, err
	}

	actor := HeaderActorExtractor
	if h.Actor != nil {
		actor = h.Actor
	}

	return ProjectContext{ProjectID: project, ActorID: actor(r)}, nil
}

// validateProjectID checks that a project ID conforms to DNS label rules:
// lowercase alphanumeric and hyphens, 1-63 characters, starts and ends with
// an alphanumeric character.
func validateProjectID(id string) error {
	if len(id) > maxProjectIDLen {
		return fmt.Errorf("project %q exceeds maximum length of %d characters", id, maxProjectIDLen)
	}
	if !projectIDRe.MatchString(id) {
		return fmt.Errorf("project %q is invalid: must consist of lowercase alphanumeric characters or hyphens, and must start and end with an alphanumeric character", id)
	}
	return nil
}
