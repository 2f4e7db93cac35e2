package requirements

// Kind classifies a requirement.
type Kind string

const (
	KindFunctional    Kind = "functional"
	KindNonFunctional Kind = "non_functional"
	KindBusiness      Kind = "business"
	KindTechnical     Kind = "technical"
)

// ValidKind reports whether k is a known requirement kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindFunctional, KindNonFunctional, KindBusiness, KindTechnical:
		return true
	}
	return false
}

// Priority classifies a requirement's urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status represents requirement lifecycle states.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusReview      Status = "review"
	StatusApproved    Status = "approved"
	StatusImplemented Status = "implemented"
	StatusVerified    Status = "verified"
	StatusClosed      Status = "closed"
)

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusReview, StatusApproved, StatusImplemented, StatusVerified, StatusClosed:
		return true
	}
	return false
}

// Requirement is the API-facing requirement.
type Requirement struct {
	ID                    string   `json:"id"`
	DisplayID             string   `json:"displayId"`
	ProjectID             string   `json:"projectId"`
	ParentID              string   `json:"parentId,omitempty"`
	Title                 string   `json:"title"`
	Description           string   `json:"description,omitempty"`
	Kind                  Kind     `json:"kind"`
	Priority              Priority `json:"priority"`
	Status                Status   `json:"status"`
	AcceptanceCriteria    []string `json:"acceptanceCriteria,omitempty"`
	Tags                  []string `json:"tags,omitempty"`
	OwnerID               string   `json:"ownerId,omitempty"`
	IsBaselined           bool     `json:"isBaselined"`
	BaselineVersion       int      `json:"baselineVersion"`
	HasUnbaselinedChanges bool     `json:"hasUnbaselinedChanges"`
	CreatedAt             string   `json:"createdAt"`
	UpdatedAt             string   `json:"updatedAt"`
}

// RequirementList is a paginated list of requirements.
type RequirementList struct {
	Requirements  []Requirement `json:"requirements"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
	TotalSize     int           `json:"totalSize"`
}

// HierarchyNode is a requirement with its nested children.
type HierarchyNode struct {
	Requirement Requirement      `json:"requirement"`
	Children    []*HierarchyNode `json:"children,omitempty"`
}

// CreateInput carries the fields for creating a requirement.
type CreateInput struct {
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Kind               Kind     `json:"kind"`
	Priority           Priority `json:"priority,omitempty"`
	ParentID           string   `json:"parentId,omitempty"`
	OwnerID            string   `json:"ownerId,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// Patch carries a partial update. Nil fields are left unchanged. Status
// changes are validated against the lifecycle transition table, never
// applied ad hoc.
type Patch struct {
	Title              *string   `json:"title,omitempty"`
	Description        *string   `json:"description,omitempty"`
	Kind               *Kind     `json:"kind,omitempty"`
	Priority           *Priority `json:"priority,omitempty"`
	Status             *Status   `json:"status,omitempty"`
	ParentID           *string   `json:"parentId,omitempty"`
	ClearParent        bool      `json:"clearParent,omitempty"`
	OwnerID            *string   `json:"ownerId,omitempty"`
	AcceptanceCriteria *[]string `json:"acceptanceCriteria,omitempty"`
	Tags               *[]string `json:"tags,omitempty"`
}

// Filter narrows requirement listings by kind and status.
type Filter struct {
	Kinds    []Kind
	Statuses []Status
}
