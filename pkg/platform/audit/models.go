package audit

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies entries for retention and routing.
type Category string

const (
	// CategoryPHIAccess covers entries that read or write protected health
	// information.
	CategoryPHIAccess Category = "phi_access"

	// CategorySystemAccess covers pipeline bookkeeping that touches no PHI.
	CategorySystemAccess Category = "system_access"

	// CategorySecurity covers failures worth a security review.
	CategorySecurity Category = "security"
)

// Actions recorded by the registration pipeline and the query endpoints.
const (
	ActionRegistrationStage        = "registration.stage"
	ActionRegistrationCompleted    = "registration.completed"
	ActionRegistrationDeduplicated = "registration.deduplicated"
	ActionRegistrationFailed       = "registration.failed"
	ActionMediaSearch              = "fhir.media.search"
	ActionMediaRead                = "fhir.media.read"
)

var actionCategories = map[string]Category{
	ActionRegistrationStage:        CategorySystemAccess,
	ActionRegistrationCompleted:    CategoryPHIAccess,
	ActionRegistrationDeduplicated: CategoryPHIAccess,
	ActionRegistrationFailed:       CategorySecurity,
	ActionMediaSearch:              CategoryPHIAccess,
	ActionMediaRead:                CategoryPHIAccess,
}

// CategoryFor returns the category for action. Unknown actions are
// system_access.
func CategoryFor(action string) Category {
	if c, ok := actionCategories[action]; ok {
		return c
	}
	return CategorySystemAccess
}

// Entry is one append-only audit record. Detail never carries PHI values.
type Entry struct {
	ID          uuid.UUID         `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Category    Category          `json:"category"`
	Actor       string            `json:"actor"`
	ResourceID  string            `json:"resource_id"`
	Action      string            `json:"action"`
	Stage       string            `json:"stage,omitempty"`
	RiskLevel   string            `json:"risk_level,omitempty"`
	Success     bool              `json:"success"`
	Detail      map[string]string `json:"detail,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	ClientIP    string            `json:"client_ip,omitempty"`
	ClientAgent string            `json:"client_agent,omitempty"`
}

// IsTerminal reports whether the entry closes a registration run.
func (e Entry) IsTerminal() bool {
	switch e.Action {
	case ActionRegistrationCompleted, ActionRegistrationDeduplicated, ActionRegistrationFailed:
		return true
	}
	return false
}
