package models

import "time"

// GrievancePriority determines the due date window for a grievance.
type GrievancePriority string

const (
	PriorityLow    GrievancePriority = "low"
	PriorityMedium GrievancePriority = "medium"
	PriorityHigh   GrievancePriority = "high"
)

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p GrievancePriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// GrievanceStatus is the lifecycle status of a grievance.
type GrievanceStatus string

const (
	StatusPending    GrievanceStatus = "pending"
	StatusInProgress GrievanceStatus = "in_progress"
	StatusEscalated  GrievanceStatus = "escalated"
	StatusResolved   GrievanceStatus = "resolved"
	StatusRejected   GrievanceStatus = "rejected"
)

// ValidStatus reports whether s is a known status value.
func ValidStatus(s GrievanceStatus) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusEscalated, StatusResolved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether s permits no further lifecycle transitions.
func (s GrievanceStatus) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}

// EscalationLevel is the role currently holding resolution authority.
// Levels only ever advance department_admin -> hod -> director.
type EscalationLevel string

const (
	LevelDepartmentAdmin EscalationLevel = "department_admin"
	LevelHOD             EscalationLevel = "hod"
	LevelDirector        EscalationLevel = "director"
)

// Attachment records file metadata attached at submission time. The bytes
// themselves live outside this service; only the reference is kept.
type Attachment struct {
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ActorRef identifies who performed an action. ID is "system" for
// policy-driven entries.
type ActorRef struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Role UserRole `json:"role"`
}

// SystemActor is the identity recorded on automatic audit entries.
var SystemActor = ActorRef{ID: "system", Name: "System", Role: RoleSystem}

// Comment is a discussion entry on a grievance. Comments are stored
// newest-first.
type Comment struct {
	Text     string    `json:"text"`
	PostedBy ActorRef  `json:"posted_by"`
	PostedAt time.Time `json:"posted_at"`
}

// ResolutionStep is one append-only audit entry. The first entry is always
// the submission event.
type ResolutionStep struct {
	Status  GrievanceStatus `json:"status"`
	Actor   ActorRef        `json:"resolved_by"`
	Comment string          `json:"comment"`
	Date    time.Time       `json:"date"`
}

// EscalationRecord is one append-only entry capturing a level reassignment.
type EscalationRecord struct {
	FromLevel   EscalationLevel `json:"from_level"`
	FromUserID  string          `json:"from_user_id,omitempty"`
	ToLevel     EscalationLevel `json:"to_level"`
	Reason      string          `json:"reason"`
	IsAutomatic bool            `json:"is_automatic"`
	Date        time.Time       `json:"date"`
}

// Grievance is the aggregate lifecycle record. Attachments, comments,
// resolution steps and escalation history are embedded and always persisted
// together with the parent row.
type Grievance struct {
	ID          string            `db:"id" json:"id"`
	Title       string            `db:"title" json:"title"`
	Description string            `db:"description" json:"description"`
	Department  string            `db:"department" json:"department"`
	Category    string            `db:"category" json:"category"`
	Priority    GrievancePriority `db:"priority" json:"priority"`
	IsAnonymous bool              `db:"is_anonymous" json:"is_anonymous"`
	Status      GrievanceStatus   `db:"status" json:"status"`
	Level       EscalationLevel   `db:"current_level" json:"current_level"`
	DueDate     time.Time         `db:"due_date" json:"due_date"`

	SubmittedByID string     `db:"submitted_by" json:"-"`
	SubmittedBy   *Submitter `db:"-" json:"submitted_by,omitempty"`

	Attachments       []Attachment       `db:"-" json:"attachments"`
	Comments          []Comment          `db:"-" json:"comments"`
	ResolutionSteps   []ResolutionStep   `db:"-" json:"resolution_steps"`
	EscalationHistory []EscalationRecord `db:"-" json:"escalation_history"`

	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastUpdatedAt time.Time `db:"last_updated_at" json:"last_updated_at"`

	// Version guards concurrent read-modify-write cycles. A save with a
	// stale version fails instead of overwriting newer audit entries.
	Version int64 `db:"version" json:"-"`
}

// Submitter is the owner identity surfaced on read paths. For anonymous
// grievances it is replaced by a placeholder before leaving the service.
type Submitter struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
}

// GrievanceScope restricts which grievances a role may see or act on.
// Either SubmitterID is set (students see their own submissions) or Level
// is set, with Department additionally narrowing department-bound roles.
type GrievanceScope struct {
	SubmitterID string
	Department  string
	Level       EscalationLevel
}

// StatusCounts aggregates grievances per lifecycle status.
type StatusCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Escalated  int `json:"escalated"`
	Resolved   int `json:"resolved"`
	Rejected   int `json:"rejected"`
}

// PriorityCounts aggregates grievances per priority.
type PriorityCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// GrievanceStatistics is the role-scoped dashboard summary.
type GrievanceStatistics struct {
	Total      int            `json:"total"`
	ByStatus   StatusCounts   `json:"byStatus"`
	ByPriority PriorityCounts `json:"byPriority"`
	Overdue    int            `json:"overdue"`
}
