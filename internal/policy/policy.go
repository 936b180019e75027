// Package policy is the single source of truth for role-based access to
// grievances: the role -> query scope table used by listing, statistics
// and export, the per-operation authorization predicates derived from it,
// and the anonymity redaction applied on every read path.
package policy

import (
	"github.com/manit-portal/grievance-api/internal/models"
)

// AnonymousName and AnonymousEmail form the placeholder identity shown to
// staff for anonymous submissions.
const (
	AnonymousName  = "Anonymous Student"
	AnonymousEmail = "anonymous@stu.manit.ac.in"
)

// Actor is the resolved caller identity the predicates operate on.
type Actor struct {
	ID         string
	Role       models.UserRole
	Department string
}

// ScopeFor maps a role to the record subset it may see. The same table
// backs List, GetByID visibility, Statistics and Export so the rules
// cannot drift between operations. The second return is false for roles
// with no grievance visibility at all.
func ScopeFor(actor Actor) (models.GrievanceScope, bool) {
	switch {
	case actor.Role == models.RoleStudent:
		return models.GrievanceScope{SubmitterID: actor.ID}, true
	case actor.Role == models.RoleDepartmentAdmin:
		return models.GrievanceScope{Department: actor.Department, Level: models.LevelDepartmentAdmin}, true
	case actor.Role == models.RoleHOD:
		return models.GrievanceScope{Department: actor.Department, Level: models.LevelHOD}, true
	case models.DirectorEquivalent(actor.Role):
		return models.GrievanceScope{Level: models.LevelDirector}, true
	}
	return models.GrievanceScope{}, false
}

// staffAtCurrentLevel reports whether actor currently holds resolution
// authority over g: department admins and HODs must match both the
// department and the current level, director-equivalents hold authority
// only once the grievance has reached director level.
func staffAtCurrentLevel(actor Actor, g *models.Grievance) bool {
	switch {
	case actor.Role == models.RoleDepartmentAdmin || actor.Role == models.RoleHOD:
		return g.Department == actor.Department && g.Level == models.EscalationLevel(actor.Role)
	case models.DirectorEquivalent(actor.Role):
		return g.Level == models.LevelDirector
	}
	return false
}

// CanView reports whether actor may read g: the owning student, staff at
// the grievance's current level, or a director-equivalent once it reached
// director level.
func CanView(actor Actor, g *models.Grievance) bool {
	if actor.Role == models.RoleStudent {
		return g.SubmittedByID == actor.ID
	}
	return staffAtCurrentLevel(actor, g)
}

// CanUpdateStatus reports whether actor may move the grievance's status.
// Students never can; staff must hold the current level.
func CanUpdateStatus(actor Actor, g *models.Grievance) bool {
	if actor.Role == models.RoleStudent {
		return false
	}
	return staffAtCurrentLevel(actor, g)
}

// CanEscalate reports whether actor may manually escalate g. Only
// department admins and HODs escalate, and only from their own level and
// department; whether a successor level exists is the service's concern.
func CanEscalate(actor Actor, g *models.Grievance) bool {
	if actor.Role != models.RoleDepartmentAdmin && actor.Role != models.RoleHOD {
		return false
	}
	return staffAtCurrentLevel(actor, g)
}

// CanComment mirrors the viewing rule: whoever may read a grievance may
// discuss it.
func CanComment(actor Actor, g *models.Grievance) bool {
	return CanView(actor, g)
}

// CanSubmit reports whether actor may file a new grievance.
func CanSubmit(actor Actor) bool {
	return actor.Role == models.RoleStudent
}

// Redact strips the submitter identity from anonymous grievances when the
// viewer is not a student. It must be the only redaction path: both the
// single-record and list reads go through it.
func Redact(g *models.Grievance, viewerRole models.UserRole) {
	if !g.IsAnonymous || viewerRole == models.RoleStudent {
		return
	}
	g.SubmittedBy = &models.Submitter{
		Name:       AnonymousName,
		Email:      AnonymousEmail,
		Department: g.Department,
	}
}
