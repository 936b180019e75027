// Package escalation implements the time-based lifecycle policy for
// grievances: inactivity escalation up the hierarchy and due-date breach
// marking. The policy is a pure function of (record, now) so the service
// layer can apply it before every mutation and before every read that
// returns a record, without a live database.
package escalation

import (
	"fmt"
	"time"

	"github.com/manit-portal/grievance-api/internal/models"
)

// InactivityThreshold is how long a grievance may sit without an update
// before responsibility moves one level up the hierarchy.
const InactivityThreshold = 5 * 24 * time.Hour

// InactivityReason is the reason recorded on automatic escalations.
const InactivityReason = "Auto-escalated due to inactivity for 5 days"

var levelOrder = map[models.EscalationLevel]int{
	models.LevelDepartmentAdmin: 0,
	models.LevelHOD:             1,
	models.LevelDirector:        2,
}

var successor = map[models.EscalationLevel]models.EscalationLevel{
	models.LevelDepartmentAdmin: models.LevelHOD,
	models.LevelHOD:             models.LevelDirector,
}

var levelTitle = map[models.EscalationLevel]string{
	models.LevelHOD:      "HOD",
	models.LevelDirector: "Director",
}

// NextLevel returns the successor of level in the fixed hierarchy. The
// second return is false when level has no successor (director) or is
// unknown.
func NextLevel(level models.EscalationLevel) (models.EscalationLevel, bool) {
	next, ok := successor[level]
	return next, ok
}

// LevelTitle returns the display name used in audit comments.
func LevelTitle(level models.EscalationLevel) string {
	if t, ok := levelTitle[level]; ok {
		return t
	}
	return string(level)
}

// Forward reports whether moving from one level to another respects the
// fixed hierarchy order.
func Forward(from, to models.EscalationLevel) bool {
	a, okA := levelOrder[from]
	b, okB := levelOrder[to]
	return okA && okB && b > a
}

// DueDate computes the fixed due date for a grievance created at createdAt.
// Unknown priorities fall back to the medium window.
func DueDate(priority models.GrievancePriority, createdAt time.Time) time.Time {
	switch priority {
	case models.PriorityHigh:
		return createdAt.Add(24 * time.Hour)
	case models.PriorityLow:
		return createdAt.Add(3 * 24 * time.Hour)
	default:
		return createdAt.Add(2 * 24 * time.Hour)
	}
}

// Result describes what a policy application changed.
type Result struct {
	// Escalated is true when inactivity moved the grievance one level up.
	Escalated bool
	// Overdue is true when the due-date breach set the escalated status.
	Overdue bool
}

// Changed reports whether the record needs persisting beyond the
// LastUpdatedAt touch.
func (r Result) Changed() bool {
	return r.Escalated || r.Overdue
}

// Apply evaluates the time policy against g at the instant now, mutating g
// in place. Two independent triggers compose:
//
//  1. Inactivity: 5+ days without update and a successor level exists ->
//     status becomes escalated, the level advances once, and one entry is
//     appended to each of escalationHistory and resolutionSteps.
//  2. Due date: past due and status is not already escalated -> status
//     becomes escalated without touching the level, with a single
//     resolution step noting the breach.
//
// The due-date guard is evaluated after the inactivity branch so that a
// just-run escalation suppresses a duplicate audit entry. Terminal records
// only get their LastUpdatedAt touched. Applying twice at the same instant
// is a no-op the second time.
func Apply(g *models.Grievance, now time.Time) Result {
	var res Result

	if g.Status.Terminal() {
		g.LastUpdatedAt = now
		return res
	}

	if now.Sub(g.LastUpdatedAt) >= InactivityThreshold {
		if next, ok := NextLevel(g.Level); ok {
			from := g.Level
			g.Level = next
			g.Status = models.StatusEscalated
			g.EscalationHistory = append(g.EscalationHistory, models.EscalationRecord{
				FromLevel:   from,
				ToLevel:     next,
				Reason:      InactivityReason,
				IsAutomatic: true,
				Date:        now,
			})
			g.ResolutionSteps = append(g.ResolutionSteps, models.ResolutionStep{
				Status:  models.StatusEscalated,
				Actor:   models.SystemActor,
				Comment: fmt.Sprintf("Automatically escalated to %s due to inactivity for 5 days", LevelTitle(next)),
				Date:    now,
			})
			res.Escalated = true
		}
	}

	if !g.DueDate.IsZero() && now.After(g.DueDate) && g.Status != models.StatusEscalated {
		g.Status = models.StatusEscalated
		g.ResolutionSteps = append(g.ResolutionSteps, models.ResolutionStep{
			Status:  models.StatusEscalated,
			Actor:   models.SystemActor,
			Comment: fmt.Sprintf("Grievance has passed its due date (%s)", g.DueDate.Format("2006-01-02")),
			Date:    now,
		})
		res.Overdue = true
	}

	g.LastUpdatedAt = now
	return res
}
