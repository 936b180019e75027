package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manit-portal/grievance-api/internal/models"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func activeGrievance(level models.EscalationLevel, lastUpdated time.Time) *models.Grievance {
	return &models.Grievance{
		ID:            "g1",
		Priority:      models.PriorityMedium,
		Status:        models.StatusInProgress,
		Level:         level,
		DueDate:       t0.Add(30 * 24 * time.Hour),
		CreatedAt:     t0,
		LastUpdatedAt: lastUpdated,
	}
}

func TestDueDateByPriority(t *testing.T) {
	assert.Equal(t, t0.Add(24*time.Hour), DueDate(models.PriorityHigh, t0))
	assert.Equal(t, t0.Add(48*time.Hour), DueDate(models.PriorityMedium, t0))
	assert.Equal(t, t0.Add(72*time.Hour), DueDate(models.PriorityLow, t0))
	assert.Equal(t, t0.Add(48*time.Hour), DueDate("unknown", t0), "unknown priorities default to the medium window")
}

func TestNextLevel(t *testing.T) {
	next, ok := NextLevel(models.LevelDepartmentAdmin)
	require.True(t, ok)
	assert.Equal(t, models.LevelHOD, next)

	next, ok = NextLevel(models.LevelHOD)
	require.True(t, ok)
	assert.Equal(t, models.LevelDirector, next)

	_, ok = NextLevel(models.LevelDirector)
	assert.False(t, ok)
}

func TestApplyInactivityEscalatesOneLevel(t *testing.T) {
	now := t0.Add(5 * 24 * time.Hour)
	g := activeGrievance(models.LevelDepartmentAdmin, t0)

	res := Apply(g, now)

	assert.True(t, res.Escalated)
	assert.Equal(t, models.StatusEscalated, g.Status)
	assert.Equal(t, models.LevelHOD, g.Level)
	assert.Equal(t, now, g.LastUpdatedAt)

	require.Len(t, g.EscalationHistory, 1)
	entry := g.EscalationHistory[0]
	assert.Equal(t, models.LevelDepartmentAdmin, entry.FromLevel)
	assert.Equal(t, models.LevelHOD, entry.ToLevel)
	assert.Equal(t, InactivityReason, entry.Reason)
	assert.True(t, entry.IsAutomatic)

	require.Len(t, g.ResolutionSteps, 1)
	step := g.ResolutionSteps[0]
	assert.Equal(t, models.StatusEscalated, step.Status)
	assert.Equal(t, models.SystemActor, step.Actor)
	assert.Contains(t, step.Comment, "HOD")
}

func TestApplyInactivityHODToDirector(t *testing.T) {
	now := t0.Add(6 * 24 * time.Hour)
	g := activeGrievance(models.LevelHOD, t0)

	res := Apply(g, now)

	assert.True(t, res.Escalated)
	assert.Equal(t, models.LevelDirector, g.Level)
	require.Len(t, g.ResolutionSteps, 1)
	assert.Contains(t, g.ResolutionSteps[0].Comment, "Director")
}

func TestApplyIdempotent(t *testing.T) {
	now := t0.Add(5 * 24 * time.Hour)
	g := activeGrievance(models.LevelDepartmentAdmin, t0)

	first := Apply(g, now)
	require.True(t, first.Escalated)

	second := Apply(g, now)
	assert.False(t, second.Changed(), "immediate re-application must not double-escalate")
	assert.Equal(t, models.LevelHOD, g.Level)
	assert.Len(t, g.EscalationHistory, 1)
	assert.Len(t, g.ResolutionSteps, 1)
}

func TestApplyDirectorLevelNeverAdvances(t *testing.T) {
	now := t0.Add(10 * 24 * time.Hour)
	g := activeGrievance(models.LevelDirector, t0)

	res := Apply(g, now)

	assert.False(t, res.Escalated)
	assert.Equal(t, models.LevelDirector, g.Level)
	assert.Empty(t, g.EscalationHistory)
}

func TestApplyOverdueMarksWithoutLevelChange(t *testing.T) {
	g := activeGrievance(models.LevelDepartmentAdmin, t0)
	g.Priority = models.PriorityHigh
	g.DueDate = t0.Add(24 * time.Hour)
	now := t0.Add(25 * time.Hour)

	res := Apply(g, now)

	assert.False(t, res.Escalated)
	assert.True(t, res.Overdue)
	assert.Equal(t, models.StatusEscalated, g.Status)
	assert.Equal(t, models.LevelDepartmentAdmin, g.Level, "due-date breach does not reassign responsibility")
	assert.Empty(t, g.EscalationHistory)
	require.Len(t, g.ResolutionSteps, 1)
	assert.Contains(t, g.ResolutionSteps[0].Comment, "passed its due date")
}

func TestApplyOverdueNotDuplicatedOnSecondRead(t *testing.T) {
	g := activeGrievance(models.LevelDepartmentAdmin, t0)
	g.DueDate = t0.Add(24 * time.Hour)
	now := t0.Add(25 * time.Hour)

	first := Apply(g, now)
	require.True(t, first.Overdue)

	second := Apply(g, now.Add(time.Minute))
	assert.False(t, second.Changed())
	assert.Len(t, g.ResolutionSteps, 1)
}

func TestApplyInactivitySuppressesDuplicateOverdueEntry(t *testing.T) {
	// Both triggers fire in the same pass: the inactivity branch already
	// set status=escalated, so the due-date branch must not add a second
	// audit entry.
	g := activeGrievance(models.LevelDepartmentAdmin, t0)
	g.DueDate = t0.Add(24 * time.Hour)
	now := t0.Add(6 * 24 * time.Hour)

	res := Apply(g, now)

	assert.True(t, res.Escalated)
	assert.False(t, res.Overdue)
	assert.Len(t, g.ResolutionSteps, 1)
	assert.Len(t, g.EscalationHistory, 1)
}

func TestApplyTerminalFrozen(t *testing.T) {
	for _, status := range []models.GrievanceStatus{models.StatusResolved, models.StatusRejected} {
		g := activeGrievance(models.LevelDepartmentAdmin, t0)
		g.Status = status
		g.DueDate = t0.Add(time.Hour)
		now := t0.Add(30 * 24 * time.Hour)

		res := Apply(g, now)

		assert.False(t, res.Changed())
		assert.Equal(t, status, g.Status)
		assert.Equal(t, models.LevelDepartmentAdmin, g.Level)
		assert.Empty(t, g.ResolutionSteps)
		assert.Equal(t, now, g.LastUpdatedAt)
	}
}

func TestApplyBelowThresholdNoChange(t *testing.T) {
	g := activeGrievance(models.LevelDepartmentAdmin, t0)
	now := t0.Add(5*24*time.Hour - time.Second)

	res := Apply(g, now)

	assert.False(t, res.Changed())
	assert.Equal(t, models.StatusInProgress, g.Status)
}

func TestForward(t *testing.T) {
	assert.True(t, Forward(models.LevelDepartmentAdmin, models.LevelHOD))
	assert.True(t, Forward(models.LevelDepartmentAdmin, models.LevelDirector))
	assert.True(t, Forward(models.LevelHOD, models.LevelDirector))
	assert.False(t, Forward(models.LevelHOD, models.LevelDepartmentAdmin))
	assert.False(t, Forward(models.LevelDirector, models.LevelDirector))
}
