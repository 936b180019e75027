package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manit-portal/grievance-api/internal/dto"
	"github.com/manit-portal/grievance-api/internal/models"
	"github.com/manit-portal/grievance-api/internal/policy"
	"github.com/manit-portal/grievance-api/internal/repository"
	appErrors "github.com/manit-portal/grievance-api/pkg/errors"
)

type stubGrievanceRepo struct {
	grievances map[string]*models.Grievance
	lastScope  models.GrievanceScope
	updates    int
	updateErr  error

	byStatus   map[models.GrievanceStatus]int
	byPriority map[models.GrievancePriority]int
	overdue    int
}

func newStubGrievanceRepo() *stubGrievanceRepo {
	return &stubGrievanceRepo{grievances: map[string]*models.Grievance{}}
}

func (s *stubGrievanceRepo) Create(_ context.Context, g *models.Grievance) error {
	g.Version = 1
	s.grievances[g.ID] = g
	return nil
}

func (s *stubGrievanceRepo) FindByID(_ context.Context, id string) (*models.Grievance, error) {
	g, ok := s.grievances[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *g
	return &copied, nil
}

func (s *stubGrievanceRepo) Find(_ context.Context, scope models.GrievanceScope) ([]*models.Grievance, error) {
	s.lastScope = scope
	var out []*models.Grievance
	for _, g := range s.grievances {
		copied := *g
		out = append(out, &copied)
	}
	return out, nil
}

func (s *stubGrievanceRepo) FindStale(_ context.Context, cutoff time.Time, _ int) ([]*models.Grievance, error) {
	var out []*models.Grievance
	for _, g := range s.grievances {
		if !g.Status.Terminal() && g.LastUpdatedAt.Before(cutoff) {
			copied := *g
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *stubGrievanceRepo) Update(_ context.Context, g *models.Grievance) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates++
	g.Version++
	copied := *g
	s.grievances[g.ID] = &copied
	return nil
}

func (s *stubGrievanceRepo) CountByStatus(_ context.Context, scope models.GrievanceScope) (map[models.GrievanceStatus]int, error) {
	s.lastScope = scope
	return s.byStatus, nil
}

func (s *stubGrievanceRepo) CountByPriority(_ context.Context, _ models.GrievanceScope) (map[models.GrievancePriority]int, error) {
	return s.byPriority, nil
}

func (s *stubGrievanceRepo) CountOverdue(_ context.Context, _ models.GrievanceScope, _ time.Time) (int, error) {
	return s.overdue, nil
}

type stubUserDirectory struct {
	users map[string]*models.User
}

func (s *stubUserDirectory) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

type stubNotifier struct {
	notices []models.EscalationLevel
}

func (s *stubNotifier) NotifyEscalation(_ *models.Grievance, toLevel models.EscalationLevel, _ string) {
	s.notices = append(s.notices, toLevel)
}

var (
	student = policy.Actor{ID: "stu1", Role: models.RoleStudent, Department: "CSE"}
	admin   = policy.Actor{ID: "adm1", Role: models.RoleDepartmentAdmin, Department: "CSE"}
	hod     = policy.Actor{ID: "hod1", Role: models.RoleHOD, Department: "CSE"}
)

func testUsers() *stubUserDirectory {
	return &stubUserDirectory{users: map[string]*models.User{
		"stu1": {ID: "stu1", Name: "Ravi Kumar", Email: "ravi@stu.manit.ac.in", Role: models.RoleStudent, Department: "CSE"},
		"adm1": {ID: "adm1", Name: "Dept Admin", Email: "admin@manit.ac.in", Role: models.RoleDepartmentAdmin, Department: "CSE"},
		"hod1": {ID: "hod1", Name: "Dr. Sharma", Email: "sharma@manit.ac.in", Role: models.RoleHOD, Department: "CSE"},
	}}
}

func newTestService(repo *stubGrievanceRepo, notifier *stubNotifier, now time.Time) *GrievanceService {
	var n escalationNotifier
	if notifier != nil {
		n = notifier
	}
	svc := NewGrievanceService(repo, testUsers(), nil, nil, n, nil, nil)
	svc.now = func() time.Time { return now }
	return svc
}

func seedGrievance(repo *stubGrievanceRepo, now time.Time) *models.Grievance {
	g := &models.Grievance{
		ID:            "g1",
		Title:         "Lab equipment broken",
		Description:   "Oscilloscopes in lab 3 are dead",
		Department:    "CSE",
		Category:      "infrastructure",
		Priority:      models.PriorityMedium,
		Status:        models.StatusPending,
		Level:         models.LevelDepartmentAdmin,
		DueDate:       now.Add(48 * time.Hour),
		SubmittedByID: "stu1",
		CreatedAt:     now,
		LastUpdatedAt: now,
		Version:       1,
	}
	repo.grievances[g.ID] = g
	return g
}

func TestSubmitCreatesPendingRecord(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestService(repo, nil, now)

	g, err := svc.Submit(context.Background(), student, dto.CreateGrievanceRequest{
		Title:       "Hostel water supply",
		Description: "No water in block B mornings",
		Department:  "CSE",
		Category:    "hostel",
		Priority:    models.PriorityHigh,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, g.Status)
	assert.Equal(t, models.LevelDepartmentAdmin, g.Level)
	assert.Equal(t, now.Add(24*time.Hour), g.DueDate)
	require.Len(t, g.ResolutionSteps, 1)
	assert.Equal(t, "Grievance submitted", g.ResolutionSteps[0].Comment)
	assert.Equal(t, "stu1", g.ResolutionSteps[0].Actor.ID)
	require.NotNil(t, g.SubmittedBy)
	assert.Equal(t, "Ravi Kumar", g.SubmittedBy.Name)
}

func TestSubmitDefaultsPriorityToMedium(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestService(repo, nil, now)

	g, err := svc.Submit(context.Background(), student, dto.CreateGrievanceRequest{
		Title:       "Library hours",
		Description: "Reading hall closes too early",
		Department:  "CSE",
		Category:    "academic",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, g.Priority)
	assert.Equal(t, now.Add(48*time.Hour), g.DueDate)
}

func TestSubmitRejectsStaff(t *testing.T) {
	svc := newTestService(newStubGrievanceRepo(), nil, time.Now())

	_, err := svc.Submit(context.Background(), admin, dto.CreateGrievanceRequest{
		Title: "x", Description: "y", Department: "CSE", Category: "misc",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestGetByIDPlainReadDoesNotPersist(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	seedGrievance(repo, now)
	svc := newTestService(repo, nil, now.Add(time.Hour))

	_, err := svc.GetByID(context.Background(), student, "g1")
	require.NoError(t, err)
	assert.Zero(t, repo.updates)
}

func TestGetByIDEscalatesStaleRecord(t *testing.T) {
	repo := newStubGrievanceRepo()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seedGrievance(repo, created)
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier, created.Add(6*24*time.Hour))

	g, err := svc.GetByID(context.Background(), student, "g1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusEscalated, g.Status)
	assert.Equal(t, models.LevelHOD, g.Level)
	require.Len(t, g.EscalationHistory, 1)
	assert.True(t, g.EscalationHistory[0].IsAutomatic)
	assert.Equal(t, 1, repo.updates)
	assert.Equal(t, []models.EscalationLevel{models.LevelHOD}, notifier.notices)
}

func TestGetByIDForbiddenForOtherStudent(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	seedGrievance(repo, now)
	svc := newTestService(repo, nil, now)

	other := policy.Actor{ID: "stu2", Role: models.RoleStudent, Department: "CSE"}
	_, err := svc.GetByID(context.Background(), other, "g1")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestGetByIDNotFound(t *testing.T) {
	svc := newTestService(newStubGrievanceRepo(), nil, time.Now())

	_, err := svc.GetByID(context.Background(), student, "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestListUsesActorScope(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	seedGrievance(repo, now)
	svc := newTestService(repo, nil, now)

	_, err := svc.List(context.Background(), hod)
	require.NoError(t, err)
	assert.Equal(t, models.GrievanceScope{Department: "CSE", Level: models.LevelHOD}, repo.lastScope)
}

func TestUpdateStatusAppendsAuditStep(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	seedGrievance(repo, now)
	svc := newTestService(repo, nil, now.Add(time.Hour))

	g, err := svc.UpdateStatus(context.Background(), admin, "g1", dto.UpdateStatusRequest{
		Status:  models.StatusInProgress,
		Comment: "Assigned to maintenance",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusInProgress, g.Status)
	require.Len(t, g.ResolutionSteps, 1)
	assert.Equal(t, "Assigned to maintenance", g.ResolutionSteps[0].Comment)
	assert.Equal(t, "adm1", g.ResolutionSteps[0].Actor.ID)
	assert.Equal(t, 1, repo.updates)
}

func TestUpdateStatusForbiddenForStudent(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	seedGrievance(repo, now)
	svc := newTestService(repo, nil, now)

	_, err := svc.UpdateStatus(context.Background(), student, "g1", dto.UpdateStatusRequest{
		Status: models.StatusResolved, Comment: "done",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestUpdateStatusForbiddenForWrongLevel(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	seedGrievance(repo, now)
	svc := newTestService(repo, nil, now)

	// Record sits at department level; the HOD does not hold it yet.
	_, err := svc.UpdateStatus(context.Background(), hod, "g1", dto.UpdateStatusRequest{
		Status: models.StatusInProgress, Comment: "taking over",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestUpdateStatusTerminalConflict(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	g := seedGrievance(repo, now)
	g.Status = models.StatusResolved
	svc := newTestService(repo, nil, now)

	_, err := svc.UpdateStatus(context.Background(), admin, "g1", dto.UpdateStatusRequest{
		Status: models.StatusInProgress, Comment: "reopen",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestUpdateStatusSurfacesWriteConflict(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	seedGrievance(repo, now)
	repo.updateErr = repository.ErrVersionConflict
	svc := newTestService(repo, nil, now)

	_, err := svc.UpdateStatus(context.Background(), admin, "g1", dto.UpdateStatusRequest{
		Status: models.StatusInProgress, Comment: "working",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestEscalateMovesOneLevelUp(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	seedGrievance(repo, now)
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier, now.Add(time.Hour))

	g, err := svc.Escalate(context.Background(), admin, "g1", dto.EscalateRequest{
		Reason: "Needs HOD approval",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusEscalated, g.Status)
	assert.Equal(t, models.LevelHOD, g.Level)
	require.Len(t, g.EscalationHistory, 1)
	record := g.EscalationHistory[0]
	assert.Equal(t, models.LevelDepartmentAdmin, record.FromLevel)
	assert.Equal(t, models.LevelHOD, record.ToLevel)
	assert.Equal(t, "adm1", record.FromUserID)
	assert.False(t, record.IsAutomatic)
	require.Len(t, g.ResolutionSteps, 1)
	assert.Contains(t, g.ResolutionSteps[0].Comment, "Needs HOD approval")
	assert.Equal(t, []models.EscalationLevel{models.LevelHOD}, notifier.notices)
}

func TestEscalateAtDirectorLevelConflicts(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	g := seedGrievance(repo, now)
	g.Level = models.LevelHOD
	svc := newTestService(repo, nil, now)

	g2, err := svc.Escalate(context.Background(), hod, "g1", dto.EscalateRequest{Reason: "up"})
	require.NoError(t, err)
	assert.Equal(t, models.LevelDirector, g2.Level)

	// Director has no successor: every staff role gets a conflict, not a
	// permission error.
	director := policy.Actor{ID: "dir1", Role: models.RoleDirector}
	for _, actor := range []policy.Actor{admin, hod, director} {
		_, err = svc.Escalate(context.Background(), actor, "g1", dto.EscalateRequest{Reason: "higher"})
		assert.True(t, appErrors.Is(err, appErrors.ErrConflict), "role %s", actor.Role)
	}
}

func TestEscalateForbiddenForStudent(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	seedGrievance(repo, now)
	svc := newTestService(repo, nil, now)

	_, err := svc.Escalate(context.Background(), student, "g1", dto.EscalateRequest{Reason: "please"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestAddCommentPrependsNewestFirst(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	g := seedGrievance(repo, now)
	g.Comments = []models.Comment{{Text: "older", PostedAt: now}}
	svc := newTestService(repo, nil, now.Add(time.Hour))

	got, err := svc.AddComment(context.Background(), student, "g1", dto.AddCommentRequest{Text: "newer"})
	require.NoError(t, err)
	require.Len(t, got.Comments, 2)
	assert.Equal(t, "newer", got.Comments[0].Text)
	assert.Equal(t, "older", got.Comments[1].Text)
}

func TestAddCommentAllowedOnTerminalRecord(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	g := seedGrievance(repo, now)
	g.Status = models.StatusResolved
	svc := newTestService(repo, nil, now)

	got, err := svc.AddComment(context.Background(), student, "g1", dto.AddCommentRequest{Text: "thanks"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
	require.Len(t, got.Comments, 1)
}

func TestAnonymousRedactionForStaff(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	g := seedGrievance(repo, now)
	g.IsAnonymous = true
	svc := newTestService(repo, nil, now)

	got, err := svc.GetByID(context.Background(), admin, "g1")
	require.NoError(t, err)
	require.NotNil(t, got.SubmittedBy)
	assert.Equal(t, policy.AnonymousName, got.SubmittedBy.Name)
	assert.Equal(t, policy.AnonymousEmail, got.SubmittedBy.Email)
	assert.Empty(t, got.SubmittedBy.ID)
}

func TestAnonymousOwnerSeesOwnIdentity(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	g := seedGrievance(repo, now)
	g.IsAnonymous = true
	svc := newTestService(repo, nil, now)

	got, err := svc.GetByID(context.Background(), student, "g1")
	require.NoError(t, err)
	require.NotNil(t, got.SubmittedBy)
	assert.Equal(t, "Ravi Kumar", got.SubmittedBy.Name)
}

func TestStatisticsAggregatesScopedCounts(t *testing.T) {
	repo := newStubGrievanceRepo()
	repo.byStatus = map[models.GrievanceStatus]int{
		models.StatusPending:  3,
		models.StatusResolved: 2,
	}
	repo.byPriority = map[models.GrievancePriority]int{
		models.PriorityHigh: 1,
		models.PriorityLow:  4,
	}
	repo.overdue = 2
	svc := newTestService(repo, nil, time.Now().UTC())

	stats, err := svc.Statistics(context.Background(), student)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 3, stats.ByStatus.Pending)
	assert.Equal(t, 2, stats.ByStatus.Resolved)
	assert.Equal(t, 1, stats.ByPriority.High)
	assert.Equal(t, 4, stats.ByPriority.Low)
	assert.Equal(t, 2, stats.Overdue)
	assert.Equal(t, models.GrievanceScope{SubmitterID: "stu1"}, repo.lastScope)
}

func TestExportCSVContainsScopedRows(t *testing.T) {
	repo := newStubGrievanceRepo()
	now := time.Now().UTC()
	seedGrievance(repo, now)
	svc := newTestService(repo, nil, now)

	data, contentType, err := svc.Export(context.Background(), student, ExportCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Contains(t, string(data), "Lab equipment broken")
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := newTestService(newStubGrievanceRepo(), nil, time.Now())

	_, _, err := svc.Export(context.Background(), student, ExportFormat("xml"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
