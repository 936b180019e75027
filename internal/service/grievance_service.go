package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/manit-portal/grievance-api/internal/dto"
	"github.com/manit-portal/grievance-api/internal/escalation"
	"github.com/manit-portal/grievance-api/internal/models"
	"github.com/manit-portal/grievance-api/internal/policy"
	"github.com/manit-portal/grievance-api/internal/repository"
	appErrors "github.com/manit-portal/grievance-api/pkg/errors"
	"github.com/manit-portal/grievance-api/pkg/export"
)

const statsCacheKeyPrefix = "grievance:stats:"

type grievanceRepository interface {
	Create(ctx context.Context, g *models.Grievance) error
	FindByID(ctx context.Context, id string) (*models.Grievance, error)
	Find(ctx context.Context, scope models.GrievanceScope) ([]*models.Grievance, error)
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Grievance, error)
	Update(ctx context.Context, g *models.Grievance) error
	CountByStatus(ctx context.Context, scope models.GrievanceScope) (map[models.GrievanceStatus]int, error)
	CountByPriority(ctx context.Context, scope models.GrievanceScope) (map[models.GrievancePriority]int, error)
	CountOverdue(ctx context.Context, scope models.GrievanceScope, now time.Time) (int, error)
}

type userDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type escalationNotifier interface {
	NotifyEscalation(g *models.Grievance, toLevel models.EscalationLevel, reason string)
}

// GrievanceService owns the grievance lifecycle: submission, status
// transitions, escalation, discussion, scoped reads, statistics and
// export. Every mutation and every read applies the time-based escalation
// policy before anything else, so records are current at the moment they
// are returned.
type GrievanceService struct {
	repo      grievanceRepository
	users     userDirectory
	cache     *CacheService
	metrics   *MetricsService
	notifier  escalationNotifier
	validator *validator.Validate
	logger    *zap.Logger

	// now is swapped out in tests to drive the time policy.
	now func() time.Time
}

// NewGrievanceService constructs the service.
func NewGrievanceService(repo grievanceRepository, users userDirectory, cache *CacheService, metrics *MetricsService, notifier escalationNotifier, validate *validator.Validate, logger *zap.Logger) *GrievanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &GrievanceService{
		repo:      repo,
		users:     users,
		cache:     cache,
		metrics:   metrics,
		notifier:  notifier,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	svc.validator.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		return models.ValidPriority(models.GrievancePriority(fl.Field().String()))
	})
	svc.validator.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		return models.ValidStatus(models.GrievanceStatus(fl.Field().String()))
	})
	return svc
}

// Submit files a new grievance for the calling student. The record starts
// pending at department level with a priority-derived due date and a
// submission entry already on the audit trail.
func (s *GrievanceService) Submit(ctx context.Context, actor policy.Actor, req dto.CreateGrievanceRequest) (*models.Grievance, error) {
	if !policy.CanSubmit(actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can submit grievances")
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grievance payload")
	}

	submitter, err := s.users.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve submitter")
	}

	now := s.now()
	g := &models.Grievance{
		ID:            uuid.NewString(),
		Title:         req.Title,
		Description:   req.Description,
		Department:    req.Department,
		Category:      req.Category,
		Priority:      req.Priority,
		IsAnonymous:   req.IsAnonymous,
		Status:        models.StatusPending,
		Level:         models.LevelDepartmentAdmin,
		DueDate:       escalation.DueDate(req.Priority, now),
		SubmittedByID: submitter.ID,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	for _, a := range req.Attachments {
		g.Attachments = append(g.Attachments, models.Attachment{
			Filename:   a.Filename,
			Path:       a.Path,
			UploadedAt: now,
		})
	}
	g.ResolutionSteps = append(g.ResolutionSteps, models.ResolutionStep{
		Status:  models.StatusPending,
		Actor:   actorRef(submitter),
		Comment: "Grievance submitted",
		Date:    now,
	})

	if err := s.repo.Create(ctx, g); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grievance")
	}

	s.metrics.RecordSubmission()
	s.invalidateStatistics(ctx)
	s.present(ctx, g, actor)
	return g, nil
}

// GetByID returns a single grievance visible to the actor, with the time
// policy applied and any structural change persisted first.
func (s *GrievanceService) GetByID(ctx context.Context, actor policy.Actor, id string) (*models.Grievance, error) {
	g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.refresh(ctx, g); err != nil {
		return nil, err
	}
	if !policy.CanView(actor, g) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not authorized to view this grievance")
	}
	s.present(ctx, g, actor)
	return g, nil
}

// List returns the actor's scoped grievances, newest first. Stale records
// are escalated in place before they leave the service.
func (s *GrievanceService) List(ctx context.Context, actor policy.Actor) ([]*models.Grievance, error) {
	scope, ok := policy.ScopeFor(actor)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role has no grievance visibility")
	}

	grievances, err := s.repo.Find(ctx, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grievances")
	}
	for _, g := range grievances {
		if err := s.refresh(ctx, g); err != nil {
			return nil, err
		}
		s.present(ctx, g, actor)
	}
	return grievances, nil
}

// UpdateStatus moves a grievance to a new status with a mandatory comment
// on the audit trail. Terminal records reject further transitions.
func (s *GrievanceService) UpdateStatus(ctx context.Context, actor policy.Actor, id string, req dto.UpdateStatusRequest) (*models.Grievance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}

	g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	result := escalation.Apply(g, now)
	s.recordPolicyMetrics(result)

	if g.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("grievance is already %s", g.Status))
	}
	if !policy.CanUpdateStatus(actor, g) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not authorized to update this grievance")
	}

	actorUser, err := s.users.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve actor")
	}

	g.Status = req.Status
	g.ResolutionSteps = append(g.ResolutionSteps, models.ResolutionStep{
		Status:  req.Status,
		Actor:   actorRef(actorUser),
		Comment: req.Comment,
		Date:    now,
	})
	g.LastUpdatedAt = now

	if err := s.save(ctx, g); err != nil {
		return nil, err
	}

	if req.Status.Terminal() {
		s.metrics.RecordResolution()
	}
	s.invalidateStatistics(ctx)
	s.present(ctx, g, actor)
	return g, nil
}

// Escalate forwards a grievance one level up at the actor's request,
// recording the move on both audit trails and notifying the receiving
// level.
func (s *GrievanceService) Escalate(ctx context.Context, actor policy.Actor, id string, req dto.EscalateRequest) (*models.Grievance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid escalation payload")
	}

	g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	result := escalation.Apply(g, now)
	s.recordPolicyMetrics(result)

	if g.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("grievance is already %s", g.Status))
	}
	next, ok := escalation.NextLevel(g.Level)
	if !ok || !escalation.Forward(g.Level, next) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "grievance is already at the highest level")
	}
	if !policy.CanEscalate(actor, g) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not authorized to escalate this grievance")
	}

	actorUser, err := s.users.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve actor")
	}

	from := g.Level
	g.Level = next
	g.Status = models.StatusEscalated
	g.EscalationHistory = append(g.EscalationHistory, models.EscalationRecord{
		FromLevel:   from,
		FromUserID:  actorUser.ID,
		ToLevel:     next,
		Reason:      req.Reason,
		IsAutomatic: false,
		Date:        now,
	})
	g.ResolutionSteps = append(g.ResolutionSteps, models.ResolutionStep{
		Status:  models.StatusEscalated,
		Actor:   actorRef(actorUser),
		Comment: fmt.Sprintf("Escalated to %s: %s", escalation.LevelTitle(next), req.Reason),
		Date:    now,
	})
	g.LastUpdatedAt = now

	if err := s.save(ctx, g); err != nil {
		return nil, err
	}

	s.metrics.RecordEscalation(EscalationTriggerManual)
	if s.notifier != nil {
		s.notifier.NotifyEscalation(g, next, req.Reason)
	}
	s.invalidateStatistics(ctx)
	s.present(ctx, g, actor)
	return g, nil
}

// AddComment appends to the discussion thread. Comments stay open on
// terminal grievances so follow-up questions remain possible.
func (s *GrievanceService) AddComment(ctx context.Context, actor policy.Actor, id string, req dto.AddCommentRequest) (*models.Grievance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}

	g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	result := escalation.Apply(g, now)
	s.recordPolicyMetrics(result)

	if !policy.CanComment(actor, g) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not authorized to comment on this grievance")
	}

	actorUser, err := s.users.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve actor")
	}

	// Newest first.
	g.Comments = append([]models.Comment{{
		Text:     req.Text,
		PostedBy: actorRef(actorUser),
		PostedAt: now,
	}}, g.Comments...)
	g.LastUpdatedAt = now

	if err := s.save(ctx, g); err != nil {
		return nil, err
	}
	s.present(ctx, g, actor)
	return g, nil
}

// Statistics returns the role-scoped dashboard summary, cached per scope.
func (s *GrievanceService) Statistics(ctx context.Context, actor policy.Actor) (*models.GrievanceStatistics, error) {
	scope, ok := policy.ScopeFor(actor)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role has no grievance visibility")
	}

	key := statsCacheKey(scope)
	var cached models.GrievanceStatistics
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	byStatus, err := s.repo.CountByStatus(ctx, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate statuses")
	}
	byPriority, err := s.repo.CountByPriority(ctx, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate priorities")
	}
	overdue, err := s.repo.CountOverdue(ctx, scope, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count overdue grievances")
	}

	stats := &models.GrievanceStatistics{
		ByStatus: models.StatusCounts{
			Pending:    byStatus[models.StatusPending],
			InProgress: byStatus[models.StatusInProgress],
			Escalated:  byStatus[models.StatusEscalated],
			Resolved:   byStatus[models.StatusResolved],
			Rejected:   byStatus[models.StatusRejected],
		},
		ByPriority: models.PriorityCounts{
			High:   byPriority[models.PriorityHigh],
			Medium: byPriority[models.PriorityMedium],
			Low:    byPriority[models.PriorityLow],
		},
		Overdue: overdue,
	}
	for _, count := range byStatus {
		stats.Total += count
	}

	_ = s.cache.Set(ctx, key, stats, 0)
	return stats, nil
}

// ExportFormat selects the report rendering.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

// Export renders the actor's scoped grievance list as a downloadable
// report. The same visibility and redaction rules as List apply.
func (s *GrievanceService) Export(ctx context.Context, actor policy.Actor, format ExportFormat) ([]byte, string, error) {
	grievances, err := s.List(ctx, actor)
	if err != nil {
		return nil, "", err
	}

	table := export.Table{
		Columns: []string{"ID", "Title", "Department", "Category", "Priority", "Status", "Level", "Submitted By", "Created", "Due"},
	}
	for _, g := range grievances {
		submitter := ""
		if g.SubmittedBy != nil {
			submitter = g.SubmittedBy.Name
		}
		table.Rows = append(table.Rows, []string{
			g.ID, g.Title, g.Department, g.Category,
			string(g.Priority), string(g.Status), string(g.Level),
			submitter,
			g.CreatedAt.Format("2006-01-02"),
			g.DueDate.Format("2006-01-02"),
		})
	}

	switch format {
	case ExportCSV:
		data, err := export.CSV(table)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render CSV export")
		}
		return data, "text/csv", nil
	case ExportPDF:
		data, err := export.PDF(table, "Grievance Report")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render PDF export")
		}
		return data, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func (s *GrievanceService) load(ctx context.Context, id string) (*models.Grievance, error) {
	g, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grievance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grievance")
	}
	return g, nil
}

// refresh applies the time policy on a read path and persists only when
// the policy changed the record. Plain reads leave the stored
// last_updated_at untouched so they never reset the inactivity clock. A
// version conflict means a concurrent writer already applied the same
// policy; the in-memory record is still current for this response.
func (s *GrievanceService) refresh(ctx context.Context, g *models.Grievance) error {
	result := escalation.Apply(g, s.now())
	if !result.Changed() {
		return nil
	}
	s.recordPolicyMetrics(result)
	if result.Escalated && s.notifier != nil {
		s.notifier.NotifyEscalation(g, g.Level, escalation.InactivityReason)
	}
	if err := s.repo.Update(ctx, g); err != nil {
		if appErrors.Is(err, appErrors.ErrConflict) {
			s.logger.Debug("policy refresh lost a write race", zap.String("grievance_id", g.ID))
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist escalation")
	}
	s.invalidateStatistics(ctx)
	return nil
}

// save persists a mutation, surfacing a lost write race as a conflict the
// caller can retry.
func (s *GrievanceService) save(ctx context.Context, g *models.Grievance) error {
	if err := s.repo.Update(ctx, g); err != nil {
		if appErrors.Is(err, appErrors.ErrConflict) {
			return repository.ErrVersionConflict
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save grievance")
	}
	return nil
}

// present resolves the submitter identity and applies anonymity redaction.
// It is the single exit path for grievances leaving the service.
func (s *GrievanceService) present(ctx context.Context, g *models.Grievance, actor policy.Actor) {
	if g.SubmittedBy == nil && g.SubmittedByID != "" {
		if user, err := s.users.FindByID(ctx, g.SubmittedByID); err == nil {
			g.SubmittedBy = &models.Submitter{
				ID:         user.ID,
				Name:       user.Name,
				Email:      user.Email,
				Department: user.Department,
			}
		} else {
			s.logger.Warn("submitter lookup failed", zap.String("grievance_id", g.ID), zap.Error(err))
		}
	}
	policy.Redact(g, actor.Role)
}

func (s *GrievanceService) recordPolicyMetrics(result escalation.Result) {
	if result.Escalated {
		s.metrics.RecordEscalation(EscalationTriggerInactivity)
	}
	if result.Overdue {
		s.metrics.RecordEscalation(EscalationTriggerDueDate)
	}
}

func (s *GrievanceService) invalidateStatistics(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, statsCacheKeyPrefix+"*")
}

func statsCacheKey(scope models.GrievanceScope) string {
	return fmt.Sprintf("%s%s:%s:%s", statsCacheKeyPrefix, scope.SubmitterID, scope.Department, scope.Level)
}

func actorRef(u *models.User) models.ActorRef {
	return models.ActorRef{ID: u.ID, Name: u.Name, Role: u.Role}
}
