package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/manit-portal/grievance-api/internal/models"
	"github.com/manit-portal/grievance-api/pkg/jobs"
	"github.com/manit-portal/grievance-api/pkg/mailer"
)

// recipientDirectory resolves the staff accounts a notification targets.
type recipientDirectory interface {
	List(ctx context.Context, role models.UserRole, department string) ([]*models.User, error)
}

type escalationPayload struct {
	GrievanceID string
	Title       string
	Department  string
	ToLevel     models.EscalationLevel
	Reason      string
}

// NotificationService delivers escalation emails through the background
// queue so a slow or failed delivery never blocks a lifecycle transition.
type NotificationService struct {
	queue  *jobs.Queue
	sender mailer.Sender
	users  recipientDirectory
	logger *zap.Logger
}

// NewNotificationService constructs the service. Start must be called
// before notifications are accepted.
func NewNotificationService(sender mailer.Sender, users recipientDirectory, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{sender: sender, users: users, logger: logger}
	svc.queue = jobs.NewQueue("notifications", svc.handle, jobs.QueueConfig{
		Workers: 2,
		Logger:  logger,
	})
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// NotifyEscalation queues escalation emails to the staff now responsible
// for the grievance. Failures are logged, never returned to the caller.
func (s *NotificationService) NotifyEscalation(g *models.Grievance, toLevel models.EscalationLevel, reason string) {
	err := s.queue.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: "escalation_notice",
		Payload: escalationPayload{
			GrievanceID: g.ID,
			Title:       g.Title,
			Department:  g.Department,
			ToLevel:     toLevel,
			Reason:      reason,
		},
	})
	if err != nil {
		s.logger.Warn("escalation notice not queued",
			zap.String("grievance_id", g.ID), zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(escalationPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}

	recipients, err := s.recipients(ctx, payload.ToLevel, payload.Department)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		s.logger.Warn("no recipients for escalation notice",
			zap.String("grievance_id", payload.GrievanceID),
			zap.String("to_level", string(payload.ToLevel)))
		return nil
	}

	for _, user := range recipients {
		msg := mailer.EscalationNotice(user.Email, payload.Title, string(payload.ToLevel), payload.Reason)
		if err := s.sender.Send(ctx, msg); err != nil {
			return fmt.Errorf("escalation notice to %s: %w", user.Email, err)
		}
	}
	return nil
}

// recipients maps an escalation level to the accounts holding it. Director
// level notifies both directors and legacy dean accounts.
func (s *NotificationService) recipients(ctx context.Context, level models.EscalationLevel, department string) ([]*models.User, error) {
	switch level {
	case models.LevelDepartmentAdmin:
		return s.users.List(ctx, models.RoleDepartmentAdmin, department)
	case models.LevelHOD:
		return s.users.List(ctx, models.RoleHOD, department)
	case models.LevelDirector:
		directors, err := s.users.List(ctx, models.RoleDirector, "")
		if err != nil {
			return nil, err
		}
		deans, err := s.users.List(ctx, models.RoleDean, "")
		if err != nil {
			return nil, err
		}
		return append(directors, deans...), nil
	}
	return nil, fmt.Errorf("unknown escalation level %q", level)
}
