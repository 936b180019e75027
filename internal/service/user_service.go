package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/manit-portal/grievance-api/internal/models"
	"github.com/manit-portal/grievance-api/internal/policy"
	appErrors "github.com/manit-portal/grievance-api/pkg/errors"
)

type userAccountRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, role models.UserRole, department string) ([]*models.User, error)
}

// UserService exposes account profiles and the staff directory.
type UserService struct {
	repo   userAccountRepository
	logger *zap.Logger
}

// NewUserService constructs the service.
func NewUserService(repo userAccountRepository, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, logger: logger}
}

// Profile returns the account behind the given ID.
func (s *UserService) Profile(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// ListStaff returns staff accounts by role. Only director-equivalents may
// browse the directory; an empty department returns all departments.
func (s *UserService) ListStaff(ctx context.Context, actor policy.Actor, role models.UserRole, department string) ([]*models.User, error) {
	if !models.DirectorEquivalent(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only directors can browse the staff directory")
	}
	switch role {
	case models.RoleDepartmentAdmin, models.RoleHOD, models.RoleDirector, models.RoleDean:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "role must be a staff role")
	}

	users, err := s.repo.List(ctx, role, department)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list staff")
	}
	return users, nil
}
