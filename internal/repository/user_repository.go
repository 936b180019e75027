package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/manit-portal/grievance-api/internal/models"
)

const userColumns = `id, username, name, email, password_hash, role, department, email_verified, email_verification_token, email_verification_expires, password_reset_otp, password_reset_otp_expires, created_at`

// UserRepository provides database access for user accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new account.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	const query = `INSERT INTO users (id, username, name, email, password_hash, role, department, email_verified, email_verification_token, email_verification_expires, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := r.db.ExecContext(ctx, query,
		u.ID, u.Username, u.Name, u.Email, u.PasswordHash, string(u.Role), u.Department,
		u.EmailVerified, u.EmailVerificationToken, u.EmailVerificationExpires, u.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Delete removes an account. Used to roll back registration when the
// verification email cannot be delivered.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// FindByID finds a user by ID.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByEmail finds a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByVerificationToken finds a user holding an unexpired verification
// token.
func (r *UserRepository) FindByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email_verification_token = $1 AND email_verification_expires > NOW() LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by verification token: %w", err)
	}
	return &user, nil
}

// Update persists verification and password-reset state changes.
func (r *UserRepository) Update(ctx context.Context, u *models.User) error {
	const query = `UPDATE users SET password_hash = $2, email_verified = $3, email_verification_token = $4, email_verification_expires = $5, password_reset_otp = $6, password_reset_otp_expires = $7 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query,
		u.ID, u.PasswordHash, u.EmailVerified,
		u.EmailVerificationToken, u.EmailVerificationExpires,
		u.PasswordResetOTP, u.PasswordResetOTPExpires,
	); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// List returns users with a given role, optionally narrowed to a
// department. Results are ordered by name.
func (r *UserRepository) List(ctx context.Context, role models.UserRole, department string) ([]*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE role = $1`, userColumns)
	args := []interface{}{string(role)}
	if department != "" {
		query += ` AND department = $2`
		args = append(args, department)
	}
	query += ` ORDER BY name ASC`

	var users []*models.User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CreateAuditLog records an operational audit entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, new_values, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(ctx, query,
		log.ID, log.UserID, log.Action, log.Resource, log.ResourceID,
		log.NewValues, log.IPAddress, log.UserAgent, log.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
