package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/manit-portal/grievance-api/internal/models"
	appErrors "github.com/manit-portal/grievance-api/pkg/errors"
)

// ErrVersionConflict is returned when a save loses a concurrent
// read-modify-write race. Callers surface it as a 409 and retry.
var ErrVersionConflict = appErrors.Clone(appErrors.ErrConflict, "grievance was modified concurrently")

const grievanceColumns = `id, title, description, department, category, priority, is_anonymous, status, current_level, due_date, submitted_by, attachments, comments, resolution_steps, escalation_history, created_at, last_updated_at, version`

// grievanceRow maps the grievances table. The four sub-collections are
// JSONB documents stored and loaded with the parent row, never queried
// independently.
type grievanceRow struct {
	ID                string          `db:"id"`
	Title             string          `db:"title"`
	Description       string          `db:"description"`
	Department        string          `db:"department"`
	Category          string          `db:"category"`
	Priority          string          `db:"priority"`
	IsAnonymous       bool            `db:"is_anonymous"`
	Status            string          `db:"status"`
	CurrentLevel      string          `db:"current_level"`
	DueDate           time.Time       `db:"due_date"`
	SubmittedBy       string          `db:"submitted_by"`
	Attachments       json.RawMessage `db:"attachments"`
	Comments          json.RawMessage `db:"comments"`
	ResolutionSteps   json.RawMessage `db:"resolution_steps"`
	EscalationHistory json.RawMessage `db:"escalation_history"`
	CreatedAt         time.Time       `db:"created_at"`
	LastUpdatedAt     time.Time       `db:"last_updated_at"`
	Version           int64           `db:"version"`
}

func (r grievanceRow) toModel() (*models.Grievance, error) {
	g := &models.Grievance{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		Department:    r.Department,
		Category:      r.Category,
		Priority:      models.GrievancePriority(r.Priority),
		IsAnonymous:   r.IsAnonymous,
		Status:        models.GrievanceStatus(r.Status),
		Level:         models.EscalationLevel(r.CurrentLevel),
		DueDate:       r.DueDate,
		SubmittedByID: r.SubmittedBy,
		CreatedAt:     r.CreatedAt,
		LastUpdatedAt: r.LastUpdatedAt,
		Version:       r.Version,
	}
	for _, field := range []struct {
		raw  json.RawMessage
		dest interface{}
	}{
		{r.Attachments, &g.Attachments},
		{r.Comments, &g.Comments},
		{r.ResolutionSteps, &g.ResolutionSteps},
		{r.EscalationHistory, &g.EscalationHistory},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return nil, fmt.Errorf("decode grievance %s: %w", r.ID, err)
		}
	}
	return g, nil
}

func marshalParts(g *models.Grievance) (attachments, comments, steps, history []byte, err error) {
	if attachments, err = json.Marshal(emptyIfNilAttachments(g.Attachments)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode attachments: %w", err)
	}
	if comments, err = json.Marshal(emptyIfNilComments(g.Comments)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode comments: %w", err)
	}
	if steps, err = json.Marshal(emptyIfNilSteps(g.ResolutionSteps)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode resolution steps: %w", err)
	}
	if history, err = json.Marshal(emptyIfNilHistory(g.EscalationHistory)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode escalation history: %w", err)
	}
	return attachments, comments, steps, history, nil
}

func emptyIfNilAttachments(v []models.Attachment) []models.Attachment {
	if v == nil {
		return []models.Attachment{}
	}
	return v
}

func emptyIfNilComments(v []models.Comment) []models.Comment {
	if v == nil {
		return []models.Comment{}
	}
	return v
}

func emptyIfNilSteps(v []models.ResolutionStep) []models.ResolutionStep {
	if v == nil {
		return []models.ResolutionStep{}
	}
	return v
}

func emptyIfNilHistory(v []models.EscalationRecord) []models.EscalationRecord {
	if v == nil {
		return []models.EscalationRecord{}
	}
	return v
}

// GrievanceRepository provides database access for grievance records.
type GrievanceRepository struct {
	db *sqlx.DB
}

// NewGrievanceRepository creates a new instance of GrievanceRepository.
func NewGrievanceRepository(db *sqlx.DB) *GrievanceRepository {
	return &GrievanceRepository{db: db}
}

// Create inserts a new grievance at version 1.
func (r *GrievanceRepository) Create(ctx context.Context, g *models.Grievance) error {
	attachments, comments, steps, history, err := marshalParts(g)
	if err != nil {
		return err
	}
	g.Version = 1
	const query = `INSERT INTO grievances (id, title, description, department, category, priority, is_anonymous, status, current_level, due_date, submitted_by, attachments, comments, resolution_steps, escalation_history, created_at, last_updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	if _, err := r.db.ExecContext(ctx, query,
		g.ID, g.Title, g.Description, g.Department, g.Category, string(g.Priority), g.IsAnonymous,
		string(g.Status), string(g.Level), g.DueDate, g.SubmittedByID,
		attachments, comments, steps, history,
		g.CreatedAt, g.LastUpdatedAt, g.Version,
	); err != nil {
		return fmt.Errorf("insert grievance: %w", err)
	}
	return nil
}

// FindByID loads a single grievance.
func (r *GrievanceRepository) FindByID(ctx context.Context, id string) (*models.Grievance, error) {
	query := fmt.Sprintf(`SELECT %s FROM grievances WHERE id = $1 LIMIT 1`, grievanceColumns)
	var row grievanceRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find grievance by id: %w", err)
	}
	return row.toModel()
}

// Find returns grievances matching the scope, newest first.
func (r *GrievanceRepository) Find(ctx context.Context, scope models.GrievanceScope) ([]*models.Grievance, error) {
	where, args := scopeClause(scope, 0)
	query := fmt.Sprintf(`SELECT %s FROM grievances%s ORDER BY created_at DESC`, grievanceColumns, where)

	var rows []grievanceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("find grievances: %w", err)
	}
	out := make([]*models.Grievance, 0, len(rows))
	for _, row := range rows {
		g, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// FindStale returns up to limit non-terminal grievances whose last update
// precedes cutoff, oldest first. Used by the escalation sweep.
func (r *GrievanceRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Grievance, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM grievances WHERE status NOT IN ('resolved', 'rejected') AND last_updated_at < $1 ORDER BY last_updated_at ASC LIMIT $2`, grievanceColumns)
	var rows []grievanceRow
	if err := r.db.SelectContext(ctx, &rows, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("find stale grievances: %w", err)
	}
	out := make([]*models.Grievance, 0, len(rows))
	for _, row := range rows {
		g, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// Update persists the full record guarded by the version it was loaded at.
// The stored version advances by one; a stale expected version returns
// ErrVersionConflict and writes nothing.
func (r *GrievanceRepository) Update(ctx context.Context, g *models.Grievance) error {
	attachments, comments, steps, history, err := marshalParts(g)
	if err != nil {
		return err
	}

	const query = `UPDATE grievances SET status = $2, current_level = $3, attachments = $4, comments = $5, resolution_steps = $6, escalation_history = $7, last_updated_at = $8, version = version + 1 WHERE id = $1 AND version = $9`
	res, err := r.db.ExecContext(ctx, query,
		g.ID, string(g.Status), string(g.Level),
		attachments, comments, steps, history,
		g.LastUpdatedAt, g.Version,
	)
	if err != nil {
		return fmt.Errorf("update grievance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update grievance rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	g.Version++
	return nil
}

// CountByStatus returns per-status counts within the scope.
func (r *GrievanceRepository) CountByStatus(ctx context.Context, scope models.GrievanceScope) (map[models.GrievanceStatus]int, error) {
	where, args := scopeClause(scope, 0)
	query := fmt.Sprintf(`SELECT status, COUNT(*) AS count FROM grievances%s GROUP BY status`, where)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.GrievanceStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.GrievanceStatus(status)] = count
	}
	return counts, rows.Err()
}

// CountByPriority returns per-priority counts within the scope.
func (r *GrievanceRepository) CountByPriority(ctx context.Context, scope models.GrievanceScope) (map[models.GrievancePriority]int, error) {
	where, args := scopeClause(scope, 0)
	query := fmt.Sprintf(`SELECT priority, COUNT(*) AS count FROM grievances%s GROUP BY priority`, where)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by priority: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.GrievancePriority]int)
	for rows.Next() {
		var priority string
		var count int
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, fmt.Errorf("scan priority count: %w", err)
		}
		counts[models.GrievancePriority(priority)] = count
	}
	return counts, rows.Err()
}

// CountOverdue returns how many scoped grievances are past due and not yet
// terminal.
func (r *GrievanceRepository) CountOverdue(ctx context.Context, scope models.GrievanceScope, now time.Time) (int, error) {
	where, args := scopeClause(scope, 1)
	args = append([]interface{}{now}, args...)
	cond := " WHERE due_date < $1 AND status NOT IN ('resolved', 'rejected')"
	if where != "" {
		cond += " AND" + strings.TrimPrefix(where, " WHERE")
	}
	query := `SELECT COUNT(*) FROM grievances` + cond

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count overdue: %w", err)
	}
	return count, nil
}

// scopeClause renders a GrievanceScope as a WHERE clause. offset shifts the
// placeholder numbering when the caller binds leading arguments.
func scopeClause(scope models.GrievanceScope, offset int) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	next := func() int { return offset + len(args) + 1 }

	if scope.SubmitterID != "" {
		conditions = append(conditions, fmt.Sprintf("submitted_by = $%d", next()))
		args = append(args, scope.SubmitterID)
	}
	if scope.Department != "" {
		conditions = append(conditions, fmt.Sprintf("department = $%d", next()))
		args = append(args, scope.Department)
	}
	if scope.Level != "" {
		conditions = append(conditions, fmt.Sprintf("current_level = $%d", next()))
		args = append(args, string(scope.Level))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
