package dto

import "github.com/manit-portal/grievance-api/internal/models"

// AttachmentInput carries uploaded file metadata on submission.
type AttachmentInput struct {
	Filename string `json:"filename" validate:"required"`
	Path     string `json:"path" validate:"required"`
}

// CreateGrievanceRequest is the payload for submitting a new grievance.
type CreateGrievanceRequest struct {
	Title       string                   `json:"title" validate:"required,max=200"`
	Description string                   `json:"description" validate:"required"`
	Department  string                   `json:"department" validate:"required"`
	Category    string                   `json:"category" validate:"required"`
	Priority    models.GrievancePriority `json:"priority" validate:"omitempty,priority"`
	IsAnonymous bool                     `json:"isAnonymous"`
	Attachments []AttachmentInput        `json:"attachments" validate:"omitempty,dive"`
}

// UpdateStatusRequest changes a grievance's status with a mandatory
// explanatory comment.
type UpdateStatusRequest struct {
	Status  models.GrievanceStatus `json:"status" validate:"required,status"`
	Comment string                 `json:"comment" validate:"required"`
}

// EscalateRequest forwards a grievance one level up.
type EscalateRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// AddCommentRequest appends a comment to the discussion thread.
type AddCommentRequest struct {
	Text string `json:"text" validate:"required"`
}
