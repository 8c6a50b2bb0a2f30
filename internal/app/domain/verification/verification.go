// Package verification models identity verification requests.
package verification

import (
	"errors"
	"time"
)

// Status of a request. Only pending requests are created by users.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ErrPendingExists is returned when the user already has a pending request.
var ErrPendingExists = errors.New("verification: a pending request already exists")

// Request is a row of verification_requests.
type Request struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Status     Status     `json:"status"`
	Message    string     `json:"message,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// Draft is the insertable part of a request.
type Draft struct {
	UserID  string `json:"user_id" validate:"required"`
	Status  Status `json:"status" validate:"required,eq=pending"`
	Message string `json:"message,omitempty" validate:"max=1000"`
}

// New builds a pending request for userID.
func New(userID, message string) Draft {
	return Draft{UserID: userID, Status: StatusPending, Message: message}
}
