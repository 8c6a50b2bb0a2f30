// Package exchange models the negotiation between a post owner and the user
// who contacted them: role derivation, the status lifecycle and who may move
// it.
package exchange

import (
	"errors"
	"time"

	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
)

// Status is a lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusAccepted, StatusCompleted, StatusCancelled}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Open reports whether s still counts as an active exchange.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusAccepted
}

// Role is the acting participant's part in an exchange.
type Role string

const (
	RoleProvider  Role = "provider"
	RoleHelper    Role = "helper"
	RoleRequester Role = "requester"
)

var (
	ErrTransitionNotAllowed = errors.New("exchange: transition not allowed")
	ErrNotParticipant       = errors.New("exchange: actor is not a participant")
	ErrUnknownStatus        = errors.New("exchange: unknown status")
	ErrSelfContact          = errors.New("exchange: cannot contact your own post")
	ErrPostClosed           = errors.New("exchange: post is closed")
	ErrNotEmergency         = errors.New("exchange: post is not an emergency")
	ErrDuplicateExchange    = errors.New("exchange: an open exchange already exists for this post")
)

// Exchange links one post and two distinct profiles.
type Exchange struct {
	ID          string    `json:"id"`
	PostID      string    `json:"post_id"`
	HelperID    string    `json:"helper_id"`
	RequesterID string    `json:"requester_id"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Draft is the insertable part of an exchange.
type Draft struct {
	PostID      string    `json:"post_id"`
	HelperID    string    `json:"helper_id"`
	RequesterID string    `json:"requester_id"`
	Status      Status    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsParticipant reports whether userID is the helper or the requester.
func (e Exchange) IsParticipant(userID string) bool {
	return userID != "" && (userID == e.HelperID || userID == e.RequesterID)
}

// Counterpart returns the other participant.
func (e Exchange) Counterpart(userID string) string {
	if userID == e.HelperID {
		return e.RequesterID
	}
	return e.HelperID
}

// Counts tallies exchanges per status.
type Counts struct {
	All       int `json:"all"`
	Pending   int `json:"pending"`
	Accepted  int `json:"accepted"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

// Tally counts exs by status.
func Tally(exs []Exchange) Counts {
	c := Counts{All: len(exs)}
	for _, e := range exs {
		switch e.Status {
		case StatusPending:
			c.Pending++
		case StatusAccepted:
			c.Accepted++
		case StatusCompleted:
			c.Completed++
		case StatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

// Contact builds the pending exchange created when initiator contacts the
// owner of p. On an offer the initiator is the requester; on a need the
// initiator is the helper.
func Contact(p post.Post, initiator string, now time.Time) (Draft, error) {
	if initiator == p.UserID {
		return Draft{}, ErrSelfContact
	}
	if p.Status != post.StatusActive {
		return Draft{}, ErrPostClosed
	}
	d := Draft{PostID: p.ID, Status: StatusPending, UpdatedAt: now}
	if p.Type == post.TypeOffer {
		d.RequesterID, d.HelperID = initiator, p.UserID
	} else {
		d.HelperID, d.RequesterID = initiator, p.UserID
	}
	return d, nil
}

// RespondToEmergency builds the exchange created when responder answers an
// emergency post. It starts out accepted.
func RespondToEmergency(p post.Post, responder string, now time.Time) (Draft, error) {
	if p.Urgency != post.UrgencyEmergency {
		return Draft{}, ErrNotEmergency
	}
	if responder == p.UserID {
		return Draft{}, ErrSelfContact
	}
	if p.Status != post.StatusActive {
		return Draft{}, ErrPostClosed
	}
	return Draft{
		PostID:      p.ID,
		HelperID:    responder,
		RequesterID: p.UserID,
		Status:      StatusAccepted,
		UpdatedAt:   now,
	}, nil
}
