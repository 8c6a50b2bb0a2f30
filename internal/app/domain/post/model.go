package post

import "time"

// Type says whether a post offers or requests help.
type Type string

const (
	TypeOffer Type = "offer"
	TypeNeed  Type = "need"
)

// Category classifies what is offered or needed.
type Category string

const (
	CategorySkill Category = "skill"
	CategoryTool  Category = "tool"
	CategoryGood  Category = "good"
	CategoryTime  Category = "time"
	CategorySpace Category = "space"
)

// Urgency orders posts in the feed.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// Status is the lifecycle of a post. Only active posts are listed.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Post is a user-authored offer or need. Everything but Status is immutable
// after creation.
type Post struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Type         Type      `json:"type"`
	Category     Category  `json:"category"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Urgency      Urgency   `json:"urgency"`
	Location     string    `json:"location"`
	Availability string    `json:"availability,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Draft is the insertable part of a post.
type Draft struct {
	UserID       string   `json:"user_id" validate:"required"`
	Type         Type     `json:"type" validate:"required,oneof=offer need"`
	Category     Category `json:"category" validate:"required,oneof=skill tool good time space"`
	Title        string   `json:"title" validate:"required,max=200"`
	Description  string   `json:"description,omitempty" validate:"max=2000"`
	Urgency      Urgency  `json:"urgency" validate:"required,oneof=low medium high emergency"`
	Location     string   `json:"location" validate:"required,max=200"`
	Availability string   `json:"availability,omitempty" validate:"max=200"`
	Status       Status   `json:"status" validate:"required,oneof=active closed"`
}
