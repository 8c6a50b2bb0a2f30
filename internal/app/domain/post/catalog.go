// Package post holds the post model, feed filtering and ordering, and the
// enum catalogs shown to clients.
package post

import (
	"sort"
	"strings"
)

// FeedLimit caps how many active posts the feed considers.
const FeedLimit = 100

// EmergencyFeedLimit caps the emergency feed.
const EmergencyFeedLimit = 20

// Rank orders urgencies: emergency 4, high 3, medium 2, low 1. Unknown
// values rank 0.
func Rank(u Urgency) int {
	switch u {
	case UrgencyEmergency:
		return 4
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	default:
		return 0
	}
}

// Filter is a conjunction of optional predicates. Zero fields match
// everything.
type Filter struct {
	Type     Type
	Category Category
	Urgency  Urgency
	Text     string
}

// Match reports whether p satisfies every set predicate. Text matches a
// case-insensitive substring of the title, description or location.
func (f Filter) Match(p Post) bool {
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Urgency != "" && p.Urgency != f.Urgency {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(f.Text))
	if text == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Title), text) ||
		strings.Contains(strings.ToLower(p.Description), text) ||
		strings.Contains(strings.ToLower(p.Location), text)
}

// Sort orders posts by urgency rank then creation time, both descending.
func Sort(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		ri, rj := Rank(posts[i].Urgency), Rank(posts[j].Urgency)
		if ri != rj {
			return ri > rj
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}

// Feed returns the active posts matching f in feed order. The input is not
// modified.
func Feed(posts []Post, f Filter) []Post {
	out := make([]Post, 0, len(posts))
	for _, p := range posts {
		if p.Status == StatusActive && f.Match(p) {
			out = append(out, p)
		}
	}
	Sort(out)
	return out
}

// Option is one entry of an enum catalog.
type Option struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Emoji string `json:"emoji,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// Categories lists every category.
var Categories = []Option{
	{ID: string(CategorySkill), Name: "Skill", Emoji: "🛠️"},
	{ID: string(CategoryTool), Name: "Tool", Emoji: "🔧"},
	{ID: string(CategoryGood), Name: "Good", Emoji: "📦"},
	{ID: string(CategoryTime), Name: "Time", Emoji: "⏰"},
	{ID: string(CategorySpace), Name: "Space", Emoji: "🏠"},
}

// UrgencyLevels lists urgencies from lowest to highest.
var UrgencyLevels = []Option{
	{ID: string(UrgencyLow), Name: "Low", Emoji: "🟢"},
	{ID: string(UrgencyMedium), Name: "Medium", Emoji: "🟡"},
	{ID: string(UrgencyHigh), Name: "High", Emoji: "🟠"},
	{ID: string(UrgencyEmergency), Name: "Emergency", Emoji: "🔴"},
}

// Types lists post types.
var Types = []Option{
	{ID: string(TypeOffer), Name: "Offer", Emoji: "🤝", Hint: "I can help"},
	{ID: string(TypeNeed), Name: "Need", Emoji: "🙏", Hint: "I need help"},
}

// EmergencyTemplate prefills the title of an emergency post.
type EmergencyTemplate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Title       string `json:"title"`
}

// EmergencyTemplates are the quick-start emergency kinds.
var EmergencyTemplates = []EmergencyTemplate{
	{ID: "medical", Name: "Medical Emergency", Description: "Need immediate medical help", Title: "Medical emergency - need immediate assistance"},
	{ID: "breakdown", Name: "Vehicle Breakdown", Description: "Car/bike broken down", Title: "Vehicle breakdown - need roadside assistance"},
	{ID: "safety", Name: "Safety Concern", Description: "Personal safety issue", Title: "Safety concern - need help or escort"},
	{ID: "other", Name: "Other Emergency", Description: "Other urgent situation", Title: "Emergency situation - need immediate help"},
}

// Template looks up an emergency template by id.
func Template(id string) (EmergencyTemplate, bool) {
	for _, t := range EmergencyTemplates {
		if t.ID == id {
			return t, true
		}
	}
	return EmergencyTemplate{}, false
}

// Emergency builds the draft for a raised emergency: a time need with
// emergency urgency.
func Emergency(userID, title, description, location string) Draft {
	return Draft{
		UserID:      userID,
		Type:        TypeNeed,
		Category:    CategoryTime,
		Title:       title,
		Description: description,
		Urgency:     UrgencyEmergency,
		Location:    location,
		Status:      StatusActive,
	}
}

// Normalize trims text fields and applies defaults.
func (d Draft) Normalize() Draft {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.Location = strings.TrimSpace(d.Location)
	d.Availability = strings.TrimSpace(d.Availability)
	d.Type = Type(strings.ToLower(string(d.Type)))
	d.Category = Category(strings.ToLower(string(d.Category)))
	d.Urgency = Urgency(strings.ToLower(string(d.Urgency)))
	if d.Urgency == "" {
		d.Urgency = UrgencyLow
	}
	if d.Status == "" {
		d.Status = StatusActive
	}
	return d
}
