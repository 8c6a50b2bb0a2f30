// Package profile models the per-user profile and the explicit set of
// fields its owner may write.
package profile

import (
	"strings"
	"time"
)

// Profile is keyed by the user id. TrustLevel and Verified are owned by the
// system and never written by the user.
type Profile struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	Location         string     `json:"location,omitempty"`
	Bio              string     `json:"bio,omitempty"`
	Skills           string     `json:"skills"`
	Phone            string     `json:"phone,omitempty"`
	EmergencyContact string     `json:"emergency_contact,omitempty"`
	Availability     string     `json:"availability,omitempty"`
	TrustLevel       int        `json:"trust_level"`
	Verified         bool       `json:"verified"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// Empty is the profile returned for a user who has never saved one.
func Empty(userID string) Profile {
	return Profile{ID: userID}
}

// SkillList splits the comma-separated skills tag string.
func (p Profile) SkillList() []string {
	return ParseSkills(p.Skills)
}

// ParseSkills trims each comma-separated tag and drops empties.
func ParseSkills(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// Update enumerates every field the owner may write. A nil field is left
// untouched on an existing profile and defaults to empty on a new one.
type Update struct {
	Username         *string `json:"username,omitempty" validate:"omitempty,max=50"`
	Location         *string `json:"location,omitempty" validate:"omitempty,max=200"`
	Bio              *string `json:"bio,omitempty" validate:"omitempty,max=1000"`
	Skills           *string `json:"skills,omitempty" validate:"omitempty,max=500"`
	Phone            *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	EmergencyContact *string `json:"emergency_contact,omitempty" validate:"omitempty,max=200"`
	Availability     *string `json:"availability,omitempty" validate:"omitempty,max=200"`
}

// Empty reports whether u sets no field.
func (u Update) Empty() bool {
	return u.Username == nil && u.Location == nil && u.Bio == nil && u.Skills == nil &&
		u.Phone == nil && u.EmergencyContact == nil && u.Availability == nil
}

// Patch builds the upsert record for userID. Skills are normalized to the
// joined tag list.
func (u Update) Patch(userID string, now time.Time) map[string]any {
	rec := map[string]any{
		"id":         userID,
		"updated_at": now.UTC().Format(time.RFC3339Nano),
	}
	set := func(key string, v *string) {
		if v != nil {
			rec[key] = strings.TrimSpace(*v)
		}
	}
	set("username", u.Username)
	set("location", u.Location)
	set("bio", u.Bio)
	set("phone", u.Phone)
	set("emergency_contact", u.EmergencyContact)
	set("availability", u.Availability)
	if u.Skills != nil {
		rec["skills"] = strings.Join(ParseSkills(*u.Skills), ", ")
	}
	return rec
}

// Apply returns p with u's fields written over it.
func (u Update) Apply(p Profile) Profile {
	get := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	get(&p.Username, u.Username)
	get(&p.Location, u.Location)
	get(&p.Bio, u.Bio)
	get(&p.Phone, u.Phone)
	get(&p.EmergencyContact, u.EmergencyContact)
	get(&p.Availability, u.Availability)
	if u.Skills != nil {
		p.Skills = strings.Join(ParseSkills(*u.Skills), ", ")
	}
	return p
}

// Contact is the subset of a profile shown next to an emergency post.
type Contact struct {
	Username         string `json:"username,omitempty"`
	Phone            string `json:"phone,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
}

// ContactOf extracts p's contact details.
func ContactOf(p Profile) Contact {
	return Contact{Username: p.Username, Phone: p.Phone, EmergencyContact: p.EmergencyContact}
}
