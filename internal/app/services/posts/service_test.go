package posts

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/mutualaid/internal/app/cache"
	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
	"github.com/R3E-Network/mutualaid/internal/app/storage"
	"github.com/R3E-Network/mutualaid/internal/errors"
	"github.com/R3E-Network/mutualaid/internal/gateway/memory"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

func newService(t *testing.T) (*Service, *storage.Store, *memory.Gateway) {
	t.Helper()
	gw := memory.New()
	store := storage.New(gw)
	return New(store, store, cache.NewMemory(), logging.NewDiscard()), store, gw
}

func codeOf(err error) errors.Code {
	if se := errors.GetServiceError(err); se != nil {
		return se.Code
	}
	return ""
}

func offer(title string, urg post.Urgency) post.Draft {
	return post.Draft{Type: post.TypeOffer, Category: post.CategoryTool, Title: title, Location: "Elm St", Urgency: urg}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		draft post.Draft
	}{
		{"blank title", post.Draft{Type: post.TypeOffer, Category: post.CategoryTool, Title: "   ", Location: "Elm"}},
		{"blank location", post.Draft{Type: post.TypeOffer, Category: post.CategoryTool, Title: "Drill", Location: "\t"}},
		{"bad type", post.Draft{Type: "trade", Category: post.CategoryTool, Title: "Drill", Location: "Elm"}},
		{"bad category", post.Draft{Type: post.TypeNeed, Category: "car", Title: "Drill", Location: "Elm"}},
		{"bad urgency", post.Draft{Type: post.TypeNeed, Category: post.CategoryTool, Title: "Drill", Location: "Elm", Urgency: "asap"}},
		{"closed on create", post.Draft{Type: post.TypeNeed, Category: post.CategoryTool, Title: "Drill", Location: "Elm", Status: post.StatusClosed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, "u1", tt.draft); codeOf(err) != errors.CodeValidation {
				t.Fatalf("Create() error = %v, want validation", err)
			}
		})
	}
}

func TestCreateDefaults(t *testing.T) {
	svc, _, _ := newService(t)
	p, err := svc.Create(context.Background(), "u1", post.Draft{Type: "Offer", Category: "tool", Title: " Drill ", Location: "Elm St"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.Urgency != post.UrgencyLow || p.Status != post.StatusActive || p.Title != "Drill" || p.UserID != "u1" {
		t.Errorf("Create() = %+v", p)
	}
}

func TestFeedIsInvalidatedOnCreate(t *testing.T) {
	svc, _, gw := newService(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	gw.SetClock(func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) })

	if _, err := svc.Create(ctx, "u1", offer("old", post.UrgencyHigh)); err != nil {
		t.Fatal(err)
	}
	feed, err := svc.Feed(ctx, post.Filter{})
	if err != nil || len(feed) != 1 {
		t.Fatalf("Feed() = %v, %v", feed, err)
	}

	if _, err := svc.Create(ctx, "u2", offer("new", post.UrgencyHigh)); err != nil {
		t.Fatal(err)
	}
	feed, err = svc.Feed(ctx, post.Filter{})
	if err != nil || len(feed) != 2 {
		t.Fatalf("Feed() after create = %d posts, %v", len(feed), err)
	}
	if feed[0].Title != "new" {
		t.Errorf("Feed()[0] = %q, want newest first", feed[0].Title)
	}

	filtered, _ := svc.Feed(ctx, post.Filter{Text: "OLD"})
	if len(filtered) != 1 || filtered[0].Title != "old" {
		t.Errorf("Feed(q=OLD) = %+v", filtered)
	}
}

func TestEmergencyFeedCarriesOwnerContact(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	if _, err := store.UpsertProfile(ctx, map[string]any{"id": "u1", "username": "ana", "phone": "555-0100"}); err != nil {
		t.Fatal(err)
	}

	p, err := svc.RaiseEmergency(ctx, "u1", "medical", "", "", "Main St")
	if err != nil {
		t.Fatalf("RaiseEmergency() error = %v", err)
	}
	if p.Title != "Medical emergency - need immediate assistance" || p.Category != post.CategoryTime || p.Type != post.TypeNeed {
		t.Errorf("RaiseEmergency() = %+v", p)
	}
	if _, err := svc.Create(ctx, "u2", offer("calm", post.UrgencyHigh)); err != nil {
		t.Fatal(err)
	}

	feed, err := svc.EmergencyFeed(ctx)
	if err != nil {
		t.Fatalf("EmergencyFeed() error = %v", err)
	}
	if len(feed) != 1 {
		t.Fatalf("EmergencyFeed() = %d posts, want 1", len(feed))
	}
	if feed[0].Owner.Username != "ana" || feed[0].Owner.Phone != "555-0100" {
		t.Errorf("owner contact = %+v", feed[0].Owner)
	}

	if _, err := svc.RaiseEmergency(ctx, "u1", "fire", "", "", "Main St"); codeOf(err) != errors.CodeValidation {
		t.Errorf("unknown template error = %v", err)
	}
}

func TestClose(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, "owner", offer("Drill", post.UrgencyLow))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Feed(ctx, post.Filter{}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Close(ctx, "intruder", p.ID); codeOf(err) != errors.CodeForbidden {
		t.Errorf("Close(intruder) error = %v", err)
	}
	closed, err := svc.Close(ctx, "owner", p.ID)
	if err != nil || closed.Status != post.StatusClosed {
		t.Fatalf("Close() = %+v, %v", closed, err)
	}
	if _, err := svc.Close(ctx, "owner", p.ID); codeOf(err) != errors.CodeConflict {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := svc.Close(ctx, "owner", "missing"); codeOf(err) != errors.CodeNotFound {
		t.Errorf("Close(missing) error = %v", err)
	}

	feed, _ := svc.Feed(ctx, post.Filter{})
	if len(feed) != 0 {
		t.Errorf("closed post still in feed: %+v", feed)
	}
}
