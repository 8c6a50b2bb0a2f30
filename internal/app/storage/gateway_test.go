package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/mutualaid/internal/app/domain/exchange"
	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
	"github.com/R3E-Network/mutualaid/internal/app/domain/verification"
	"github.com/R3E-Network/mutualaid/internal/gateway"
	"github.com/R3E-Network/mutualaid/internal/gateway/memory"
)

func newStore(t *testing.T) (*Store, *memory.Gateway) {
	t.Helper()
	gw := memory.New()
	return New(gw), gw
}

func draft(user string, urg post.Urgency) post.Draft {
	return post.Draft{
		UserID: user, Type: post.TypeOffer, Category: post.CategoryTool,
		Title: "Drill", Location: "Elm St", Urgency: urg, Status: post.StatusActive,
	}
}

func TestPostLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	p, err := s.CreatePost(ctx, draft("u1", post.UrgencyLow))
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if p.ID == "" || p.CreatedAt.IsZero() {
		t.Fatalf("CreatePost() = %+v", p)
	}

	got, err := s.GetPost(ctx, p.ID)
	if err != nil || got.Title != "Drill" {
		t.Fatalf("GetPost() = %+v, %v", got, err)
	}
	if _, err := s.GetPost(ctx, "missing"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("GetPost(missing) error = %v, want ErrNotFound", err)
	}

	if _, err := s.ClosePost(ctx, p.ID, "intruder"); !errors.Is(err, gateway.ErrConflict) {
		t.Errorf("ClosePost(intruder) error = %v, want ErrConflict", err)
	}
	closed, err := s.ClosePost(ctx, p.ID, "u1")
	if err != nil || closed.Status != post.StatusClosed {
		t.Fatalf("ClosePost() = %+v, %v", closed, err)
	}
	active, err := s.ListActivePosts(ctx, post.FeedLimit)
	if err != nil || len(active) != 0 {
		t.Errorf("ListActivePosts() = %v, %v", active, err)
	}
	n, err := s.CountPostsByUser(ctx, "u1")
	if err != nil || n != 1 {
		t.Errorf("CountPostsByUser() = %d, %v", n, err)
	}
}

func TestListEmergencyPosts(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	for _, u := range []post.Urgency{post.UrgencyEmergency, post.UrgencyHigh, post.UrgencyEmergency} {
		if _, err := s.CreatePost(ctx, draft("u1", u)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListEmergencyPosts(ctx, post.EmergencyFeedLimit)
	if err != nil {
		t.Fatalf("ListEmergencyPosts() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListEmergencyPosts() returned %d posts, want 2", len(got))
	}
}

func TestExchangeQueries(t *testing.T) {
	ctx := context.Background()
	s, gw := newStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	gw.SetClock(func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) })

	e1, _ := s.CreateExchange(ctx, exchange.Draft{PostID: "p1", HelperID: "a", RequesterID: "b", Status: exchange.StatusPending})
	e2, _ := s.CreateExchange(ctx, exchange.Draft{PostID: "p2", HelperID: "b", RequesterID: "c", Status: exchange.StatusPending})
	_, _ = s.CreateExchange(ctx, exchange.Draft{PostID: "p3", HelperID: "c", RequesterID: "d", Status: exchange.StatusPending})

	list, err := s.ListExchanges(ctx, "b", "")
	if err != nil {
		t.Fatalf("ListExchanges() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != e2.ID || list[1].ID != e1.ID {
		t.Errorf("ListExchanges() = %+v, want [e2 e1]", list)
	}

	at := base.Add(time.Hour)
	moved, err := s.TransitionExchange(ctx, e1.ID, exchange.StatusPending, exchange.StatusAccepted, at)
	if err != nil || moved.Status != exchange.StatusAccepted || !moved.UpdatedAt.Equal(at) {
		t.Fatalf("TransitionExchange() = %+v, %v", moved, err)
	}
	if _, err := s.TransitionExchange(ctx, e1.ID, exchange.StatusPending, exchange.StatusCancelled, at); !errors.Is(err, gateway.ErrConflict) {
		t.Errorf("stale TransitionExchange() error = %v, want ErrConflict", err)
	}

	accepted, _ := s.ListExchanges(ctx, "b", exchange.StatusAccepted)
	if len(accepted) != 1 {
		t.Errorf("ListExchanges(accepted) = %d rows, want 1", len(accepted))
	}
	open, err := s.CountExchanges(ctx, "b", exchange.StatusPending, exchange.StatusAccepted)
	if err != nil || open != 2 {
		t.Errorf("CountExchanges(open) = %d, %v", open, err)
	}
	has, err := s.HasOpenExchange(ctx, "p1", "a", "b")
	if err != nil || !has {
		t.Errorf("HasOpenExchange() = %v, %v", has, err)
	}
}

func TestProfileUpsertAndTrust(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	if _, err := s.GetProfile(ctx, "u1"); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("GetProfile() error = %v, want ErrNotFound", err)
	}
	if _, err := s.UpsertProfile(ctx, map[string]any{"id": "u1", "username": "ana", "trust_level": 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementTrustLevel(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	p, err := s.GetProfile(ctx, "u1")
	if err != nil || p.TrustLevel != 1 || p.Username != "ana" {
		t.Errorf("GetProfile() = %+v, %v", p, err)
	}
	ps, err := s.GetProfiles(ctx, []string{"u1", "u2"})
	if err != nil || len(ps) != 1 {
		t.Errorf("GetProfiles() = %+v, %v", ps, err)
	}
}

func TestVerificationRequests(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	if _, err := s.CreateVerificationRequest(ctx, verification.New("u1", "please")); err != nil {
		t.Fatal(err)
	}
	n, err := s.CountPendingVerifications(ctx, "u1")
	if err != nil || n != 1 {
		t.Errorf("CountPendingVerifications() = %d, %v", n, err)
	}
	list, err := s.ListVerificationRequests(ctx, "u1")
	if err != nil || len(list) != 1 || list[0].Status != verification.StatusPending {
		t.Errorf("ListVerificationRequests() = %+v, %v", list, err)
	}
}

func TestCatalogCounts(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	p, _ := s.CreatePost(ctx, draft("u1", post.UrgencyLow))
	_, _ = s.CreatePost(ctx, draft("u2", post.UrgencyEmergency))
	e, _ := s.CreateExchange(ctx, exchange.Draft{PostID: p.ID, HelperID: "u1", RequesterID: "u3", Status: exchange.StatusPending})
	if _, err := s.TransitionExchange(ctx, e.ID, exchange.StatusPending, exchange.StatusCancelled, time.Now()); err != nil {
		t.Fatal(err)
	}
	_, _ = s.CreateExchange(ctx, exchange.Draft{PostID: p.ID, HelperID: "u1", RequesterID: "u4", Status: exchange.StatusPending})

	got, err := s.CatalogCounts(ctx)
	if err != nil {
		t.Fatalf("CatalogCounts() error = %v", err)
	}
	want := CatalogCounts{ActivePosts: 2, EmergencyPosts: 1, OpenExchanges: 1}
	if got != want {
		t.Errorf("CatalogCounts() = %+v, want %+v", got, want)
	}
}
