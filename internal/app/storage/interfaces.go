package storage

import (
	"context"
	"time"

	"github.com/R3E-Network/mutualaid/internal/app/domain/exchange"
	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
	"github.com/R3E-Network/mutualaid/internal/app/domain/profile"
	"github.com/R3E-Network/mutualaid/internal/app/domain/verification"
)

// PostStore persists posts.
type PostStore interface {
	CreatePost(ctx context.Context, d post.Draft) (post.Post, error)
	GetPost(ctx context.Context, id string) (post.Post, error)
	GetPosts(ctx context.Context, ids []string) ([]post.Post, error)
	ListActivePosts(ctx context.Context, limit int) ([]post.Post, error)
	ListEmergencyPosts(ctx context.Context, limit int) ([]post.Post, error)
	ListPostsByUser(ctx context.Context, userID string, limit int) ([]post.Post, error)
	CountPostsByUser(ctx context.Context, userID string) (int, error)
	ClosePost(ctx context.Context, id, ownerID string) (post.Post, error)
}

// ExchangeStore persists exchanges.
type ExchangeStore interface {
	CreateExchange(ctx context.Context, d exchange.Draft) (exchange.Exchange, error)
	GetExchange(ctx context.Context, id string) (exchange.Exchange, error)
	ListExchanges(ctx context.Context, userID string, status exchange.Status) ([]exchange.Exchange, error)
	CountExchanges(ctx context.Context, userID string, statuses ...exchange.Status) (int, error)
	HasOpenExchange(ctx context.Context, postID, helperID, requesterID string) (bool, error)
	TransitionExchange(ctx context.Context, id string, from, to exchange.Status, at time.Time) (exchange.Exchange, error)
}

// ProfileStore persists profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (profile.Profile, error)
	GetProfiles(ctx context.Context, ids []string) ([]profile.Profile, error)
	UpsertProfile(ctx context.Context, record map[string]any) (profile.Profile, error)
	IncrementTrustLevel(ctx context.Context, id string) error
}

// VerificationStore persists verification requests.
type VerificationStore interface {
	CreateVerificationRequest(ctx context.Context, d verification.Draft) (verification.Request, error)
	ListVerificationRequests(ctx context.Context, userID string) ([]verification.Request, error)
	CountPendingVerifications(ctx context.Context, userID string) (int, error)
}

// CatalogCounts are platform-wide row counts published as gauges.
type CatalogCounts struct {
	ActivePosts    int
	EmergencyPosts int
	OpenExchanges  int
}

// StatsStore reads platform-wide counts.
type StatsStore interface {
	CatalogCounts(ctx context.Context) (CatalogCounts, error)
}
