package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/mutualaid/internal/app/domain/exchange"
	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
	"github.com/R3E-Network/mutualaid/internal/app/domain/profile"
	"github.com/R3E-Network/mutualaid/internal/app/domain/verification"
	"github.com/R3E-Network/mutualaid/internal/gateway"
)

// Store implements the storage interfaces on top of a gateway.
type Store struct {
	gw gateway.Gateway
}

var _ PostStore = (*Store)(nil)
var _ ExchangeStore = (*Store)(nil)
var _ ProfileStore = (*Store)(nil)
var _ VerificationStore = (*Store)(nil)

// New creates a Store using the provided gateway.
func New(gw gateway.Gateway) *Store {
	return &Store{gw: gw}
}

// Gateway exposes the underlying gateway for change subscriptions.
func (s *Store) Gateway() gateway.Gateway {
	return s.gw
}

func byID[T any](ctx context.Context, gw gateway.Gateway, table, id string) (T, error) {
	var zero T
	var rows []T
	if err := gw.Select(ctx, table, gateway.Where(gateway.Eq("id", id)).WithLimit(1), &rows); err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("%s %s: %w", table, id, gateway.ErrNotFound)
	}
	return rows[0], nil
}

func byIDs[T any](ctx context.Context, gw gateway.Gateway, table string, ids []string) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	var rows []T
	if err := gw.Select(ctx, table, gateway.Where(gateway.In("id", vals...)), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// --- PostStore --------------------------------------------------------------

func (s *Store) CreatePost(ctx context.Context, d post.Draft) (post.Post, error) {
	var p post.Post
	err := s.gw.Insert(ctx, gateway.TablePosts, d, &p)
	return p, err
}

func (s *Store) GetPost(ctx context.Context, id string) (post.Post, error) {
	return byID[post.Post](ctx, s.gw, gateway.TablePosts, id)
}

func (s *Store) GetPosts(ctx context.Context, ids []string) ([]post.Post, error) {
	return byIDs[post.Post](ctx, s.gw, gateway.TablePosts, ids)
}

func (s *Store) ListActivePosts(ctx context.Context, limit int) ([]post.Post, error) {
	q := gateway.Where(gateway.Eq("status", post.StatusActive)).
		OrderBy("created_at", true).
		WithLimit(limit)
	var out []post.Post
	err := s.gw.Select(ctx, gateway.TablePosts, q, &out)
	return out, err
}

func (s *Store) ListEmergencyPosts(ctx context.Context, limit int) ([]post.Post, error) {
	q := gateway.Where(
		gateway.Eq("status", post.StatusActive),
		gateway.Eq("urgency", post.UrgencyEmergency),
	).OrderBy("created_at", true).WithLimit(limit)
	var out []post.Post
	err := s.gw.Select(ctx, gateway.TablePosts, q, &out)
	return out, err
}

func (s *Store) ListPostsByUser(ctx context.Context, userID string, limit int) ([]post.Post, error) {
	q := gateway.Where(gateway.Eq("user_id", userID)).OrderBy("created_at", true).WithLimit(limit)
	var out []post.Post
	err := s.gw.Select(ctx, gateway.TablePosts, q, &out)
	return out, err
}

func (s *Store) CountPostsByUser(ctx context.Context, userID string) (int, error) {
	return s.gw.Count(ctx, gateway.TablePosts, gateway.Where(gateway.Eq("user_id", userID)))
}

// ClosePost closes an active post owned by ownerID. Any other state yields
// gateway.ErrConflict.
func (s *Store) ClosePost(ctx context.Context, id, ownerID string) (post.Post, error) {
	expect := gateway.Where(
		gateway.Eq("user_id", ownerID),
		gateway.Eq("status", post.StatusActive),
	)
	var p post.Post
	err := s.gw.UpdateWhere(ctx, gateway.TablePosts, id, expect, map[string]any{"status": post.StatusClosed}, &p)
	return p, err
}

// --- ExchangeStore ----------------------------------------------------------

func (s *Store) CreateExchange(ctx context.Context, d exchange.Draft) (exchange.Exchange, error) {
	var e exchange.Exchange
	err := s.gw.Insert(ctx, gateway.TableExchanges, d, &e)
	return e, err
}

func (s *Store) GetExchange(ctx context.Context, id string) (exchange.Exchange, error) {
	return byID[exchange.Exchange](ctx, s.gw, gateway.TableExchanges, id)
}

func participantQuery(userID string) gateway.Query {
	return gateway.Query{}.Or(gateway.Eq("helper_id", userID), gateway.Eq("requester_id", userID))
}

// ListExchanges returns userID's exchanges newest first. An empty status
// lists all of them.
func (s *Store) ListExchanges(ctx context.Context, userID string, status exchange.Status) ([]exchange.Exchange, error) {
	q := participantQuery(userID)
	if status != "" {
		q.Filters = append(q.Filters, gateway.Eq("status", status))
	}
	var out []exchange.Exchange
	err := s.gw.Select(ctx, gateway.TableExchanges, q.OrderBy("created_at", true), &out)
	return out, err
}

func (s *Store) CountExchanges(ctx context.Context, userID string, statuses ...exchange.Status) (int, error) {
	q := participantQuery(userID)
	if len(statuses) > 0 {
		vals := make([]any, len(statuses))
		for i, st := range statuses {
			vals[i] = st
		}
		q.Filters = append(q.Filters, gateway.In("status", vals...))
	}
	return s.gw.Count(ctx, gateway.TableExchanges, q)
}

func (s *Store) HasOpenExchange(ctx context.Context, postID, helperID, requesterID string) (bool, error) {
	n, err := s.gw.Count(ctx, gateway.TableExchanges, gateway.Where(
		gateway.Eq("post_id", postID),
		gateway.Eq("helper_id", helperID),
		gateway.Eq("requester_id", requesterID),
		gateway.In("status", exchange.StatusPending, exchange.StatusAccepted),
	))
	return n > 0, err
}

// TransitionExchange moves an exchange from one status to another. If the
// stored status is no longer from, gateway.ErrConflict is returned and
// nothing changes.
func (s *Store) TransitionExchange(ctx context.Context, id string, from, to exchange.Status, at time.Time) (exchange.Exchange, error) {
	patch := map[string]any{
		"status":     to,
		"updated_at": at.UTC().Format(time.RFC3339Nano),
	}
	var e exchange.Exchange
	err := s.gw.UpdateWhere(ctx, gateway.TableExchanges, id, gateway.Where(gateway.Eq("status", from)), patch, &e)
	return e, err
}

// --- ProfileStore -----------------------------------------------------------

func (s *Store) GetProfile(ctx context.Context, id string) (profile.Profile, error) {
	return byID[profile.Profile](ctx, s.gw, gateway.TableProfiles, id)
}

func (s *Store) GetProfiles(ctx context.Context, ids []string) ([]profile.Profile, error) {
	return byIDs[profile.Profile](ctx, s.gw, gateway.TableProfiles, ids)
}

func (s *Store) UpsertProfile(ctx context.Context, record map[string]any) (profile.Profile, error) {
	var p profile.Profile
	err := s.gw.Upsert(ctx, gateway.TableProfiles, record, &p)
	return p, err
}

func (s *Store) IncrementTrustLevel(ctx context.Context, id string) error {
	return s.gw.CallProcedure(ctx, gateway.ProcIncrementTrustLevel, map[string]any{"user_id": id})
}

// --- VerificationStore ------------------------------------------------------

func (s *Store) CreateVerificationRequest(ctx context.Context, d verification.Draft) (verification.Request, error) {
	var r verification.Request
	err := s.gw.Insert(ctx, gateway.TableVerificationRequests, d, &r)
	return r, err
}

func (s *Store) ListVerificationRequests(ctx context.Context, userID string) ([]verification.Request, error) {
	q := gateway.Where(gateway.Eq("user_id", userID)).OrderBy("created_at", true)
	var out []verification.Request
	err := s.gw.Select(ctx, gateway.TableVerificationRequests, q, &out)
	return out, err
}

func (s *Store) CountPendingVerifications(ctx context.Context, userID string) (int, error) {
	return s.gw.Count(ctx, gateway.TableVerificationRequests, gateway.Where(
		gateway.Eq("user_id", userID),
		gateway.Eq("status", verification.StatusPending),
	))
}

// CatalogCounts counts active posts, active emergency posts and open
// exchanges.
func (s *Store) CatalogCounts(ctx context.Context) (CatalogCounts, error) {
	var c CatalogCounts
	var err error
	if c.ActivePosts, err = s.gw.Count(ctx, gateway.TablePosts, gateway.Where(gateway.Eq("status", post.StatusActive))); err != nil {
		return c, err
	}
	if c.EmergencyPosts, err = s.gw.Count(ctx, gateway.TablePosts, gateway.Where(
		gateway.Eq("status", post.StatusActive),
		gateway.Eq("urgency", post.UrgencyEmergency),
	)); err != nil {
		return c, err
	}
	c.OpenExchanges, err = s.gw.Count(ctx, gateway.TableExchanges, gateway.Where(
		gateway.In("status", exchange.StatusPending, exchange.StatusAccepted),
	))
	return c, err
}
