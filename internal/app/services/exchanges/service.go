// Package exchanges runs the exchange lifecycle: creation by contact or
// emergency response, permission-checked transitions with the trust side
// effect, and participant listings.
package exchanges

import (
	"context"
	"time"

	"github.com/R3E-Network/mutualaid/internal/app/cache"
	"github.com/R3E-Network/mutualaid/internal/app/domain/exchange"
	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
	"github.com/R3E-Network/mutualaid/internal/app/metrics"
	"github.com/R3E-Network/mutualaid/internal/app/services"
	"github.com/R3E-Network/mutualaid/internal/app/storage"
	"github.com/R3E-Network/mutualaid/internal/errors"
	"github.com/R3E-Network/mutualaid/internal/gateway"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

// TrustScorer applies the completion side effect.
type TrustScorer interface {
	IncrementPair(ctx context.Context, helperID, requesterID string) error
}

// PostSummary is the part of a post shown next to an exchange.
type PostSummary struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Type     post.Type     `json:"type"`
	Category post.Category `json:"category"`
	Urgency  post.Urgency  `json:"urgency"`
	Location string        `json:"location"`
}

// Entry is an exchange as seen by one participant.
type Entry struct {
	exchange.Exchange
	Post              *PostSummary      `json:"post,omitempty"`
	HelperUsername    string            `json:"helper_username,omitempty"`
	RequesterUsername string            `json:"requester_username,omitempty"`
	Role              exchange.Role     `json:"role"`
	Actions           []exchange.Status `json:"actions"`
}

// Service manages exchanges.
type Service struct {
	store    storage.ExchangeStore
	posts    storage.PostStore
	profiles storage.ProfileStore
	trust    TrustScorer
	cache    cache.Cache
	ttl      time.Duration
	log      *logging.Logger
	now      func() time.Time
}

// New constructs an exchange service.
func New(store storage.ExchangeStore, posts storage.PostStore, profiles storage.ProfileStore, trust TrustScorer, c cache.Cache, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("exchanges")
	}
	return &Service{
		store:    store,
		posts:    posts,
		profiles: profiles,
		trust:    trust,
		cache:    c,
		ttl:      time.Minute,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithTTL sets how long cached reads live.
func (s *Service) WithTTL(ttl time.Duration) {
	s.ttl = ttl
}

// Contact opens a pending exchange between userID and the owner of postID.
func (s *Service) Contact(ctx context.Context, userID, postID string) (exchange.Exchange, error) {
	p, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return exchange.Exchange{}, services.FromGateway(err, "post")
	}
	d, err := exchange.Contact(p, userID, s.now())
	if err != nil {
		return exchange.Exchange{}, fromDomain(err)
	}
	return s.open(ctx, d, "exchange opened")
}

// RespondToEmergency opens an accepted exchange with userID as helper.
func (s *Service) RespondToEmergency(ctx context.Context, userID, postID string) (exchange.Exchange, error) {
	p, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return exchange.Exchange{}, services.FromGateway(err, "post")
	}
	d, err := exchange.RespondToEmergency(p, userID, s.now())
	if err != nil {
		return exchange.Exchange{}, fromDomain(err)
	}
	return s.open(ctx, d, "emergency response")
}

func (s *Service) open(ctx context.Context, d exchange.Draft, msg string) (exchange.Exchange, error) {
	dup, err := s.store.HasOpenExchange(ctx, d.PostID, d.HelperID, d.RequesterID)
	if err != nil {
		return exchange.Exchange{}, services.FromGateway(err, "exchange")
	}
	if dup {
		return exchange.Exchange{}, fromDomain(exchange.ErrDuplicateExchange)
	}
	e, err := s.store.CreateExchange(ctx, d)
	if errors.Is(err, gateway.ErrConflict) {
		// the open-pair index caught a concurrent contact
		return exchange.Exchange{}, fromDomain(exchange.ErrDuplicateExchange)
	}
	if err != nil {
		return exchange.Exchange{}, services.FromGateway(err, "exchange")
	}
	s.invalidate(ctx, e)
	s.log.WithContext(ctx).
		WithField("exchange_id", e.ID).
		WithField("post_id", e.PostID).
		WithField("status", e.Status).
		Info(msg)
	return e, nil
}

// Transition moves exchangeID to target on behalf of userID. Landing on
// completed increments both participants' trust exactly once: the status
// write is conditional on the status the check was made against, so a
// racing request loses with a conflict.
func (s *Service) Transition(ctx context.Context, userID, exchangeID string, target exchange.Status) (exchange.Exchange, error) {
	e, err := s.store.GetExchange(ctx, exchangeID)
	if err != nil {
		return exchange.Exchange{}, services.FromGateway(err, "exchange")
	}
	p, err := s.posts.GetPost(ctx, e.PostID)
	if err != nil {
		return exchange.Exchange{}, services.FromGateway(err, "post")
	}
	if err := exchange.CheckTransition(e, userID, p.Type, target); err != nil {
		if errors.Is(err, exchange.ErrTransitionNotAllowed) || errors.Is(err, exchange.ErrNotParticipant) {
			s.log.LogSecurityEvent(ctx, "exchange_transition_denied", map[string]interface{}{
				"exchange_id": exchangeID,
				"from":        e.Status,
				"to":          target,
			})
		}
		return exchange.Exchange{}, fromDomain(err)
	}

	updated, err := s.store.TransitionExchange(ctx, e.ID, e.Status, target, s.now())
	if errors.Is(err, gateway.ErrConflict) {
		return exchange.Exchange{}, errors.Conflict("exchange status changed; reload and retry", err)
	}
	if err != nil {
		return exchange.Exchange{}, services.FromGateway(err, "exchange")
	}
	s.invalidate(ctx, updated)
	metrics.RecordTransition(string(e.Status), string(target))

	log := s.log.WithContext(ctx).
		WithField("exchange_id", e.ID).
		WithField("from", e.Status).
		WithField("to", target).
		WithField("role", e.RoleOf(userID, p.Type))
	log.Info("exchange transitioned")

	if target == exchange.StatusCompleted && s.trust != nil {
		err := s.trust.IncrementPair(ctx, updated.HelperID, updated.RequesterID)
		// either increment may have landed, so cached profiles are stale
		s.invalidate(ctx, updated)
		if err != nil {
			log.WithError(err).Error("trust side effect failed after completion")
			return updated, errors.Gateway(err).WithDetails("status_committed", true)
		}
	}
	return updated, nil
}

// Actions lists the statuses userID may move exchangeID to.
func (s *Service) Actions(ctx context.Context, userID, exchangeID string) ([]exchange.Status, error) {
	e, err := s.store.GetExchange(ctx, exchangeID)
	if err != nil {
		return nil, services.FromGateway(err, "exchange")
	}
	if !e.IsParticipant(userID) {
		return nil, fromDomain(exchange.ErrNotParticipant)
	}
	p, err := s.posts.GetPost(ctx, e.PostID)
	if err != nil {
		return nil, services.FromGateway(err, "post")
	}
	return exchange.AllowedTargets(e, userID, p.Type), nil
}

// List returns userID's exchanges newest first, optionally narrowed to one
// status, each with its post summary and participant usernames.
func (s *Service) List(ctx context.Context, userID string, status exchange.Status) ([]Entry, error) {
	if status != "" && !status.Valid() {
		return nil, errors.Validation("unknown status " + string(status))
	}
	key := cache.ExchangesScope(userID) + "list:" + string(status)
	return cache.Load(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]Entry, error) {
		list, err := s.store.ListExchanges(ctx, userID, status)
		if err != nil {
			return nil, services.FromGateway(err, "exchange")
		}
		return s.enrich(ctx, userID, list)
	})
}

// Counts tallies userID's exchanges per status.
func (s *Service) Counts(ctx context.Context, userID string) (exchange.Counts, error) {
	return cache.Load(ctx, s.cache, cache.ExchangesScope(userID)+"counts", s.ttl, func(ctx context.Context) (exchange.Counts, error) {
		list, err := s.store.ListExchanges(ctx, userID, "")
		if err != nil {
			return exchange.Counts{}, services.FromGateway(err, "exchange")
		}
		return exchange.Tally(list), nil
	})
}

func (s *Service) enrich(ctx context.Context, userID string, list []exchange.Exchange) ([]Entry, error) {
	postIDs := make([]string, 0, len(list))
	userIDs := make([]string, 0, 2*len(list))
	seen := make(map[string]bool)
	for _, e := range list {
		if !seen["p"+e.PostID] {
			seen["p"+e.PostID] = true
			postIDs = append(postIDs, e.PostID)
		}
		for _, id := range []string{e.HelperID, e.RequesterID} {
			if !seen["u"+id] {
				seen["u"+id] = true
				userIDs = append(userIDs, id)
			}
		}
	}

	postsByID := make(map[string]post.Post, len(postIDs))
	if len(postIDs) > 0 {
		ps, err := s.posts.GetPosts(ctx, postIDs)
		if err != nil {
			return nil, services.FromGateway(err, "post")
		}
		for _, p := range ps {
			postsByID[p.ID] = p
		}
	}
	names := make(map[string]string, len(userIDs))
	if s.profiles != nil && len(userIDs) > 0 {
		profs, err := s.profiles.GetProfiles(ctx, userIDs)
		if err != nil {
			return nil, services.FromGateway(err, "profile")
		}
		for _, pr := range profs {
			names[pr.ID] = pr.Username
		}
	}

	out := make([]Entry, len(list))
	for i, e := range list {
		entry := Entry{
			Exchange:          e,
			HelperUsername:    names[e.HelperID],
			RequesterUsername: names[e.RequesterID],
			Actions:           []exchange.Status{},
		}
		if p, ok := postsByID[e.PostID]; ok {
			entry.Post = &PostSummary{ID: p.ID, Title: p.Title, Type: p.Type, Category: p.Category, Urgency: p.Urgency, Location: p.Location}
			entry.Role = e.RoleOf(userID, p.Type)
			if targets := exchange.AllowedTargets(e, userID, p.Type); len(targets) > 0 {
				entry.Actions = targets
			}
		}
		out[i] = entry
	}
	return out, nil
}

func (s *Service) invalidate(ctx context.Context, e exchange.Exchange) {
	scopes := []string{
		cache.ExchangesScope(e.HelperID), cache.ExchangesScope(e.RequesterID),
		cache.DashboardScope(e.HelperID), cache.DashboardScope(e.RequesterID),
	}
	if e.Status == exchange.StatusCompleted {
		// completion moves both trust levels
		scopes = append(scopes, cache.ProfileScope(e.HelperID), cache.ProfileScope(e.RequesterID))
	}
	err := cache.Invalidate(ctx, s.cache, scopes...)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("cache invalidation failed")
	}
}

func fromDomain(err error) error {
	switch {
	case errors.Is(err, exchange.ErrNotParticipant):
		return errors.Forbidden("not a participant in this exchange", err)
	case errors.Is(err, exchange.ErrTransitionNotAllowed):
		return errors.Forbidden("transition not allowed", err)
	case errors.Is(err, exchange.ErrUnknownStatus):
		return errors.Validation(err.Error())
	case errors.Is(err, exchange.ErrSelfContact):
		return errors.Validation("cannot contact your own post")
	case errors.Is(err, exchange.ErrNotEmergency):
		return errors.Validation("post is not an emergency")
	case errors.Is(err, exchange.ErrPostClosed):
		return errors.Conflict("post is closed", err)
	case errors.Is(err, exchange.ErrDuplicateExchange):
		return errors.Conflict("an open exchange already exists for this post", err)
	default:
		return errors.Internal("exchange failed", err)
	}
}
