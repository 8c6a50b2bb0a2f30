// Package profiles reads and writes the caller's own profile.
package profiles

import (
	"context"
	"time"

	"github.com/R3E-Network/mutualaid/internal/app/cache"
	"github.com/R3E-Network/mutualaid/internal/app/domain/profile"
	"github.com/R3E-Network/mutualaid/internal/app/services"
	"github.com/R3E-Network/mutualaid/internal/app/storage"
	"github.com/R3E-Network/mutualaid/internal/errors"
	"github.com/R3E-Network/mutualaid/internal/gateway"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

// Service manages profiles.
type Service struct {
	store storage.ProfileStore
	cache cache.Cache
	ttl   time.Duration
	log   *logging.Logger
	now   func() time.Time
}

// New constructs a profile service.
func New(store storage.ProfileStore, c cache.Cache, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("profiles")
	}
	return &Service{store: store, cache: c, ttl: time.Minute, log: log, now: time.Now}
}

// Get returns userID's profile, or an empty one if none was saved yet.
func (s *Service) Get(ctx context.Context, userID string) (profile.Profile, error) {
	return cache.Load(ctx, s.cache, cache.ProfileScope(userID), s.ttl, func(ctx context.Context) (profile.Profile, error) {
		p, err := s.store.GetProfile(ctx, userID)
		if errors.Is(err, gateway.ErrNotFound) {
			return profile.Empty(userID), nil
		}
		if err != nil {
			return profile.Profile{}, services.FromGateway(err, "profile")
		}
		return p, nil
	})
}

// Update upserts the owner-writable fields of userID's profile.
func (s *Service) Update(ctx context.Context, userID string, u profile.Update) (profile.Profile, error) {
	if u.Empty() {
		return profile.Profile{}, errors.Validation("no profile fields to update")
	}
	if err := services.Validate(u); err != nil {
		return profile.Profile{}, err
	}
	p, err := s.store.UpsertProfile(ctx, u.Patch(userID, s.now()))
	if err != nil {
		return profile.Profile{}, services.FromGateway(err, "profile")
	}
	// usernames and contacts appear in other users' exchange lists and
	// in the emergency feed
	if err := cache.Invalidate(ctx, s.cache, cache.ProfileScope(userID), cache.ScopeExchanges, cache.ScopeEmergency); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("cache invalidation failed")
	}
	s.log.WithContext(ctx).Info("profile updated")
	return p, nil
}
