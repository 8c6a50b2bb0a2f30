// Package trust applies the trust score side effect of completed exchanges.
package trust

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/R3E-Network/mutualaid/internal/app/metrics"
	"github.com/R3E-Network/mutualaid/internal/app/services"
	"github.com/R3E-Network/mutualaid/internal/app/storage"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

// Service increments trust levels through the gateway procedure. Increments
// are not idempotent; callers invoke them once per completion.
type Service struct {
	store storage.ProfileStore
	log   *logging.Logger
}

// New constructs a trust service.
func New(store storage.ProfileStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("trust")
	}
	return &Service{store: store, log: log}
}

// Increment raises profileID's trust level by one.
func (s *Service) Increment(ctx context.Context, profileID string) error {
	err := s.store.IncrementTrustLevel(ctx, profileID)
	metrics.RecordTrustIncrement(err == nil)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("profile_id", profileID).Warn("trust increment failed")
		return services.FromGateway(fmt.Errorf("increment trust of %s: %w", profileID, err), "profile")
	}
	return nil
}

// IncrementPair increments both participants with two independent calls.
// Both are attempted even if the first fails.
func (s *Service) IncrementPair(ctx context.Context, helperID, requesterID string) error {
	return stderrors.Join(s.Increment(ctx, helperID), s.Increment(ctx, requesterID))
}
