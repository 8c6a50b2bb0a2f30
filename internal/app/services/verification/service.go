// Package verification accepts identity verification requests.
package verification

import (
	"context"
	"strings"

	domain "github.com/R3E-Network/mutualaid/internal/app/domain/verification"
	"github.com/R3E-Network/mutualaid/internal/app/services"
	"github.com/R3E-Network/mutualaid/internal/app/storage"
	"github.com/R3E-Network/mutualaid/internal/errors"
	"github.com/R3E-Network/mutualaid/internal/gateway"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

// Service manages verification requests.
type Service struct {
	store storage.VerificationStore
	log   *logging.Logger
}

// New constructs a verification service.
func New(store storage.VerificationStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("verification")
	}
	return &Service{store: store, log: log}
}

// Submit files a pending request for userID. A user has at most one
// pending request.
func (s *Service) Submit(ctx context.Context, userID, message string) (domain.Request, error) {
	d := domain.New(userID, strings.TrimSpace(message))
	if err := services.Validate(d); err != nil {
		return domain.Request{}, err
	}
	n, err := s.store.CountPendingVerifications(ctx, userID)
	if err != nil {
		return domain.Request{}, services.FromGateway(err, "verification request")
	}
	if n > 0 {
		return domain.Request{}, errors.Conflict("a verification request is already pending", domain.ErrPendingExists)
	}
	req, err := s.store.CreateVerificationRequest(ctx, d)
	if errors.Is(err, gateway.ErrConflict) {
		return domain.Request{}, errors.Conflict("a verification request is already pending", domain.ErrPendingExists)
	}
	if err != nil {
		return domain.Request{}, services.FromGateway(err, "verification request")
	}
	s.log.WithContext(ctx).WithField("request_id", req.ID).Info("verification requested")
	return req, nil
}

// List returns userID's requests, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]domain.Request, error) {
	list, err := s.store.ListVerificationRequests(ctx, userID)
	return list, services.FromGateway(err, "verification request")
}
