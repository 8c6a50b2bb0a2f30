// Package services holds what the application services share: mapping gateway
// and domain failures onto service errors.
package services

import (
	"github.com/R3E-Network/mutualaid/internal/errors"
	"github.com/R3E-Network/mutualaid/internal/gateway"
)

// FromGateway converts a gateway failure. Missing rows become NotFound for
// resource; constraint rejections become Conflict; anything else is a
// gateway error.
func FromGateway(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.GetServiceError(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		return errors.NotFound(resource)
	case errors.Is(err, gateway.ErrConflict):
		return errors.Conflict(resource+" was modified concurrently", err)
	case errors.Is(err, gateway.ErrUnknownTable):
		return errors.Internal("unknown table", err)
	default:
		return errors.Gateway(err)
	}
}
