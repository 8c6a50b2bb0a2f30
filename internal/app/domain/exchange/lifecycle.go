package exchange

import (
	"fmt"

	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
)

// DeriveRole returns the actor's role. The helper supplies the resource on
// an offer and is the helper on a need; anyone else is the requester on an
// offer and the provider on a need.
func DeriveRole(actor, helperID, requesterID string, postType post.Type) Role {
	if actor == helperID {
		if postType == post.TypeOffer {
			return RoleProvider
		}
		return RoleHelper
	}
	if postType == post.TypeOffer {
		return RoleRequester
	}
	return RoleProvider
}

// RoleOf derives the actor's role in e.
func (e Exchange) RoleOf(actor string, postType post.Type) Role {
	return DeriveRole(actor, e.HelperID, e.RequesterID, postType)
}

// CanTransition applies the lifecycle table:
//
//	accepted   from pending, by the provider only
//	completed  from accepted, by either participant
//	cancelled  from pending or accepted, by either participant
//
// Terminal states never change.
func CanTransition(current, target Status, role Role) bool {
	if current.Terminal() {
		return false
	}
	switch target {
	case StatusAccepted:
		return current == StatusPending && role == RoleProvider
	case StatusCompleted:
		return current == StatusAccepted
	case StatusCancelled:
		return current == StatusPending || current == StatusAccepted
	default:
		return false
	}
}

// CheckTransition validates a transition of e requested by actor.
func CheckTransition(e Exchange, actor string, postType post.Type, target Status) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}
	if !e.IsParticipant(actor) {
		return ErrNotParticipant
	}
	role := e.RoleOf(actor, postType)
	if !CanTransition(e.Status, target, role) {
		return fmt.Errorf("%w: %s -> %s as %s", ErrTransitionNotAllowed, e.Status, target, role)
	}
	return nil
}

// AllowedTargets lists the statuses actor may move e to.
func AllowedTargets(e Exchange, actor string, postType post.Type) []Status {
	if !e.IsParticipant(actor) {
		return nil
	}
	role := e.RoleOf(actor, postType)
	out := make([]Status, 0, 2)
	for _, s := range Statuses {
		if CanTransition(e.Status, s, role) {
			out = append(out, s)
		}
	}
	return out
}
