package system

import "context"

// Service is a background component the Manager starts in registration
// order and stops in reverse: the change watcher and the job scheduler.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
