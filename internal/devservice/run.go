package devservice

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Run is a started pair of containers. Close tears it down.
type Run struct {
	ID        string
	Service   string
	Mode      NetworkMode
	Network   string
	StartedAt time.Time

	config     Config
	containers []string
	registry   *Registry
	cleanup    *Cleanup
	onClose    func(context.Context, *Run)
	closeOnce  sync.Once
}

func (r *Run) Config() Config {
	return r.config
}

// Containers are the engine ids, database first.
func (r *Run) Containers() []string {
	return slices.Clone(r.containers)
}

// Close stops the companion, then the database, then releases a private
// network. Failed steps are logged and available from CleanupErrors.
// Calls after the first do nothing.
func (r *Run) Close(ctx context.Context) {
	r.closeOnce.Do(func() {
		stopping := r.registry.beginStop(r)
		r.cleanup.Close(ctx)
		if stopping {
			r.registry.endStop()
		}
		if r.onClose != nil {
			r.onClose(ctx, r)
		}
	})
}

func (r *Run) CleanupErrors() []*CleanupError {
	return r.cleanup.Errors()
}
