// Package pusher defines the outbound transports that deliver queued
// records to the remote collection service.
package pusher

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sguter90/edgegateway/pkg/models"
)

// Pusher delivers records upstream
type Pusher interface {
	// Name returns the transport identifier used in configuration
	Name() string

	// Push sends records and returns the ids the remote side accepted.
	// A non-nil error together with a non-empty id list means partial delivery.
	Push(ctx context.Context, records []models.EnrichedRecord) ([]uuid.UUID, error)

	// Close releases connections held by the transport
	Close() error
}

// Registry holds all configured transports
type Registry struct {
	mu      sync.RWMutex
	pushers map[string]Pusher
}

// NewRegistry creates a new pusher registry
func NewRegistry() *Registry {
	return &Registry{
		pushers: make(map[string]Pusher),
	}
}

// Register adds a pusher to the registry, replacing one with the same name
func (r *Registry) Register(p Pusher) {
	if p == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pushers[p.Name()] = p
}

// Get retrieves a pusher by transport name
func (r *Registry) Get(name string) (Pusher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pushers[name]
	return p, ok
}

// Names returns the registered transport names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.pushers))
	for name := range r.pushers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every registered pusher and returns the first error
func (r *Registry) CloseAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var first error
	for _, p := range r.pushers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
