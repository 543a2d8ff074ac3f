package service

import (
	"context"
	"fmt"

	"github.com/yourorg/fare-orchestrator/internal/adapter"
	"github.com/yourorg/fare-orchestrator/internal/apperr"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// Registry binds each service slot to a handle. Handles are bound during
// startup wiring; after Seal the registry is read-only and safe to share
// between goroutines.
type Registry struct {
	handles [numServices]adapter.Service
	sealed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Bind sets the handle of id. A nil handle leaves the slot unbound.
func (r *Registry) Bind(id ID, s adapter.Service) error {
	if r.sealed {
		return fmt.Errorf("service registry: bind %s after seal", id)
	}
	if !id.Valid() {
		return fmt.Errorf("service registry: invalid service id %d", uint(id))
	}
	r.handles[id] = s
	return nil
}

// Seal stops further binding.
func (r *Registry) Seal() { r.sealed = true }

// Has reports whether id is bound to a non-nil handle.
func (r *Registry) Has(id ID) bool {
	return id.Valid() && r.handles[id] != nil
}

// Bound returns the bound service IDs in invocation order.
func (r *Registry) Bound() []ID {
	var ids []ID
	for _, id := range All() {
		if r.Has(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Invoke calls the handle of id. A panic raised by the service is recovered
// and returned as an error: error values are returned as they are, any other
// value becomes an *apperr.OpaqueError.
func (r *Registry) Invoke(ctx context.Context, id ID, t *trx.Transaction) (ok bool, err error) {
	if !r.Has(id) {
		return false, nil
	}
	defer func() {
		if v := recover(); v != nil {
			ok = false
			if e, isErr := v.(error); isErr {
				err = e
				return
			}
			err = &apperr.OpaqueError{Value: v}
		}
	}()
	return r.handles[id].Process(ctx, t)
}
