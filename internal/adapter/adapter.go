// Package adapter defines the contract every backend service (itinerary
// analysis, fare collection, pricing, taxes, ...) implements, and contains the
// concrete service implementations the server can be wired with.
// A backend service is opaque to the orchestrator: it receives the whole
// transaction, mutates it, and reports success, a failure, or an error.
package adapter

import (
	"context"

	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// Service is the interface implemented by each backend service.
type Service interface {
	// Process runs the service against the transaction's active itineraries.
	// A false result without an error is a plain failure; a returned error is
	// classified by the caller. A service that does not support t.Kind must
	// return false or an error.
	Process(ctx context.Context, t *trx.Transaction) (bool, error)

	// Name returns the service name used in logs and metrics.
	Name() string
}

// Func adapts a function to the Service interface.
type Func struct {
	ServiceName string
	Fn          func(ctx context.Context, t *trx.Transaction) (bool, error)
}

// Process calls Fn.
func (f Func) Process(ctx context.Context, t *trx.Transaction) (bool, error) {
	return f.Fn(ctx, t)
}

// Name returns ServiceName.
func (f Func) Name() string { return f.ServiceName }
