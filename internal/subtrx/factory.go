// Package subtrx creates the alternate sub-transactions of an exchange: the
// what-if transaction and the port exchange redirect transaction.
package subtrx

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/yourorg/fare-orchestrator/internal/trx"
)

var errNoExchangedItin = errors.New("parent has no exchanged itinerary")

// Factory is the default trx.SubTransactionFactory. It copies the parent's
// itineraries so a sub-transaction never mutates the parent's.
type Factory struct {
	phaseLog slog.Handler
}

// NewFactory creates a Factory. handler is passed to the phase machine of
// every sub-transaction and may be nil.
func NewFactory(handler slog.Handler) *Factory {
	return &Factory{phaseLog: handler}
}

// CreateWhatIfSubTransaction sets parent.WhatIf.
func (f *Factory) CreateWhatIfSubTransaction(parent *trx.Transaction, forDiagnostic bool) error {
	sub, err := f.create(parent, trx.KindWhatIf, forDiagnostic)
	if err != nil {
		return fmt.Errorf("create what-if sub-transaction for %s: %w", parent.ID, err)
	}
	parent.WhatIf = sub
	return nil
}

// CreateRedirectSubTransaction sets parent.Redirect. The redirect
// sub-transaction keeps the secondary exchange type and the action code.
func (f *Factory) CreateRedirectSubTransaction(parent *trx.Transaction, forDiagnostic bool) error {
	sub, err := f.create(parent, trx.KindPortExchange, forDiagnostic)
	if err != nil {
		return fmt.Errorf("create redirect sub-transaction for %s: %w", parent.ID, err)
	}
	sub.SecondaryExcReqType = parent.SecondaryExcReqType
	sub.Billing.ActionCode = parent.Billing.ActionCode
	parent.Redirect = sub
	return nil
}

func (f *Factory) create(parent *trx.Transaction, kind trx.Kind, forDiagnostic bool) (*trx.Transaction, error) {
	if parent == nil {
		return nil, errors.New("nil parent")
	}
	if parent.ExchangedItin == nil {
		return nil, errNoExchangedItin
	}
	newItins := make([]*trx.Itinerary, 0, len(parent.NewItins))
	for _, it := range parent.NewItins {
		newItins = append(newItins, it.Clone())
	}
	sub, err := trx.New(parent.ID+"/"+uuid.NewString(), kind, parent.ExchangedItin.Clone(), newItins, f.phaseLog)
	if err != nil {
		return nil, err
	}
	sub.Parent = parent
	if forDiagnostic {
		sub.Diagnostic = parent.Diagnostic
	}
	return sub, nil
}

var _ trx.SubTransactionFactory = (*Factory)(nil)
