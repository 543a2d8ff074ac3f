// Package trx holds the per-request transaction that the orchestrator mutates
// while it decides which backend services run against which itinerary.
package trx

import (
	"fmt"
	"log/slog"

	"github.com/yourorg/fare-orchestrator/internal/apperr"
	"github.com/yourorg/fare-orchestrator/internal/phase"
)

// Kind is the closed set of transaction variants.
type Kind int

const (
	KindPricing Kind = iota
	KindExchange
	KindRefund
	KindWhatIf
	KindPortExchange
)

var kindNames = map[Kind]string{
	KindPricing:      "pricing",
	KindExchange:     "exchange",
	KindRefund:       "refund",
	KindWhatIf:       "whatif",
	KindPortExchange: "portexchange",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction kind %q", s)
}

// Segment is one flight of an itinerary.
type Segment struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	Carrier       string `json:"carrier"`
	FlightNumber  int    `json:"flightNumber"`
	BookingClass  string `json:"bookingClass"`
	DepartureDate string `json:"departureDate"`
}

// Itinerary is the segment sequence being priced. Services record their
// outcome in Priced, TotalAmount and Currency.
type Itinerary struct {
	ID          string
	Segments    []Segment
	Priced      bool
	TotalAmount int64
	Currency    string
}

// Clone returns a deep copy of the itinerary.
func (i *Itinerary) Clone() *Itinerary {
	if i == nil {
		return nil
	}
	c := *i
	c.Segments = append([]Segment(nil), i.Segments...)
	return &c
}

// ParamItinType is the diagnostic parameter naming the itinerary to report on.
const ParamItinType = "IT"

// Diagnostic is the diagnostic requested with the transaction. Number zero
// means no diagnostic.
type Diagnostic struct {
	Number int
	Params map[string]string
}

// Requested reports whether any diagnostic was asked for.
func (d Diagnostic) Requested() bool { return d.Number > 0 }

// Param returns the value of a diagnostic parameter, or "".
func (d Diagnostic) Param(key string) string {
	if d.Params == nil {
		return ""
	}
	return d.Params[key]
}

// Billing carries the action code reported to downstream systems.
type Billing struct {
	ActionCode string
	marked     bool
}

// AppendActionCode appends marker to the action code once. It reports
// whether the marker was appended by this call.
func (b *Billing) AppendActionCode(marker string) bool {
	if b.marked || marker == "" {
		return false
	}
	b.ActionCode += marker
	b.marked = true
	return true
}

// Marked reports whether the secondary exchange marker was appended.
func (b *Billing) Marked() bool { return b.marked }

// Transaction is one customer request and all state accumulated while it is
// processed. It is owned by a single goroutine for the duration of a call.
type Transaction struct {
	ID   string
	Kind Kind

	ExchangedItin *Itinerary
	NewItins      []*Itinerary

	AnalyzingExcItin bool
	LowFareRequested bool

	SecondaryExcReqType string
	FullRefund          bool
	Diagnostic          Diagnostic
	Billing             Billing

	ReissuePricingErrorCode apperr.Code
	CSOPricingErrorCode     apperr.Code
	CSOTransSuccessful      bool

	WhatIf   *Transaction
	Redirect *Transaction
	Parent   *Transaction

	phase          *phase.Machine
	active         []*Itinerary
	redirected     bool
	redirectReason *apperr.BusinessError
}

// InitialPhase is the phase a transaction of kind k starts in.
func InitialPhase(k Kind) phase.State {
	switch k {
	case KindExchange, KindRefund:
		return phase.RepriceExchangedItin
	default:
		return phase.PriceNewItin
	}
}

// New validates the itinerary set for kind and returns a transaction in its
// initial phase. handler receives the phase machine's own logs and may be nil.
func New(id string, kind Kind, exc *Itinerary, newItins []*Itinerary, handler slog.Handler) (*Transaction, error) {
	if _, ok := kindNames[kind]; !ok {
		return nil, fmt.Errorf("trx: unknown kind %d", int(kind))
	}
	needsExc := kind != KindPricing
	if needsExc && exc == nil {
		return nil, fmt.Errorf("trx: %s transaction requires an exchanged itinerary", kind)
	}
	if kind != KindRefund && len(newItins) == 0 {
		return nil, fmt.Errorf("trx: %s transaction requires at least one new itinerary", kind)
	}
	for i, it := range newItins {
		if it == nil {
			return nil, fmt.Errorf("trx: new itinerary %d is nil", i)
		}
	}

	initial := InitialPhase(kind)
	m, err := phase.New(initial, handler)
	if err != nil {
		return nil, err
	}
	t := &Transaction{
		ID:                      id,
		Kind:                    kind,
		ExchangedItin:           exc,
		NewItins:                newItins,
		ReissuePricingErrorCode: apperr.NoError,
		CSOPricingErrorCode:     apperr.NoError,
		phase:                   m,
	}
	t.bindItins(initial)
	return t, nil
}

// Phase returns the current phase.
func (t *Transaction) Phase() phase.State { return t.phase.Current() }

// EnterPhase moves the transaction to next and switches the active itinerary
// set with it, so the two never disagree.
func (t *Transaction) EnterPhase(next phase.State) error {
	cur := t.phase.Current()
	if cur == next {
		return nil
	}
	if next == phase.RepriceExchangedItin && t.ExchangedItin == nil {
		return fmt.Errorf("trx %s: no exchanged itinerary to reprice", t.ID)
	}
	if next == phase.PriceNewItin && len(t.NewItins) == 0 {
		return fmt.Errorf("trx %s: no new itinerary to price", t.ID)
	}
	if err := t.phase.Enter(next); err != nil {
		return fmt.Errorf("trx %s: %w", t.ID, err)
	}
	if next == phase.PriceNewItin {
		t.LowFareRequested = true
	}
	t.bindItins(next)
	return nil
}

func (t *Transaction) bindItins(s phase.State) {
	switch s {
	case phase.RepriceExchangedItin, phase.MatchExchangeRule:
		t.AnalyzingExcItin = true
		t.active = []*Itinerary{t.ExchangedItin}
	case phase.PriceNewItin:
		t.AnalyzingExcItin = false
		t.active = t.NewItins
	}
}

// ActiveItins returns the itineraries services must operate on in the
// current phase.
func (t *Transaction) ActiveItins() []*Itinerary { return t.active }

// Itin returns the first active itinerary, or nil.
func (t *Transaction) Itin() *Itinerary {
	if len(t.active) == 0 {
		return nil
	}
	return t.active[0]
}

// Redirected reports whether the transaction was redirected. Once true it
// stays true.
func (t *Transaction) Redirected() bool { return t.redirected }

// RedirectReason returns the business error that triggered the redirect.
func (t *Transaction) RedirectReason() *apperr.BusinessError { return t.redirectReason }

// MarkRedirected sets the redirect flag and records reason. The first
// recorded reason is kept.
func (t *Transaction) MarkRedirected(reason *apperr.BusinessError) {
	t.redirected = true
	if t.redirectReason == nil {
		t.redirectReason = reason
	}
}

// IsSubTransaction reports whether t was created for a parent transaction.
func (t *Transaction) IsSubTransaction() bool { return t.Parent != nil }

// SubTransactionFactory materializes the alternate sub-transactions of a
// parent. Each method populates parent.WhatIf or parent.Redirect, or leaves
// it nil on failure.
type SubTransactionFactory interface {
	CreateWhatIfSubTransaction(parent *Transaction, forDiagnostic bool) error
	CreateRedirectSubTransaction(parent *Transaction, forDiagnostic bool) error
}
