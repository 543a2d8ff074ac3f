package trx

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/yourorg/fare-orchestrator/internal/apperr"
)

// ItineraryRequest is an itinerary as submitted by the caller.
type ItineraryRequest struct {
	Segments []Segment `json:"segments"`
}

// DiagnosticRequest is the diagnostic as submitted by the caller.
type DiagnosticRequest struct {
	Number int               `json:"number"`
	Params map[string]string `json:"params,omitempty"`
}

// Request is the inbound description of a transaction.
type Request struct {
	TransactionID                string             `json:"transactionId,omitempty"`
	Kind                         string             `json:"kind"`
	ExchangedItinerary           *ItineraryRequest  `json:"exchangedItinerary,omitempty"`
	NewItineraries               []ItineraryRequest `json:"newItineraries,omitempty"`
	SecondaryExchangeRequestType string             `json:"secondaryExchangeRequestType,omitempty"`
	FullRefund                   bool               `json:"fullRefund,omitempty"`
	ActionCode                   string             `json:"actionCode,omitempty"`
	Diagnostic                   *DiagnosticRequest `json:"diagnostic,omitempty"`
}

// Builder creates transactions from requests.
type Builder struct {
	phaseLog slog.Handler
}

// NewBuilder creates a Builder. handler is passed to every transaction's
// phase machine and may be nil.
func NewBuilder(handler slog.Handler) *Builder {
	return &Builder{phaseLog: handler}
}

// Build validates req and returns a new transaction. Validation failures are
// InvalidRequest business errors.
func (b *Builder) Build(req *Request) (*Transaction, error) {
	if req == nil {
		return nil, apperr.New(apperr.InvalidRequest, "request cannot be nil")
	}
	kind, err := ParseKind(req.Kind)
	if err != nil {
		return nil, apperr.New(apperr.InvalidRequest, err.Error())
	}
	if req.FullRefund && kind != KindRefund {
		return nil, apperr.Newf(apperr.InvalidRequest, "fullRefund is only valid for refund transactions, got %s", kind)
	}

	var exc *Itinerary
	if req.ExchangedItinerary != nil {
		exc = newItinerary(*req.ExchangedItinerary)
	}
	newItins := make([]*Itinerary, 0, len(req.NewItineraries))
	for _, ir := range req.NewItineraries {
		newItins = append(newItins, newItinerary(ir))
	}

	id := req.TransactionID
	if id == "" {
		id = uuid.NewString()
	}
	t, err := New(id, kind, exc, newItins, b.phaseLog)
	if err != nil {
		return nil, apperr.New(apperr.InvalidRequest, err.Error())
	}
	t.SecondaryExcReqType = req.SecondaryExchangeRequestType
	t.FullRefund = req.FullRefund
	t.Billing.ActionCode = req.ActionCode
	if req.Diagnostic != nil {
		params := make(map[string]string, len(req.Diagnostic.Params))
		for k, v := range req.Diagnostic.Params {
			params[k] = v
		}
		t.Diagnostic = Diagnostic{Number: req.Diagnostic.Number, Params: params}
	}
	return t, nil
}

func newItinerary(ir ItineraryRequest) *Itinerary {
	return &Itinerary{
		ID:       uuid.NewString(),
		Segments: append([]Segment(nil), ir.Segments...),
	}
}
