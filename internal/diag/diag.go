// Package diag resolves which itinerary a requested diagnostic reports on.
package diag

import (
	"github.com/yourorg/fare-orchestrator/internal/phase"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// Qualifier is the coarse itinerary scope of a diagnostic.
type Qualifier int

const (
	None Qualifier = iota
	ItinExchanged
	ItinNew
	ItinAll
	ItinWhatIf
	ItinExternalFallback
)

func (q Qualifier) String() string {
	switch q {
	case None:
		return "NONE"
	case ItinExchanged:
		return "ITIN_EXCHANGED"
	case ItinNew:
		return "ITIN_NEW"
	case ItinAll:
		return "ITIN_ALL"
	case ItinWhatIf:
		return "ITIN_WHATIF"
	case ItinExternalFallback:
		return "ITIN_EXTERNAL_FALLBACK"
	default:
		return "UNKNOWN"
	}
}

// Values of the itinerary-type diagnostic parameter.
const (
	ItinTypeExchanged = "EXC"
	ItinTypeNew       = "NEW"
	ItinTypeWhatIf    = "UFL"
	ItinTypeAll       = "ALL"
	ItinTypeRedirect  = "RED"
)

// Internal diagnostics instrument the exchanged-side evaluation machinery.
const (
	internalMin = 150
	internalMax = 199
)

// IsInternal reports whether n is in the internal diagnostic range.
func IsInternal(n int) bool { return n >= internalMin && n <= internalMax }

// exchangedDiagnostics default to the exchanged itinerary.
var exchangedDiagnostics = map[int]bool{
	194: true,
	231: true,
	233: true,
	331: true,
	333: true,
	688: true,
}

// Resolve returns the qualifier for t's diagnostic request.
func Resolve(t *trx.Transaction) Qualifier {
	d := t.Diagnostic
	if !d.Requested() {
		return None
	}
	itinType := d.Param(trx.ParamItinType)

	switch {
	case IsInternal(d.Number):
		switch itinType {
		case ItinTypeWhatIf:
			return ItinWhatIf
		case ItinTypeRedirect:
			return ItinExternalFallback
		default:
			// NEW included: internal diagnostics never report on the new itinerary.
			return ItinExchanged
		}
	case exchangedDiagnostics[d.Number]:
		if itinType == ItinTypeRedirect {
			return ItinExternalFallback
		}
		return ItinExchanged
	case d.Number == 689 || d.Number == 690:
		if t.FullRefund {
			return ItinExchanged
		}
		return ItinNew
	}

	switch itinType {
	case ItinTypeExchanged:
		return ItinExchanged
	case ItinTypeAll:
		return ItinAll
	case ItinTypeWhatIf:
		return ItinWhatIf
	case ItinTypeRedirect:
		return ItinExternalFallback
	default:
		return ItinNew
	}
}

// Applies reports whether a diagnostic with qualifier q covers the itinerary
// t is currently processing. Sub-transactions are covered by the what-if and
// external fallback qualifiers only.
func Applies(q Qualifier, t *trx.Transaction) bool {
	switch q {
	case None:
		return false
	case ItinAll:
		return true
	case ItinWhatIf:
		return t.Kind == trx.KindWhatIf && t.IsSubTransaction()
	case ItinExternalFallback:
		return t.Kind == trx.KindPortExchange && t.IsSubTransaction()
	}
	if t.IsSubTransaction() {
		return false
	}
	switch q {
	case ItinExchanged:
		return t.Phase() != phase.PriceNewItin
	case ItinNew:
		return t.Phase() == phase.PriceNewItin
	}
	return false
}
