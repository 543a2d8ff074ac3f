// Package phase tracks which itinerary of a transaction is being priced.
package phase

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/robbyt/go-fsm"
)

// ErrInvalidTransition is returned for a transition outside Transitions.
var ErrInvalidTransition = fsm.ErrInvalidStateTransition

// State is one of the pricing phases of a transaction.
type State string

const (
	RepriceExchangedItin State = "REPRICE_EXCHANGED_ITIN"
	MatchExchangeRule    State = "MATCH_EXCHANGE_RULE"
	PriceNewItin         State = "PRICE_NEW_ITIN"
)

// Transitions lists the phases reachable from each phase. Transitions are
// driven by pipeline outcomes only.
var Transitions = map[string][]string{
	string(RepriceExchangedItin): {string(MatchExchangeRule), string(PriceNewItin)},
	string(MatchExchangeRule):    {string(PriceNewItin), string(RepriceExchangedItin)},
	string(PriceNewItin):         {string(RepriceExchangedItin)},
}

// Valid reports whether s is a known phase.
func Valid(s State) bool {
	_, ok := Transitions[string(s)]
	return ok
}

// Machine is the per-transaction phase state. It is not shared between
// transactions.
type Machine struct {
	fsm *fsm.Machine
}

// New creates a Machine in the initial phase. A nil handler discards the
// state machine's own logging.
func New(initial State, handler slog.Handler) (*Machine, error) {
	if !Valid(initial) {
		return nil, fmt.Errorf("phase: unknown initial phase %q", initial)
	}
	if handler == nil {
		handler = slog.NewTextHandler(io.Discard, nil)
	}
	m, err := fsm.New(handler, string(initial), Transitions)
	if err != nil {
		return nil, fmt.Errorf("phase: %w", err)
	}
	return &Machine{fsm: m}, nil
}

// Current returns the current phase.
func (m *Machine) Current() State {
	return State(m.fsm.GetState())
}

// CanEnter reports whether next is reachable from the current phase.
// Re-entering the current phase is always allowed.
func (m *Machine) CanEnter(next State) bool {
	cur := string(m.Current())
	if cur == string(next) {
		return true
	}
	for _, s := range Transitions[cur] {
		if s == string(next) {
			return true
		}
	}
	return false
}

// Enter moves to next. Re-entering the current phase is a no-op.
func (m *Machine) Enter(next State) error {
	if m.Current() == next {
		return nil
	}
	if err := m.fsm.Transition(string(next)); err != nil {
		return fmt.Errorf("phase %s -> %s: %w", m.Current(), next, err)
	}
	return nil
}
