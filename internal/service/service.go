// Package service names the backend service slots, the bitmask used to
// request them, and the registry binding each slot to a handle.
package service

import (
	"fmt"
	"math/bits"
	"strings"
)

// ID identifies a backend service slot. The declaration order is the fixed
// invocation order.
type ID uint

const (
	ItinAnalyzer ID = iota
	FareCollector
	FareValidator
	Pricing
	Taxes
	FareCalc
	Currency
	Mileage
	Shopping
	Internal
	ServiceFees
	FreeBag
	TicketingFees
	RexFareSelector

	numServices
)

var names = [numServices]string{
	ItinAnalyzer:    "itin_analyzer",
	FareCollector:   "fare_collector",
	FareValidator:   "fare_validator",
	Pricing:         "pricing",
	Taxes:           "taxes",
	FareCalc:        "fare_calc",
	Currency:        "currency",
	Mileage:         "mileage",
	Shopping:        "shopping",
	Internal:        "internal",
	ServiceFees:     "service_fees",
	FreeBag:         "free_bag",
	TicketingFees:   "ticketing_fees",
	RexFareSelector: "rex_fare_selector",
}

// All returns every service ID in invocation order.
func All() []ID {
	ids := make([]ID, numServices)
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

func (id ID) String() string {
	if id < numServices {
		return names[id]
	}
	return fmt.Sprintf("service(%d)", uint(id))
}

// Valid reports whether id names a service slot.
func (id ID) Valid() bool { return id < numServices }

// ParseID is the inverse of ID.String.
func ParseID(s string) (ID, error) {
	for i, n := range names {
		if n == s {
			return ID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown service %q", s)
}

// Mask is a set of requested services plus control bits.
type Mask uint32

const (
	// AllServices is the union of every service bit.
	AllServices Mask = 1<<numServices - 1
	// ContinueOnFailure keeps invoking later services after one fails.
	ContinueOnFailure Mask = 1 << 31
)

// Bit returns the mask bit of id.
func (id ID) Bit() Mask { return 1 << id }

// Of returns the mask containing ids.
func Of(ids ...ID) Mask {
	var m Mask
	for _, id := range ids {
		m |= id.Bit()
	}
	return m
}

// Has reports whether the service bit of id is set.
func (m Mask) Has(id ID) bool { return id.Valid() && m&id.Bit() != 0 }

// ContinuesOnFailure reports whether the ContinueOnFailure bit is set.
func (m Mask) ContinuesOnFailure() bool { return m&ContinueOnFailure != 0 }

// Services returns the requested services in invocation order.
func (m Mask) Services() []ID {
	s := m & AllServices
	ids := make([]ID, 0, bits.OnesCount32(uint32(s)))
	for s != 0 {
		i := bits.TrailingZeros32(uint32(s))
		ids = append(ids, ID(i))
		s &^= 1 << i
	}
	return ids
}

// Before returns the services of m declared before id, keeping control bits.
func (m Mask) Before(id ID) Mask {
	return m&(id.Bit()-1) | m&ContinueOnFailure
}

// After returns the services of m declared after id, keeping control bits.
func (m Mask) After(id ID) Mask {
	return m&AllServices&^(id.Bit()<<1-1) | m&ContinueOnFailure
}

func (m Mask) String() string {
	parts := make([]string, 0, numServices+1)
	for _, id := range m.Services() {
		parts = append(parts, id.String())
	}
	if m.ContinuesOnFailure() {
		parts = append(parts, "continue_on_failure")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseMask builds a mask from service names. "all" selects every service
// and "continue_on_failure" sets the control bit.
func ParseMask(items []string) (Mask, error) {
	var m Mask
	for _, it := range items {
		switch it = strings.ToLower(strings.TrimSpace(it)); it {
		case "all":
			m |= AllServices
		case "continue_on_failure":
			m |= ContinueOnFailure
		default:
			id, err := ParseID(it)
			if err != nil {
				return 0, err
			}
			m |= id.Bit()
		}
	}
	return m, nil
}
