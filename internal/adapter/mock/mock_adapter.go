// Package mock provides in-process backend services with scripted outcomes,
// used by tests and by stub deployments of the server.
package mock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/yourorg/fare-orchestrator/internal/apperr"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// MockService is a Service whose behavior is set by ProcessFunc. It records
// every transaction it was invoked with.
type MockService struct {
	ServiceName string
	ProcessFunc func(ctx context.Context, t *trx.Transaction) (bool, error)

	mu    sync.Mutex
	calls []*trx.Transaction
}

// NewMockService creates a MockService that succeeds by default.
func NewMockService(name string) *MockService {
	return &MockService{ServiceName: name}
}

// Process implements adapter.Service. Without a ProcessFunc it marks the
// active itineraries priced and succeeds.
func (m *MockService) Process(ctx context.Context, t *trx.Transaction) (bool, error) {
	m.mu.Lock()
	m.calls = append(m.calls, t)
	m.mu.Unlock()

	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, t)
	}
	for _, it := range t.ActiveItins() {
		it.Priced = true
	}
	return true, nil
}

// Name implements adapter.Service.
func (m *MockService) Name() string { return m.ServiceName }

// Calls returns how many times Process was called.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsFor returns how many times Process was called with t.
func (m *MockService) CallsFor(t *trx.Transaction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == t {
			n++
		}
	}
	return n
}

// Outcome scripts describe what a stub service does:
//
//	ok              succeed
//	fail            return false
//	error:<CODE>    return a business error with CODE
//	runtime         return a plain error
//	panic           panic with a non-error value
const (
	OutcomeOK      = "ok"
	OutcomeFail    = "fail"
	OutcomeRuntime = "runtime"
	OutcomePanic   = "panic"
	outcomeError   = "error:"
)

// ParseOutcome validates an outcome script and returns the matching process
// function.
func ParseOutcome(script string) (func(ctx context.Context, t *trx.Transaction) (bool, error), error) {
	s := strings.TrimSpace(script)
	switch {
	case s == "" || s == OutcomeOK:
		return func(_ context.Context, t *trx.Transaction) (bool, error) {
			for _, it := range t.ActiveItins() {
				it.Priced = true
			}
			return true, nil
		}, nil
	case s == OutcomeFail:
		return func(context.Context, *trx.Transaction) (bool, error) { return false, nil }, nil
	case s == OutcomeRuntime:
		return func(context.Context, *trx.Transaction) (bool, error) {
			return false, errors.New("stub service runtime failure")
		}, nil
	case s == OutcomePanic:
		return func(context.Context, *trx.Transaction) (bool, error) { panic(-1) }, nil
	case strings.HasPrefix(s, outcomeError):
		code := apperr.Code(strings.TrimPrefix(s, outcomeError))
		if code == "" {
			return nil, fmt.Errorf("mock: empty error code in outcome %q", script)
		}
		return func(context.Context, *trx.Transaction) (bool, error) {
			return false, apperr.New(code, "stub service")
		}, nil
	default:
		return nil, fmt.Errorf("mock: unknown outcome %q", script)
	}
}

// NewScripted creates a MockService driven by an outcome script.
func NewScripted(name, script string) (*MockService, error) {
	fn, err := ParseOutcome(script)
	if err != nil {
		return nil, err
	}
	return &MockService{ServiceName: name, ProcessFunc: fn}, nil
}
