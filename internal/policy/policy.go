// Package policy decides whether a failed exchange pricing attempt is
// redirected onto an alternate sub-transaction.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/fare-orchestrator/internal/apperr"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// DefaultEligibility is the transaction-level redirect condition. A full
// refund has no alternate pricing path.
const DefaultEligibility = "redirectable && secondaryExchangeRequestType != '' && !fullRefund"

// RedirectPolicy evaluates redirect eligibility. It is immutable after
// construction and safe for concurrent use.
type RedirectPolicy struct {
	eligibility *govaluate.EvaluableExpression
	extra       *govaluate.EvaluableExpression
	extraSource string
}

// NewRedirectPolicy compiles the default eligibility rule and, when
// extraExpression is not empty, an additional rule that must also hold.
// The additional rule can narrow redirection but never widen it. It can
// reference redirectable, secondaryExchangeRequestType, fullRefund,
// errorCode, failureKind, kind and diagnostic.
func NewRedirectPolicy(extraExpression string) (*RedirectPolicy, error) {
	base, err := govaluate.NewEvaluableExpression(DefaultEligibility)
	if err != nil {
		return nil, fmt.Errorf("failed to compile default redirect rule: %w", err)
	}
	p := &RedirectPolicy{eligibility: base}
	if extraExpression != "" {
		extra, err := govaluate.NewEvaluableExpression(extraExpression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile redirect rule %q: %w", extraExpression, err)
		}
		p.extra = extra
		p.extraSource = extraExpression
	}
	return p, nil
}

// MustDefault returns the policy with only the default rule.
func MustDefault() *RedirectPolicy {
	p, err := NewRedirectPolicy("")
	if err != nil {
		panic(err)
	}
	return p
}

// IsErrorEnforceRedirection reports whether f is a business error on the
// redirect allow-list. Runtime and opaque failures never qualify.
func (p *RedirectPolicy) IsErrorEnforceRedirection(f apperr.Failure) bool {
	return f.Kind == apperr.KindBusiness && f.Business != nil && apperr.IsRedirectable(f.Business.Code)
}

// IsEnforceRedirection reports whether t must be redirected because of f.
// Evaluation errors of a configured rule count as "do not redirect".
func (p *RedirectPolicy) IsEnforceRedirection(t *trx.Transaction, f apperr.Failure) bool {
	ok, err := p.Evaluate(t, f)
	return err == nil && ok
}

// Evaluate is IsEnforceRedirection with evaluation errors reported.
func (p *RedirectPolicy) Evaluate(t *trx.Transaction, f apperr.Failure) (bool, error) {
	params := map[string]interface{}{
		"redirectable":                 p.IsErrorEnforceRedirection(f),
		"secondaryExchangeRequestType": t.SecondaryExcReqType,
		"fullRefund":                   t.FullRefund,
		"errorCode":                    string(f.Code()),
		"failureKind":                  f.Kind.String(),
		"kind":                         t.Kind.String(),
		"diagnostic":                   float64(t.Diagnostic.Number),
	}
	ok, err := evalBool(p.eligibility, params)
	if err != nil || !ok {
		return false, err
	}
	if p.extra == nil {
		return true, nil
	}
	ok, err = evalBool(p.extra, params)
	if err != nil {
		return false, fmt.Errorf("redirect rule %q: %w", p.extraSource, err)
	}
	return ok, nil
}

func evalBool(expr *govaluate.EvaluableExpression, params map[string]interface{}) (bool, error) {
	res, err := expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", expr.String(), res)
	}
	return b, nil
}
