package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// PermutationAdvisor decides, from a configured rule, whether the reissue
// permutation of a transaction keeps the original fares and so requires
// the pricing service to run twice on the new itinerary. The rule can
// reference kind, secondaryExchangeRequestType, actionCode, fullRefund and
// diagnostic.
type PermutationAdvisor struct {
	rule   *govaluate.EvaluableExpression
	source string
}

// NewPermutationAdvisor compiles rule. An empty rule yields nil, meaning no
// transaction is priced twice.
func NewPermutationAdvisor(rule string) (*PermutationAdvisor, error) {
	if rule == "" {
		return nil, nil
	}
	expr, err := govaluate.NewEvaluableExpression(rule)
	if err != nil {
		return nil, fmt.Errorf("failed to compile permutation rule %q: %w", rule, err)
	}
	return &PermutationAdvisor{rule: expr, source: rule}, nil
}

// RequiresSecondPricing evaluates the rule for t. Evaluation errors count
// as false.
func (a *PermutationAdvisor) RequiresSecondPricing(t *trx.Transaction) bool {
	if a == nil {
		return false
	}
	ok, err := evalBool(a.rule, map[string]interface{}{
		"kind":                         t.Kind.String(),
		"secondaryExchangeRequestType": t.SecondaryExcReqType,
		"actionCode":                   t.Billing.ActionCode,
		"fullRefund":                   t.FullRefund,
		"diagnostic":                   float64(t.Diagnostic.Number),
	})
	return err == nil && ok
}
