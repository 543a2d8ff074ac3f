package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yourorg/fare-orchestrator/internal/apperr"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// Transaction outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

const (
	whatIfSucceeded   = "succeeded"
	whatIfFailed      = "failed"
	whatIfUnavailable = "unavailable"
)

var (
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fareorch_transactions_total",
		Help: "Processed transactions by kind and outcome.",
	}, []string{"kind", "outcome"})

	redirectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fareorch_redirects_total",
		Help: "Transactions redirected to port exchange, by triggering error code.",
	}, []string{"error_code"})

	whatIfTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fareorch_whatif_evaluations_total",
		Help: "What-if evaluations by outcome.",
	}, []string{"outcome"})
)

// GetTransactionsTotal exposes the transaction counter for tests.
func GetTransactionsTotal() *prometheus.CounterVec { return transactionsTotal }

// GetRedirectsTotal exposes the redirect counter for tests.
func GetRedirectsTotal() *prometheus.CounterVec { return redirectsTotal }

// GetWhatIfTotal exposes the what-if counter for tests.
func GetWhatIfTotal() *prometheus.CounterVec { return whatIfTotal }

func recordTransaction(t *trx.Transaction, ok bool, err error) {
	transactionsTotal.WithLabelValues(t.Kind.String(), outcomeOf(ok, err)).Inc()
}

func outcomeOf(ok bool, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case ok:
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}

// Result is the externally visible summary of a processed transaction.
type Result struct {
	TransactionID           string `json:"transactionId"`
	Kind                    string `json:"kind"`
	Success                 bool   `json:"success"`
	Outcome                 string `json:"outcome"`
	Phase                   string `json:"phase"`
	Redirected              bool   `json:"redirected"`
	RedirectReason          string `json:"redirectReason,omitempty"`
	ReissuePricingErrorCode string `json:"reissuePricingErrorCode"`
	CSOPricingErrorCode     string `json:"csoPricingErrorCode"`
	CSOTransSuccessful      bool   `json:"csoTransSuccessful"`
	ActionCode              string `json:"actionCode,omitempty"`
	DiagnosticQualifier     string `json:"diagnosticQualifier"`
	ErrorKind               string `json:"errorKind,omitempty"`
	ErrorCode               string `json:"errorCode,omitempty"`
	FailureReason           string `json:"failureReason,omitempty"`
}

// Summarize builds the Result of a Process call.
func Summarize(t *trx.Transaction, qualifier string, ok bool, err error) Result {
	r := Result{
		TransactionID:           t.ID,
		Kind:                    t.Kind.String(),
		Success:                 ok && err == nil,
		Outcome:                 outcomeOf(ok, err),
		Phase:                   string(t.Phase()),
		Redirected:              t.Redirected(),
		ReissuePricingErrorCode: string(t.ReissuePricingErrorCode),
		CSOPricingErrorCode:     string(t.CSOPricingErrorCode),
		CSOTransSuccessful:      t.CSOTransSuccessful,
		ActionCode:              t.Billing.ActionCode,
		DiagnosticQualifier:     qualifier,
	}
	if reason := t.RedirectReason(); reason != nil {
		r.RedirectReason = string(reason.Code)
	}
	if err != nil {
		f := apperr.Classify(err)
		r.ErrorKind = f.Kind.String()
		r.ErrorCode = string(f.Code())
		r.FailureReason = err.Error()
	}
	return r
}
