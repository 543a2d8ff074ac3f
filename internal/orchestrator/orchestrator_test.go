package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/fare-orchestrator/internal/apperr"
	"github.com/yourorg/fare-orchestrator/internal/phase"
	"github.com/yourorg/fare-orchestrator/internal/planbuilder"
	"github.com/yourorg/fare-orchestrator/internal/service"
	"github.com/yourorg/fare-orchestrator/internal/subtrx"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// MockInvoker is a mock implementation of InvokerInterface
type MockInvoker struct {
	mock.Mock
}

func (m *MockInvoker) InvokeServices(ctx context.Context, t *trx.Transaction, mask service.Mask) (bool, error) {
	args := m.Called(ctx, t, mask)
	return args.Bool(0), args.Error(1)
}

// callsOn counts the calls made against transactions of kind k.
func (m *MockInvoker) callsOn(k trx.Kind) int {
	n := 0
	for _, c := range m.Calls {
		if c.Arguments.Get(1).(*trx.Transaction).Kind == k {
			n++
		}
	}
	return n
}

// MockDecider is a mock implementation of RedirectDeciderInterface
type MockDecider struct {
	mock.Mock
}

func (m *MockDecider) IsEnforceRedirection(t *trx.Transaction, f apperr.Failure) bool {
	return m.Called(t, f).Bool(0)
}

// MockFactory is a mock implementation of trx.SubTransactionFactory
type MockFactory struct {
	mock.Mock
}

func (m *MockFactory) CreateWhatIfSubTransaction(parent *trx.Transaction, forDiagnostic bool) error {
	return m.Called(parent, forDiagnostic).Error(0)
}

func (m *MockFactory) CreateRedirectSubTransaction(parent *trx.Transaction, forDiagnostic bool) error {
	return m.Called(parent, forDiagnostic).Error(0)
}

type stubPlans struct {
	plan planbuilder.Plan
	err  error
}

func (s stubPlans) Build(context.Context, trx.Kind) (planbuilder.Plan, error) { return s.plan, s.err }

type stubAdvisor bool

func (s stubAdvisor) RequiresSecondPricing(*trx.Transaction) bool { return bool(s) }

var testPlan = planbuilder.Plan{
	ExcItin:      service.Of(service.ItinAnalyzer, service.RexFareSelector),
	NewItin:      service.Of(service.FareCollector, service.Pricing, service.Taxes),
	WhatIf:       service.Of(service.FareValidator),
	PortExchange: service.Of(service.FareCalc),
}

var anyCtx = mock.Anything

func kindIs(k trx.Kind) interface{} {
	return mock.MatchedBy(func(t *trx.Transaction) bool { return t.Kind == k })
}

func newExchange(t *testing.T, secondary string) *trx.Transaction {
	t.Helper()
	tr, err := trx.New("trx-1", trx.KindExchange, &trx.Itinerary{ID: "exc"}, []*trx.Itinerary{{ID: "new"}}, nil)
	require.NoError(t, err)
	tr.SecondaryExcReqType = secondary
	return tr
}

func newOrchestrator(t *testing.T, inv *MockInvoker, dec *MockDecider, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewOrchestrator(inv, subtrx.NewFactory(nil), dec, stubPlans{plan: testPlan}, opts...)
}

func TestNewOrchestrator(t *testing.T) {
	inv, dec, fac, plans := new(MockInvoker), new(MockDecider), new(MockFactory), stubPlans{}

	orc := NewOrchestrator(inv, fac, dec, plans)
	assert.NotNil(t, orc)
	assert.Equal(t, inv, orc.invoker)
	assert.Nil(t, orc.advisor)
	assert.NotNil(t, orc.logger)

	assert.Panics(t, func() { NewOrchestrator(nil, fac, dec, plans) }, "Should panic if invoker is nil")
	assert.Panics(t, func() { NewOrchestrator(inv, nil, dec, plans) }, "Should panic if factory is nil")
	assert.Panics(t, func() { NewOrchestrator(inv, fac, nil, plans) }, "Should panic if decider is nil")
	assert.Panics(t, func() { NewOrchestrator(inv, fac, dec, nil) }, "Should panic if plan source is nil")
}

func TestProcessExcItin_ErrorPassesThroughUnchanged(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "AM")
	be := apperr.New(apperr.NoFareForClassUsed, "no fare")
	inv.On("InvokeServices", anyCtx, tr, testPlan.ExcItin).Return(false, be).Once()

	ok, err := orc.ProcessExcItin(context.Background(), tr, testPlan.ExcItin)
	assert.False(t, ok)
	assert.Same(t, be, err)
	assert.Equal(t, phase.RepriceExchangedItin, tr.Phase())
	assert.True(t, tr.AnalyzingExcItin)
	assert.Same(t, tr.ExchangedItin, tr.Itin())
	assert.False(t, tr.Redirected())
	dec.AssertNotCalled(t, "IsEnforceRedirection", mock.Anything, mock.Anything)
	inv.AssertExpectations(t)
}

func TestProcessUflItin_RecordsOutcomeOnParent(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "AM")

	inv.On("InvokeServices", anyCtx, kindIs(trx.KindWhatIf), testPlan.WhatIf).
		Return(false, apperr.New(apperr.NoFareMatch, "")).Once()
	ok := orc.ProcessUflItin(context.Background(), tr, testPlan.WhatIf)
	assert.False(t, ok)
	require.NotNil(t, tr.WhatIf)
	assert.Same(t, tr, tr.WhatIf.Parent)
	assert.Equal(t, apperr.NoFareMatch, tr.CSOPricingErrorCode)
	assert.Equal(t, apperr.NoFareMatch, tr.WhatIf.ReissuePricingErrorCode)
	assert.False(t, tr.CSOTransSuccessful)
	assert.Equal(t, apperr.NoError, tr.ReissuePricingErrorCode, "parent code untouched")

	sub := tr.WhatIf
	inv.On("InvokeServices", anyCtx, sub, testPlan.WhatIf).Return(true, nil).Once()
	sub.ReissuePricingErrorCode = apperr.NoError
	assert.True(t, orc.ProcessUflItin(context.Background(), tr, testPlan.WhatIf))
	assert.Same(t, sub, tr.WhatIf, "sub-transaction is created once")
	assert.True(t, tr.CSOTransSuccessful)
	assert.Equal(t, apperr.NoError, tr.CSOPricingErrorCode)
	inv.AssertExpectations(t)
}

func TestProcessUflItin_RuntimeAndOpaqueFailuresAreContained(t *testing.T) {
	for name, failure := range map[string]error{
		"runtime": errors.New("boom"),
		"opaque":  &apperr.OpaqueError{Value: -1},
	} {
		t.Run(name, func(t *testing.T) {
			inv, dec := new(MockInvoker), new(MockDecider)
			orc := newOrchestrator(t, inv, dec)
			tr := newExchange(t, "")
			inv.On("InvokeServices", anyCtx, kindIs(trx.KindWhatIf), testPlan.WhatIf).Return(false, failure)

			assert.NotPanics(t, func() {
				assert.False(t, orc.ProcessUflItin(context.Background(), tr, testPlan.WhatIf))
			})
			assert.Equal(t, apperr.UnknownException, tr.CSOPricingErrorCode)
		})
	}
}

func TestProcessUflItin_FactoryFailure(t *testing.T) {
	inv, dec, fac := new(MockInvoker), new(MockDecider), new(MockFactory)
	orc := NewOrchestrator(inv, fac, dec, stubPlans{plan: testPlan})
	tr := newExchange(t, "")
	fac.On("CreateWhatIfSubTransaction", tr, false).Return(errors.New("no itinerary"))

	assert.False(t, orc.ProcessUflItin(context.Background(), tr, testPlan.WhatIf))
	assert.Equal(t, apperr.UnknownException, tr.CSOPricingErrorCode)
	assert.False(t, tr.CSOTransSuccessful)
	inv.AssertNotCalled(t, "InvokeServices", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessUflItin_DiagnosticForwardedOnlyForWhatIfQualifier(t *testing.T) {
	inv, dec, fac := new(MockInvoker), new(MockDecider), new(MockFactory)
	orc := NewOrchestrator(inv, fac, dec, stubPlans{plan: testPlan})
	tr := newExchange(t, "")
	tr.Diagnostic = trx.Diagnostic{Number: 663, Params: map[string]string{trx.ParamItinType: "UFL"}}
	fac.On("CreateWhatIfSubTransaction", tr, true).Return(errors.New("stop"))

	orc.ProcessUflItin(context.Background(), tr, testPlan.WhatIf)
	fac.AssertExpectations(t)
}

func TestProcessEftItin_CreationFailureIsBusinessError(t *testing.T) {
	inv, dec, fac := new(MockInvoker), new(MockDecider), new(MockFactory)
	orc := NewOrchestrator(inv, fac, dec, stubPlans{plan: testPlan})

	for name, factoryErr := range map[string]error{
		"factory error":       errors.New("no exchanged itinerary"),
		"nil sub-transaction": nil,
	} {
		t.Run(name, func(t *testing.T) {
			tr := newExchange(t, "AM")
			fac.On("CreateRedirectSubTransaction", tr, false).Return(factoryErr).Once()

			ok, err := orc.ProcessEftItin(context.Background(), tr, testPlan.PortExchange)
			assert.False(t, ok)
			var be *apperr.BusinessError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, apperr.InvalidTrxForRedirectToPortExchange, be.Code)
		})
	}
	inv.AssertNotCalled(t, "InvokeServices", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessEftItin_FailureMarksActionCodeOnce(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "AM")
	tr.Billing.ActionCode = "EX"
	be := apperr.New(apperr.ReissueRulesFail, "")
	inv.On("InvokeServices", anyCtx, kindIs(trx.KindPortExchange), testPlan.PortExchange).Return(false, be)

	ok, err := orc.ProcessEftItin(context.Background(), tr, testPlan.PortExchange)
	assert.False(t, ok)
	assert.Same(t, be, err)
	assert.Equal(t, "EXAM", tr.Billing.ActionCode)
	require.NotNil(t, tr.Redirect)
	assert.Equal(t, "AM", tr.Redirect.SecondaryExcReqType)

	_, err = orc.ProcessEftItin(context.Background(), tr, testPlan.PortExchange)
	assert.Same(t, be, err)
	assert.Equal(t, "EXAM", tr.Billing.ActionCode)
	dec.AssertNotCalled(t, "IsEnforceRedirection", mock.Anything, mock.Anything)
}

func TestProcessEftItin_Success(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "AM")
	inv.On("InvokeServices", anyCtx, kindIs(trx.KindPortExchange), testPlan.PortExchange).Return(true, nil)

	ok, err := orc.ProcessEftItin(context.Background(), tr, testPlan.PortExchange)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, tr.Billing.ActionCode)
}

func TestProcessNewItin(t *testing.T) {
	tests := []struct {
		name     string
		ok       bool
		err      error
		wantOK   bool
		wantCode apperr.Code
	}{
		{"success", true, nil, true, apperr.NoError},
		{"service returned false", false, nil, false, apperr.NoError},
		{"business error", false, apperr.New(apperr.NoFareMatch, ""), false, apperr.NoFareMatch},
		{"runtime error", false, errors.New("boom"), false, apperr.UnknownException},
		{"opaque failure", false, &apperr.OpaqueError{Value: 42}, false, apperr.UnknownException},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, dec := new(MockInvoker), new(MockDecider)
			orc := newOrchestrator(t, inv, dec)
			tr := newExchange(t, "")
			inv.On("InvokeServices", anyCtx, tr, testPlan.NewItin).Return(tt.ok, tt.err).Once()

			var ok bool
			assert.NotPanics(t, func() { ok = orc.ProcessNewItin(context.Background(), tr, testPlan.NewItin) })
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCode, tr.ReissuePricingErrorCode)
			assert.Equal(t, phase.PriceNewItin, tr.Phase())
			assert.True(t, tr.LowFareRequested)
			assert.False(t, tr.AnalyzingExcItin)
			assert.Equal(t, tr.NewItins, tr.ActiveItins())
		})
	}
}

func TestProcessNewItin_SecondPricingEvenAfterError(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec, WithPermutationAdvisor(stubAdvisor(true)))
	tr := newExchange(t, "")
	pricing := service.Of(service.Pricing)

	inv.On("InvokeServices", anyCtx, tr, service.Of(service.FareCollector)).Return(true, nil).Once()
	inv.On("InvokeServices", anyCtx, tr, pricing).Return(false, errors.New("first attempt")).Once()
	inv.On("InvokeServices", anyCtx, tr, pricing).Return(true, nil).Once()
	inv.On("InvokeServices", anyCtx, tr, service.Of(service.Taxes)).Return(true, nil).Once()

	assert.True(t, orc.ProcessNewItin(context.Background(), tr, testPlan.NewItin))
	assert.Equal(t, apperr.NoError, tr.ReissuePricingErrorCode)
	inv.AssertExpectations(t)
}

func TestProcessNewItin_SecondPricingFailureIsRecorded(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec, WithPermutationAdvisor(stubAdvisor(true)))
	tr := newExchange(t, "")
	pricing := service.Of(service.Pricing)

	inv.On("InvokeServices", anyCtx, tr, service.Of(service.FareCollector)).Return(true, nil).Once()
	inv.On("InvokeServices", anyCtx, tr, pricing).Return(false, errors.New("first attempt")).Once()
	inv.On("InvokeServices", anyCtx, tr, pricing).Return(false, apperr.New(apperr.NoFareMatch, "")).Once()

	assert.False(t, orc.ProcessNewItin(context.Background(), tr, testPlan.NewItin))
	assert.Equal(t, apperr.NoFareMatch, tr.ReissuePricingErrorCode)
	inv.AssertExpectations(t)
	inv.AssertNotCalled(t, "InvokeServices", anyCtx, tr, service.Of(service.Taxes))
}

func TestProcessNewItin_SecondPricingContinueOnFailureKeepsEarlierFailure(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec, WithPermutationAdvisor(stubAdvisor(true)))
	tr := newExchange(t, "")
	mask := testPlan.NewItin | service.ContinueOnFailure
	pricing := service.Of(service.Pricing) | service.ContinueOnFailure

	inv.On("InvokeServices", anyCtx, tr, service.Of(service.FareCollector)|service.ContinueOnFailure).Return(false, nil).Once()
	inv.On("InvokeServices", anyCtx, tr, pricing).Return(true, nil).Twice()
	inv.On("InvokeServices", anyCtx, tr, service.Of(service.Taxes)|service.ContinueOnFailure).Return(true, nil).Once()

	assert.False(t, orc.ProcessNewItin(context.Background(), tr, mask))
	assert.Equal(t, apperr.NoError, tr.ReissuePricingErrorCode)
	inv.AssertExpectations(t)
}

func TestProcessNewItin_AdvisorDeclines(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec, WithPermutationAdvisor(stubAdvisor(false)))
	tr := newExchange(t, "")
	inv.On("InvokeServices", anyCtx, tr, testPlan.NewItin).Return(true, nil).Once()

	assert.True(t, orc.ProcessNewItin(context.Background(), tr, testPlan.NewItin))
	inv.AssertExpectations(t)
	assert.Len(t, inv.Calls, 1)
}

func TestRexPricingMainProcess_Success(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "AM")
	inv.On("InvokeServices", anyCtx, tr, testPlan.ExcItin).Return(true, nil).Once()
	inv.On("InvokeServices", anyCtx, kindIs(trx.KindWhatIf), testPlan.WhatIf).Return(true, nil).Once()

	ok, err := orc.RexPricingMainProcess(context.Background(), tr, testPlan)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, phase.MatchExchangeRule, tr.Phase())
	assert.Same(t, tr.ExchangedItin, tr.Itin())
	assert.True(t, tr.CSOTransSuccessful)
	assert.Equal(t, 1, inv.callsOn(trx.KindWhatIf))
	inv.AssertExpectations(t)
}

func TestRexPricingMainProcess_FailedWithoutErrorStaysInReprice(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "AM")
	inv.On("InvokeServices", anyCtx, tr, testPlan.ExcItin).Return(false, nil).Once()
	inv.On("InvokeServices", anyCtx, kindIs(trx.KindWhatIf), testPlan.WhatIf).Return(true, nil).Once()

	ok, err := orc.RexPricingMainProcess(context.Background(), tr, testPlan)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, phase.RepriceExchangedItin, tr.Phase())
	assert.Empty(t, tr.Billing.ActionCode)
	assert.Equal(t, 1, inv.callsOn(trx.KindWhatIf))
}

func TestRexPricingMainProcess_Redirect(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "AM")
	be := apperr.New(apperr.NoFareForClassUsed, "no fare for class")
	before := testutil.ToFloat64(GetRedirectsTotal().WithLabelValues(string(apperr.NoFareForClassUsed)))

	inv.On("InvokeServices", anyCtx, tr, testPlan.ExcItin).Return(false, be).Once()
	dec.On("IsEnforceRedirection", tr, mock.MatchedBy(func(f apperr.Failure) bool {
		return f.Kind == apperr.KindBusiness && f.Business == be
	})).Return(true).Once()
	inv.On("InvokeServices", anyCtx, kindIs(trx.KindWhatIf), testPlan.WhatIf).Return(false, errors.New("what-if broke")).Once()
	inv.On("InvokeServices", anyCtx, kindIs(trx.KindPortExchange), testPlan.PortExchange).Return(true, nil).Once()

	ok, err := orc.RexPricingMainProcess(context.Background(), tr, testPlan)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, tr.Redirected())
	require.NotNil(t, tr.RedirectReason())
	assert.Equal(t, apperr.NoFareForClassUsed, tr.RedirectReason().Code)
	assert.Equal(t, 1, inv.callsOn(trx.KindWhatIf))
	assert.Equal(t, apperr.UnknownException, tr.CSOPricingErrorCode)
	assert.Empty(t, tr.Billing.ActionCode, "successful redirect does not mark the action code")
	assert.Equal(t, before+1, testutil.ToFloat64(GetRedirectsTotal().WithLabelValues(string(apperr.NoFareForClassUsed))))
	inv.AssertExpectations(t)
	dec.AssertExpectations(t)
}

func TestRexPricingMainProcess_RedirectedPortExchangeFailurePropagates(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "AM")
	excErr := apperr.New(apperr.UnableToMatchReissueRules, "")
	eftErr := errors.New("port exchange down")

	inv.On("InvokeServices", anyCtx, tr, testPlan.ExcItin).Return(false, excErr).Once()
	dec.On("IsEnforceRedirection", tr, mock.Anything).Return(true)
	inv.On("InvokeServices", anyCtx, kindIs(trx.KindWhatIf), testPlan.WhatIf).Return(true, nil).Once()
	inv.On("InvokeServices", anyCtx, kindIs(trx.KindPortExchange), testPlan.PortExchange).Return(false, eftErr).Once()

	ok, err := orc.RexPricingMainProcess(context.Background(), tr, testPlan)
	assert.False(t, ok)
	assert.Same(t, eftErr, err)
	assert.True(t, tr.Redirected())
	assert.Equal(t, "AM", tr.Billing.ActionCode)
	assert.Equal(t, 1, inv.callsOn(trx.KindWhatIf))
}

func TestRexPricingMainProcess_NotRedirectedPropagatesOriginalError(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "AM")
	tr.Billing.ActionCode = "EX"
	be := apperr.New(apperr.ReissueRulesFail, "")

	inv.On("InvokeServices", anyCtx, tr, testPlan.ExcItin).Return(false, be).Once()
	dec.On("IsEnforceRedirection", tr, mock.Anything).Return(false).Once()
	inv.On("InvokeServices", anyCtx, kindIs(trx.KindWhatIf), testPlan.WhatIf).Return(true, nil).Once()

	ok, err := orc.RexPricingMainProcess(context.Background(), tr, testPlan)
	assert.False(t, ok)
	assert.Same(t, be, err)
	assert.False(t, tr.Redirected())
	assert.Nil(t, tr.Redirect)
	assert.Equal(t, "EXAM", tr.Billing.ActionCode)
	assert.Equal(t, 1, inv.callsOn(trx.KindWhatIf))
	assert.Equal(t, 0, inv.callsOn(trx.KindPortExchange))
}

func TestRexPricingMainProcess_NotRedirectedWithoutSecondaryLeavesActionCode(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "")
	tr.Billing.ActionCode = "EX"
	inv.On("InvokeServices", anyCtx, tr, testPlan.ExcItin).Return(false, errors.New("boom")).Once()
	dec.On("IsEnforceRedirection", tr, mock.Anything).Return(false).Once()
	inv.On("InvokeServices", anyCtx, kindIs(trx.KindWhatIf), testPlan.WhatIf).Return(true, nil).Once()

	_, err := orc.RexPricingMainProcess(context.Background(), tr, testPlan)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "EX", tr.Billing.ActionCode)
}

func TestProcess_PricingRunsOnlyNewItin(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr, err := trx.New("p", trx.KindPricing, nil, []*trx.Itinerary{{ID: "n"}}, nil)
	require.NoError(t, err)
	inv.On("InvokeServices", anyCtx, tr, testPlan.NewItin).Return(true, nil).Once()

	ok, err := orc.Process(context.Background(), tr)
	require.NoError(t, err)
	assert.True(t, ok)
	inv.AssertExpectations(t)
	assert.Len(t, inv.Calls, 1)
}

func TestProcess_ExchangeContinuesToNewItin(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "AM")
	before := testutil.ToFloat64(GetTransactionsTotal().WithLabelValues("exchange", OutcomeSuccess))
	inv.On("InvokeServices", anyCtx, tr, testPlan.ExcItin).Return(true, nil).Once()
	inv.On("InvokeServices", anyCtx, kindIs(trx.KindWhatIf), testPlan.WhatIf).Return(true, nil).Once()
	inv.On("InvokeServices", anyCtx, tr, testPlan.NewItin).Return(true, nil).Once()

	ok, err := orc.Process(context.Background(), tr)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, phase.PriceNewItin, tr.Phase())
	assert.True(t, tr.LowFareRequested)
	assert.Equal(t, before+1, testutil.ToFloat64(GetTransactionsTotal().WithLabelValues("exchange", OutcomeSuccess)))
	inv.AssertExpectations(t)
}

func TestProcess_FullRefundSkipsNewItin(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr, err := trx.New("r", trx.KindRefund, &trx.Itinerary{ID: "e"}, nil, nil)
	require.NoError(t, err)
	tr.FullRefund = true
	inv.On("InvokeServices", anyCtx, tr, testPlan.ExcItin).Return(true, nil).Once()

	ok, err := orc.Process(context.Background(), tr)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, phase.MatchExchangeRule, tr.Phase())
	// Without a new itinerary there is nothing to evaluate a what-if against.
	assert.Nil(t, tr.WhatIf)
	assert.Equal(t, apperr.UnknownException, tr.CSOPricingErrorCode)
	inv.AssertExpectations(t)
	assert.Len(t, inv.Calls, 1)
}

func TestProcess_PlanError(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := NewOrchestrator(inv, subtrx.NewFactory(nil), dec, stubPlans{err: errors.New("no plan")})
	tr := newExchange(t, "")

	ok, err := orc.Process(context.Background(), tr)
	assert.False(t, ok)
	assert.ErrorContains(t, err, "no plan")
}

func TestProcess_PanicBecomesOpaqueFailure(t *testing.T) {
	inv, dec := new(MockInvoker), new(MockDecider)
	orc := newOrchestrator(t, inv, dec)
	tr := newExchange(t, "AM")
	inv.On("InvokeServices", anyCtx, tr, testPlan.ExcItin).Run(func(mock.Arguments) { panic(7) })

	var (
		ok  bool
		err error
	)
	assert.NotPanics(t, func() { ok, err = orc.Process(context.Background(), tr) })
	assert.False(t, ok)
	var oe *apperr.OpaqueError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, 7, oe.Value)
}

func TestSummarize(t *testing.T) {
	tr := newExchange(t, "AM")
	tr.MarkRedirected(apperr.New(apperr.NoFareForClassUsed, ""))
	tr.Billing.AppendActionCode("AM")

	r := Summarize(tr, "ITIN_NEW", true, nil)
	assert.True(t, r.Success)
	assert.Equal(t, OutcomeSuccess, r.Outcome)
	assert.True(t, r.Redirected)
	assert.Equal(t, "NO_FARE_FOR_CLASS_USED", r.RedirectReason)
	assert.Equal(t, "AM", r.ActionCode)
	assert.Empty(t, r.ErrorCode)

	r = Summarize(tr, "NONE", false, apperr.New(apperr.ReissueRulesFail, "rules"))
	assert.False(t, r.Success)
	assert.Equal(t, OutcomeError, r.Outcome)
	assert.Equal(t, "business", r.ErrorKind)
	assert.Equal(t, "REISSUE_RULES_FAIL", r.ErrorCode)
}
