// Package orchestrator decides, for one transaction, which backend services
// run against which itinerary, and how a failure on the exchanged itinerary
// redirects the transaction onto the port exchange path.
//
// Pipelines that are an attempt with a fallback (exchanged itinerary, port
// exchange) return errors to the caller so the fallback decision is made once,
// in RexPricingMainProcess. Side evaluations (what-if) and terminal stages
// (new itinerary) contain every failure and report it through the returned
// bool and an error code stored on the transaction.
package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/fare-orchestrator/internal/apperr"
	"github.com/yourorg/fare-orchestrator/internal/diag"
	"github.com/yourorg/fare-orchestrator/internal/phase"
	"github.com/yourorg/fare-orchestrator/internal/planbuilder"
	"github.com/yourorg/fare-orchestrator/internal/service"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// InvokerInterface runs the services requested by a mask against a transaction.
type InvokerInterface interface {
	InvokeServices(ctx context.Context, t *trx.Transaction, mask service.Mask) (bool, error)
}

// RedirectDeciderInterface decides whether a classified failure redirects t.
type RedirectDeciderInterface interface {
	IsEnforceRedirection(t *trx.Transaction, f apperr.Failure) bool
}

// PlanSourceInterface hands out the service masks of a transaction kind.
type PlanSourceInterface interface {
	Build(ctx context.Context, kind trx.Kind) (planbuilder.Plan, error)
}

// PermutationAdvisor tells whether the reissue permutation being priced
// requires the pricing service to run a second time, even when the first
// attempt fails.
type PermutationAdvisor interface {
	RequiresSecondPricing(t *trx.Transaction) bool
}

// Orchestrator composes the pipelines. It holds no per-transaction state and
// is safe for concurrent use.
type Orchestrator struct {
	invoker InvokerInterface
	factory trx.SubTransactionFactory
	decider RedirectDeciderInterface
	plans   PlanSourceInterface
	advisor PermutationAdvisor
	logger  *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPermutationAdvisor enables the second pricing attempt on the new
// itinerary whenever the advisor requires it.
func WithPermutationAdvisor(a PermutationAdvisor) Option {
	return func(o *Orchestrator) { o.advisor = a }
}

// WithLogger sets the logger. The default discards logs.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	inv InvokerInterface,
	factory trx.SubTransactionFactory,
	decider RedirectDeciderInterface,
	plans PlanSourceInterface,
	opts ...Option,
) *Orchestrator {
	if inv == nil {
		panic("Invoker cannot be nil")
	}
	if factory == nil {
		panic("SubTransactionFactory cannot be nil")
	}
	if decider == nil {
		panic("RedirectDecider cannot be nil")
	}
	if plans == nil {
		panic("PlanSource cannot be nil")
	}
	o := &Orchestrator{
		invoker: inv,
		factory: factory,
		decider: decider,
		plans:   plans,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func tracer() trace.Tracer { return otel.Tracer("orchestrator") }

// markDiagnostic records whether the diagnostic requested on t covers target,
// the transaction a pipeline is about to price.
func markDiagnostic(span trace.Span, t, target *trx.Transaction) {
	if q := diag.Resolve(t); q != diag.None {
		span.SetAttributes(attribute.Bool("diag.applies", diag.Applies(q, target)))
	}
}

func trxFields(t *trx.Transaction) []zap.Field {
	return []zap.Field{
		zap.String("trx_id", t.ID),
		zap.Stringer("kind", t.Kind),
		zap.String("phase", string(t.Phase())),
	}
}

// Process is the top-level entry point. It selects the pipeline of t.Kind.
// An error is returned only when the exchanged itinerary failed without a
// redirect, or when the port exchange failed; every other failure is reported
// through the bool and the error codes recorded on t.
func (o *Orchestrator) Process(ctx context.Context, t *trx.Transaction) (ok bool, err error) {
	ctx, span := tracer().Start(ctx, "Orchestrator.Process")
	defer span.End()

	q := diag.Resolve(t)
	span.SetAttributes(
		attribute.String("trx.id", t.ID),
		attribute.String("trx.kind", t.Kind.String()),
		attribute.String("diag.qualifier", q.String()),
	)
	log := o.logger.With(trxFields(t)...)
	log.Debug("processing transaction", zap.Stringer("diagnostic_qualifier", q))

	defer func() {
		if v := recover(); v != nil {
			ok = false
			if e, isErr := v.(error); isErr {
				err = e
			} else {
				err = &apperr.OpaqueError{Value: v}
			}
			log.Error("transaction processing panicked", zap.Error(err))
		}
		recordTransaction(t, ok, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("trx.success", ok), attribute.Bool("trx.redirected", t.Redirected()))
	}()

	plan, err := o.plans.Build(ctx, t.Kind)
	if err != nil {
		return false, fmt.Errorf("orchestrator: %w", err)
	}

	switch t.Kind {
	case trx.KindPricing:
		ok = o.ProcessNewItin(ctx, t, plan.NewItin)
	case trx.KindExchange:
		ok, err = o.processExchange(ctx, t, plan)
	case trx.KindRefund:
		ok, err = o.processRefund(ctx, t, plan)
	case trx.KindWhatIf:
		ok = o.ProcessUflItin(ctx, t, plan.WhatIf)
	case trx.KindPortExchange:
		ok, err = o.ProcessEftItin(ctx, t, plan.PortExchange)
	default:
		return false, fmt.Errorf("orchestrator: unsupported transaction kind %s", t.Kind)
	}

	if err != nil {
		f := apperr.Classify(err)
		log.Info("transaction failed",
			zap.Stringer("failure_kind", f.Kind),
			zap.String("error_code", string(f.Code())),
			zap.Error(err))
	} else {
		log.Info("transaction processed",
			zap.Bool("success", ok),
			zap.Bool("redirected", t.Redirected()),
			zap.String("reissue_error_code", string(t.ReissuePricingErrorCode)))
	}
	return ok, err
}

func (o *Orchestrator) processExchange(ctx context.Context, t *trx.Transaction, plan planbuilder.Plan) (bool, error) {
	ok, err := o.RexPricingMainProcess(ctx, t, plan)
	if err != nil || !ok || t.Redirected() {
		return ok, err
	}
	return o.ProcessNewItin(ctx, t, plan.NewItin), nil
}

func (o *Orchestrator) processRefund(ctx context.Context, t *trx.Transaction, plan planbuilder.Plan) (bool, error) {
	ok, err := o.RexPricingMainProcess(ctx, t, plan)
	if err != nil || !ok || t.Redirected() || t.FullRefund || len(t.NewItins) == 0 {
		return ok, err
	}
	return o.ProcessNewItin(ctx, t, plan.NewItin), nil
}

// RexPricingMainProcess prices the exchanged itinerary and, when that fails
// with a redirectable business error on an eligible transaction, redirects
// the transaction to the port exchange. The what-if pipeline is attempted
// exactly once on every path, before returning.
func (o *Orchestrator) RexPricingMainProcess(ctx context.Context, t *trx.Transaction, plan planbuilder.Plan) (bool, error) {
	ctx, span := tracer().Start(ctx, "Orchestrator.RexPricingMainProcess")
	defer span.End()

	ok, err := o.ProcessExcItin(ctx, t, plan.ExcItin)
	if err == nil {
		if ok {
			if perr := t.EnterPhase(phase.MatchExchangeRule); perr != nil {
				o.ProcessUflItin(ctx, t, plan.WhatIf)
				return false, perr
			}
		}
		o.ProcessUflItin(ctx, t, plan.WhatIf)
		return ok, nil
	}

	f := apperr.Classify(err)
	if o.decider.IsEnforceRedirection(t, f) {
		t.MarkRedirected(f.Business)
		redirectsTotal.WithLabelValues(string(f.Code())).Inc()
		span.SetAttributes(attribute.String("redirect.reason", string(f.Code())))
		o.logger.Info("redirecting transaction to port exchange",
			append(trxFields(t), zap.String("error_code", string(f.Code())))...)

		o.ProcessUflItin(ctx, t, plan.WhatIf)
		return o.ProcessEftItin(ctx, t, plan.PortExchange)
	}

	if t.SecondaryExcReqType != "" && t.Billing.AppendActionCode(t.SecondaryExcReqType) {
		o.logger.Debug("marked action code for resubmission",
			append(trxFields(t), zap.String("action_code", t.Billing.ActionCode))...)
	}
	o.ProcessUflItin(ctx, t, plan.WhatIf)
	return false, err
}

// ProcessExcItin prices the exchanged itinerary. Errors raised by a service
// are returned unchanged; no redirect decision is taken here.
func (o *Orchestrator) ProcessExcItin(ctx context.Context, t *trx.Transaction, mask service.Mask) (bool, error) {
	ctx, span := tracer().Start(ctx, "Orchestrator.ProcessExcItin")
	defer span.End()

	if err := t.EnterPhase(phase.RepriceExchangedItin); err != nil {
		return false, err
	}
	markDiagnostic(span, t, t)
	ok, err := o.invoker.InvokeServices(ctx, t, mask)
	if err != nil {
		f := apperr.Classify(err)
		o.logger.Info("exchanged itinerary pricing raised an error",
			append(trxFields(t),
				zap.Stringer("failure_kind", f.Kind),
				zap.String("error_code", string(f.Code())),
				zap.Error(err))...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("success", ok))
	return ok, nil
}

// ProcessUflItin runs the what-if evaluation on the what-if sub-transaction,
// creating it first if needed. The outcome is recorded on t as
// CSOTransSuccessful and CSOPricingErrorCode; no failure is ever returned.
func (o *Orchestrator) ProcessUflItin(ctx context.Context, t *trx.Transaction, mask service.Mask) bool {
	ctx, span := tracer().Start(ctx, "Orchestrator.ProcessUflItin")
	defer span.End()

	if t.WhatIf == nil {
		err := o.factory.CreateWhatIfSubTransaction(t, diag.Resolve(t) == diag.ItinWhatIf)
		if err != nil || t.WhatIf == nil {
			o.logger.Warn("what-if sub-transaction unavailable", append(trxFields(t), zap.Error(err))...)
			t.CSOTransSuccessful = false
			t.CSOPricingErrorCode = apperr.UnknownException
			whatIfTotal.WithLabelValues(whatIfUnavailable).Inc()
			return false
		}
	}

	sub := t.WhatIf
	markDiagnostic(span, t, sub)
	ok, err := o.invoker.InvokeServices(ctx, sub, mask)
	if err != nil {
		f := apperr.Classify(err)
		sub.ReissuePricingErrorCode = f.Code()
		ok = false
		o.logger.Debug("what-if evaluation failed",
			append(trxFields(t),
				zap.String("sub_trx_id", sub.ID),
				zap.Stringer("failure_kind", f.Kind),
				zap.String("error_code", string(f.Code())))...)
	}
	t.CSOPricingErrorCode = sub.ReissuePricingErrorCode
	t.CSOTransSuccessful = ok

	outcome := whatIfFailed
	if ok {
		outcome = whatIfSucceeded
	}
	whatIfTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.Bool("success", ok), attribute.String("error_code", string(t.CSOPricingErrorCode)))
	return ok
}

// ProcessEftItin prices the port exchange redirect sub-transaction, creating
// it first if needed. Failures are always returned; before returning one the
// billing action code is marked for resubmission through the external
// exchange channel.
func (o *Orchestrator) ProcessEftItin(ctx context.Context, t *trx.Transaction, mask service.Mask) (bool, error) {
	ctx, span := tracer().Start(ctx, "Orchestrator.ProcessEftItin")
	defer span.End()

	if t.Redirect == nil {
		err := o.factory.CreateRedirectSubTransaction(t, diag.Resolve(t) == diag.ItinExternalFallback)
		if err != nil || t.Redirect == nil {
			msg := "invalid transaction for redirect to port exchange"
			if err != nil {
				msg = fmt.Sprintf("%s: %v", msg, err)
			}
			be := apperr.New(apperr.InvalidTrxForRedirectToPortExchange, msg)
			span.RecordError(be)
			span.SetStatus(codes.Error, be.Error())
			return false, be
		}
	}

	markDiagnostic(span, t, t.Redirect)
	ok, err := o.invoker.InvokeServices(ctx, t.Redirect, mask)
	if err != nil {
		enforced := false
		if reason := t.RedirectReason(); reason != nil {
			enforced = o.decider.IsEnforceRedirection(t, apperr.Classify(reason))
		}
		if enforced || !t.Billing.Marked() {
			t.Billing.AppendActionCode(t.SecondaryExcReqType)
		}
		f := apperr.Classify(err)
		o.logger.Info("port exchange pricing raised an error",
			append(trxFields(t),
				zap.String("sub_trx_id", t.Redirect.ID),
				zap.String("error_code", string(f.Code())),
				zap.String("action_code", t.Billing.ActionCode))...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("success", ok))
	return ok, nil
}

// ProcessNewItin prices the new itinerary. A business error's code, or
// UnknownException for any other failure, is stored in
// ReissuePricingErrorCode; nothing is returned but the outcome.
func (o *Orchestrator) ProcessNewItin(ctx context.Context, t *trx.Transaction, mask service.Mask) bool {
	ctx, span := tracer().Start(ctx, "Orchestrator.ProcessNewItin")
	defer span.End()

	if err := t.EnterPhase(phase.PriceNewItin); err != nil {
		o.logger.Warn("cannot enter new itinerary phase", append(trxFields(t), zap.Error(err))...)
		t.ReissuePricingErrorCode = apperr.UnknownException
		return false
	}
	markDiagnostic(span, t, t)

	ok, err := o.invokeNewItin(ctx, t, mask)
	if err != nil {
		f := apperr.Classify(err)
		t.ReissuePricingErrorCode = f.Code()
		o.logger.Info("new itinerary pricing failed",
			append(trxFields(t),
				zap.Stringer("failure_kind", f.Kind),
				zap.String("error_code", string(f.Code())),
				zap.Error(err))...)
		span.RecordError(err)
		return false
	}
	span.SetAttributes(attribute.Bool("success", ok))
	return ok
}

// invokeNewItin splits the mask around the pricing slot when the permutation
// advisor requires a second pricing attempt. The second attempt runs even
// when the first one failed, and its outcome is the pricing outcome.
func (o *Orchestrator) invokeNewItin(ctx context.Context, t *trx.Transaction, mask service.Mask) (bool, error) {
	if o.advisor == nil || !mask.Has(service.Pricing) || !o.advisor.RequiresSecondPricing(t) {
		return o.invoker.InvokeServices(ctx, t, mask)
	}

	continueOnFailure := mask.ContinuesOnFailure()
	before, err := o.invoker.InvokeServices(ctx, t, mask.Before(service.Pricing))
	if err != nil || (!before && !continueOnFailure) {
		return before, err
	}

	pricing := service.Pricing.Bit() | mask&service.ContinueOnFailure
	if _, firstErr := o.invoker.InvokeServices(ctx, t, pricing); firstErr != nil {
		o.logger.Debug("first pricing attempt failed, pricing again",
			append(trxFields(t), zap.Error(firstErr))...)
	}
	priced, err := o.invoker.InvokeServices(ctx, t, pricing)
	if err != nil || (!priced && !continueOnFailure) {
		return priced, err
	}

	after, err := o.invoker.InvokeServices(ctx, t, mask.After(service.Pricing))
	return before && priced && after, err
}
