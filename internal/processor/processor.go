// Package processor runs the backend services requested by a service mask
// against a transaction, in the fixed declared order.
package processor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/yourorg/fare-orchestrator/internal/apperr"
	"github.com/yourorg/fare-orchestrator/internal/service"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// Invocation outcomes recorded per service.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeAbsent = "absent"
	OutcomeError  = "error"
)

var (
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fareorch_service_invocations_total",
		Help: "Backend service invocations by service and outcome.",
	}, []string{"service", "outcome"})

	invocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fareorch_service_invocation_duration_seconds",
		Help:    "Duration of backend service invocations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})
)

// GetInvocationsTotal exposes the invocation counter for tests.
func GetInvocationsTotal() *prometheus.CounterVec { return invocationsTotal }

// GetInvocationDuration exposes the invocation histogram for tests.
func GetInvocationDuration() *prometheus.HistogramVec { return invocationDuration }

// Processor is the invocation engine. It holds no per-transaction state.
type Processor struct {
	registry *service.Registry
	logger   *zap.Logger
}

// NewProcessor creates a Processor over a bound registry.
func NewProcessor(registry *service.Registry, logger *zap.Logger) *Processor {
	if registry == nil {
		panic("service registry cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{registry: registry, logger: logger}
}

// Registry returns the registry the processor invokes.
func (p *Processor) Registry() *service.Registry { return p.registry }

// InvokeServices calls every service requested in mask, in declared order.
// A requested slot with no bound handle counts as a failed slot. Unless mask
// has ContinueOnFailure, the first failed slot stops the iteration and false
// is returned. Errors returned by a service stop the iteration and are
// returned unchanged.
func (p *Processor) InvokeServices(ctx context.Context, t *trx.Transaction, mask service.Mask) (bool, error) {
	tracer := otel.Tracer("processor")
	ctx, span := tracer.Start(ctx, "Processor.InvokeServices")
	defer span.End()
	span.SetAttributes(
		attribute.String("trx.id", t.ID),
		attribute.String("trx.phase", string(t.Phase())),
		attribute.String("services", mask.String()),
	)

	continueOnFailure := mask.ContinuesOnFailure()
	for _, id := range mask.Services() {
		if !p.registry.Has(id) {
			invocationsTotal.WithLabelValues(id.String(), OutcomeAbsent).Inc()
			p.logger.Warn("requested service is not bound",
				zap.String("trx_id", t.ID), zap.Stringer("service", id))
			if !continueOnFailure {
				span.SetAttributes(attribute.String("failed_service", id.String()))
				return false, nil
			}
			continue
		}

		ok, err := p.invokeOne(ctx, id, t)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
		if !ok && !continueOnFailure {
			span.SetAttributes(attribute.String("failed_service", id.String()))
			return false, nil
		}
	}
	return true, nil
}

func (p *Processor) invokeOne(ctx context.Context, id service.ID, t *trx.Transaction) (bool, error) {
	ctx, span := otel.Tracer("processor").Start(ctx, "service."+id.String())
	defer span.End()

	start := time.Now()
	ok, err := p.registry.Invoke(ctx, id, t)
	invocationDuration.WithLabelValues(id.String()).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		invocationsTotal.WithLabelValues(id.String(), OutcomeError).Inc()
		f := apperr.Classify(err)
		p.logger.Debug("service raised an error",
			zap.String("trx_id", t.ID),
			zap.Stringer("service", id),
			zap.Stringer("failure_kind", f.Kind),
			zap.String("error_code", string(f.Code())),
			zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !ok:
		invocationsTotal.WithLabelValues(id.String(), OutcomeFailed).Inc()
		p.logger.Debug("service failed", zap.String("trx_id", t.ID), zap.Stringer("service", id))
	default:
		invocationsTotal.WithLabelValues(id.String(), OutcomeOK).Inc()
	}
	return ok, err
}
