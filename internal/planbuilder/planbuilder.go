// Package planbuilder decides which service masks each pipeline of a
// transaction kind requests.
package planbuilder

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/fare-orchestrator/internal/service"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

var (
	planRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fareorch_plan_requests_total",
		Help: "Plans built, by transaction kind.",
	}, []string{"kind"})

	planBuildDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fareorch_plan_build_duration_seconds",
		Help:    "Time spent building a plan.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
	})
)

// GetPlanRequestsTotal exposes the plan counter for tests.
func GetPlanRequestsTotal() *prometheus.CounterVec { return planRequestsTotal }

// GetPlanBuildDurationSeconds exposes the build histogram for tests.
func GetPlanBuildDurationSeconds() prometheus.Histogram { return planBuildDurationSeconds }

// Plan is the set of service masks the pipelines of one transaction kind
// request.
type Plan struct {
	ExcItin      service.Mask
	NewItin      service.Mask
	WhatIf       service.Mask
	PortExchange service.Mask
}

// Spec is the configured form of a Plan: service names per pipeline. An
// omitted pipeline keeps its default mask.
type Spec struct {
	ExcItin      []string `mapstructure:"exc_itin"`
	NewItin      []string `mapstructure:"new_itin"`
	WhatIf       []string `mapstructure:"what_if"`
	PortExchange []string `mapstructure:"port_exchange"`
}

var (
	excItinMask = service.Of(service.ItinAnalyzer, service.FareCollector, service.RexFareSelector, service.Pricing)
	newItinMask = service.Of(service.ItinAnalyzer, service.FareCollector, service.FareValidator,
		service.Pricing, service.Taxes, service.FareCalc, service.Currency)
	whatIfMask       = service.Of(service.FareCollector, service.FareValidator, service.Pricing)
	portExchangeMask = service.Of(service.ItinAnalyzer, service.FareCollector, service.FareValidator,
		service.Pricing, service.Taxes, service.FareCalc)
)

// DefaultPlans returns the built-in plan of every kind.
func DefaultPlans() map[trx.Kind]Plan {
	exchange := Plan{ExcItin: excItinMask, NewItin: newItinMask, WhatIf: whatIfMask, PortExchange: portExchangeMask}
	return map[trx.Kind]Plan{
		trx.KindPricing:  {NewItin: newItinMask},
		trx.KindExchange: exchange,
		trx.KindRefund: {
			ExcItin:      excItinMask | service.Of(service.Taxes),
			NewItin:      newItinMask,
			WhatIf:       whatIfMask,
			PortExchange: portExchangeMask,
		},
		trx.KindWhatIf:       {WhatIf: whatIfMask},
		trx.KindPortExchange: {PortExchange: portExchangeMask},
	}
}

// PlanBuilder hands out plans. It is read-only after construction.
type PlanBuilder struct {
	plans map[trx.Kind]Plan
}

// NewPlanBuilder starts from DefaultPlans and applies overrides keyed by
// transaction kind name.
func NewPlanBuilder(overrides map[string]Spec) (*PlanBuilder, error) {
	plans := DefaultPlans()
	for name, spec := range overrides {
		kind, err := trx.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("plan override: %w", err)
		}
		p := plans[kind]
		for _, field := range []struct {
			items []string
			dst   *service.Mask
			label string
		}{
			{spec.ExcItin, &p.ExcItin, "exc_itin"},
			{spec.NewItin, &p.NewItin, "new_itin"},
			{spec.WhatIf, &p.WhatIf, "what_if"},
			{spec.PortExchange, &p.PortExchange, "port_exchange"},
		} {
			if field.items == nil {
				continue
			}
			m, err := service.ParseMask(field.items)
			if err != nil {
				return nil, fmt.Errorf("plan override %s.%s: %w", name, field.label, err)
			}
			*field.dst = m
		}
		plans[kind] = p
	}
	return &PlanBuilder{plans: plans}, nil
}

// Build returns the plan for kind.
func (b *PlanBuilder) Build(ctx context.Context, kind trx.Kind) (Plan, error) {
	_, span := otel.Tracer("planbuilder").Start(ctx, "PlanBuilder.Build")
	defer span.End()
	span.SetAttributes(attribute.String("trx.kind", kind.String()))

	start := time.Now()
	defer func() { planBuildDurationSeconds.Observe(time.Since(start).Seconds()) }()

	p, ok := b.plans[kind]
	if !ok {
		return Plan{}, fmt.Errorf("no plan for transaction kind %s", kind)
	}
	planRequestsTotal.WithLabelValues(kind.String()).Inc()
	return p, nil
}
