// Package app wires configuration into a ready orchestrator and implements
// the request flow shared by the server and the command line tool.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	adaptermock "github.com/yourorg/fare-orchestrator/internal/adapter/mock"
	"github.com/yourorg/fare-orchestrator/internal/adapter/remote"
	"github.com/yourorg/fare-orchestrator/internal/adapter/remote/circuitbreaker"
	"github.com/yourorg/fare-orchestrator/internal/apperr"
	"github.com/yourorg/fare-orchestrator/internal/config"
	"github.com/yourorg/fare-orchestrator/internal/diag"
	"github.com/yourorg/fare-orchestrator/internal/monitor"
	"github.com/yourorg/fare-orchestrator/internal/orchestrator"
	"github.com/yourorg/fare-orchestrator/internal/planbuilder"
	"github.com/yourorg/fare-orchestrator/internal/policy"
	"github.com/yourorg/fare-orchestrator/internal/processor"
	"github.com/yourorg/fare-orchestrator/internal/reporting"
	"github.com/yourorg/fare-orchestrator/internal/service"
	"github.com/yourorg/fare-orchestrator/internal/subtrx"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// App is the composed process.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	registry     *service.Registry
	orchestrator *orchestrator.Orchestrator
	builder      *trx.Builder
	monitor      *monitor.ContractMonitor
	history      *reporting.History
	reporter     *reporting.RetrospectiveReporter
	now          func() time.Time
}

// New builds an App from cfg. Tracing is set up by the caller.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := BuildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	plans, err := planbuilder.NewPlanBuilder(cfg.Plans)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	redirect, err := policy.NewRedirectPolicy(cfg.Policy.RedirectRule)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	opts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	advisor, err := policy.NewPermutationAdvisor(cfg.Policy.SecondPricingRule)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if advisor != nil {
		opts = append(opts, orchestrator.WithPermutationAdvisor(advisor))
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		orchestrator: orchestrator.NewOrchestrator(
			processor.NewProcessor(registry, logger),
			subtrx.NewFactory(nil),
			redirect,
			plans,
			opts...,
		),
		builder:  trx.NewBuilder(nil),
		history:  reporting.NewHistory(cfg.Server.HistorySize),
		reporter: reporting.NewRetrospectiveReporter(),
		now:      time.Now,
	}
	if cfg.Server.ValidateRequests {
		if a.monitor, err = monitor.NewTransactionRequestMonitor(); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	logger.Info("orchestrator ready", zap.Int("bound_services", len(registry.Bound())))
	return a, nil
}

// BuildRegistry binds every enabled service of cfg and seals the registry.
// Remote services share one circuit breaker and one HTTP client.
func BuildRegistry(cfg *config.Config, logger *zap.Logger) (*service.Registry, error) {
	reg := service.NewRegistry()
	client := &http.Client{Timeout: cfg.Remote.Timeout}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold:         cfg.Remote.FailureThreshold,
		ResetTimeout:             cfg.Remote.ResetTimeout,
		HalfOpenSuccessThreshold: cfg.Remote.HalfOpenSuccessThreshold,
	})

	for name, sc := range cfg.Services {
		if sc.Disabled {
			continue
		}
		id, err := service.ParseID(name)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		switch sc.Mode {
		case "", config.ModeStub:
			s, err := adaptermock.NewScripted(name, sc.Outcome)
			if err != nil {
				return nil, fmt.Errorf("app: service %s: %w", name, err)
			}
			err = reg.Bind(id, s)
			if err != nil {
				return nil, err
			}
		case config.ModeRemote:
			s, err := remote.NewRemoteService(remote.Config{
				Name:          name,
				URL:           sc.URL,
				APIKey:        sc.APIKey,
				RetryAttempts: sc.RetryAttempts,
				RetryDelay:    cfg.Remote.RetryDelay,
			}, client, breaker, logger)
			if err != nil {
				return nil, fmt.Errorf("app: service %s: %w", name, err)
			}
			if err := reg.Bind(id, s); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("app: service %s: unknown mode %q", name, sc.Mode)
		}
	}
	reg.Seal()
	return reg, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Registry returns the sealed service registry.
func (a *App) Registry() *service.Registry { return a.registry }

// Handle validates and decodes one request, processes it and records the
// outcome. A request that cannot become a transaction yields a zero Result
// and an InvalidRequest error. Otherwise the Result is always filled in,
// also when processing returned an error.
func (a *App) Handle(ctx context.Context, raw []byte) (orchestrator.Result, error) {
	if a.monitor != nil {
		valid, problems, err := a.monitor.Validate(raw)
		if err != nil {
			return orchestrator.Result{}, apperr.New(apperr.InvalidRequest, err.Error())
		}
		if !valid {
			return orchestrator.Result{}, apperr.New(apperr.InvalidRequest, monitor.FormatErrors(problems))
		}
	}

	var req trx.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return orchestrator.Result{}, apperr.Newf(apperr.InvalidRequest, "invalid request format: %v", err)
	}
	t, err := a.builder.Build(&req)
	if err != nil {
		return orchestrator.Result{}, err
	}

	q := diag.Resolve(t)
	ok, err := a.orchestrator.Process(ctx, t)
	res := orchestrator.Summarize(t, q.String(), ok, err)
	a.history.Add(reporting.EntryFromResult(res, a.now()))
	return res, err
}

// BatchItem is the outcome of one request of a batch.
type BatchItem struct {
	Index  int                  `json:"index"`
	Status int                  `json:"status"`
	Result *orchestrator.Result `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// HandleBatch processes independent requests concurrently, at most
// Server.BatchConcurrency at a time. Items keep the order of raws.
func (a *App) HandleBatch(ctx context.Context, raws []json.RawMessage) []BatchItem {
	items := make([]BatchItem, len(raws))
	var g errgroup.Group
	g.SetLimit(a.cfg.Server.BatchConcurrency)
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			res, err := a.Handle(ctx, raw)
			item := BatchItem{Index: i, Status: apperr.HTTPStatus(err)}
			if res.TransactionID != "" {
				item.Result = &res
			}
			if err != nil {
				item.Error = err.Error()
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// Report summarizes the recorded history.
func (a *App) Report() (*reporting.RetrospectiveReport, error) {
	return a.reporter.GenerateRetrospective(a.history.Entries())
}
