// Package remote implements backend services reached over HTTP. The
// transaction's active itineraries are posted as a protobuf Struct in its
// JSON encoding, and the service's verdict is applied back to them.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yourorg/fare-orchestrator/internal/adapter"
	"github.com/yourorg/fare-orchestrator/internal/adapter/remote/circuitbreaker"
	"github.com/yourorg/fare-orchestrator/internal/apperr"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRetryAttempts = 2
	defaultRetryDelay    = 200 * time.Millisecond
	maxIdempotencyKeyLen = 255
)

// ErrCircuitOpen is returned without calling the endpoint while its circuit
// is open.
var ErrCircuitOpen = errors.New("remote: circuit open")

// Config describes one remote service endpoint.
type Config struct {
	Name          string
	URL           string
	APIKey        string
	RetryAttempts int
	RetryDelay    time.Duration
}

// RemoteService implements adapter.Service over HTTP.
type RemoteService struct {
	name          string
	url           string
	apiKey        string
	retryAttempts int
	retryDelay    time.Duration
	httpClient    *http.Client
	breaker       *circuitbreaker.CircuitBreaker
	logger        *zap.Logger
}

// NewRemoteService creates a RemoteService. A nil client gets a default
// client with a timeout; a nil breaker gets a default breaker of its own.
func NewRemoteService(cfg Config, client *http.Client, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) (*RemoteService, error) {
	if cfg.Name == "" {
		return nil, errors.New("remote: service name is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote: url is required for service %s", cfg.Name)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	} else if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &RemoteService{
		name:          cfg.Name,
		url:           cfg.URL,
		apiKey:        cfg.APIKey,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		httpClient:    client,
		breaker:       breaker,
		logger:        logger.With(zap.String("service", cfg.Name)),
	}, nil
}

// Name implements adapter.Service.
func (s *RemoteService) Name() string { return s.name }

func generateIdempotencyKey(trxID, service string) string {
	key := fmt.Sprintf("%s-%s-%s", trxID, service, uuid.NewString())
	if len(key) > maxIdempotencyKeyLen {
		return key[:maxIdempotencyKeyLen]
	}
	return key
}

// buildPayload describes t and its active itineraries.
func buildPayload(t *trx.Transaction) (*structpb.Struct, error) {
	itins := make([]interface{}, 0, len(t.ActiveItins()))
	for _, it := range t.ActiveItins() {
		segs := make([]interface{}, 0, len(it.Segments))
		for _, sg := range it.Segments {
			segs = append(segs, map[string]interface{}{
				"origin":        sg.Origin,
				"destination":   sg.Destination,
				"carrier":       sg.Carrier,
				"flightNumber":  sg.FlightNumber,
				"bookingClass":  sg.BookingClass,
				"departureDate": sg.DepartureDate,
			})
		}
		itins = append(itins, map[string]interface{}{"id": it.ID, "segments": segs})
	}
	return structpb.NewStruct(map[string]interface{}{
		"transactionId":                t.ID,
		"kind":                         t.Kind.String(),
		"phase":                        string(t.Phase()),
		"subTransaction":               t.IsSubTransaction(),
		"analyzingExchangedItinerary":  t.AnalyzingExcItin,
		"lowFareRequested":             t.LowFareRequested,
		"secondaryExchangeRequestType": t.SecondaryExcReqType,
		"fullRefund":                   t.FullRefund,
		"actionCode":                   t.Billing.ActionCode,
		"itineraries":                  itins,
	})
}

// applyResponse copies the priced itineraries of a success response onto
// the matching active itineraries and returns the service verdict.
func applyResponse(t *trx.Transaction, body []byte) (bool, error) {
	var resp structpb.Struct
	if err := protojson.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("remote: decode response: %w", err)
	}
	fields := resp.GetFields()

	byID := make(map[string]*trx.Itinerary, len(t.ActiveItins()))
	for _, it := range t.ActiveItins() {
		byID[it.ID] = it
	}
	for _, v := range fields["itineraries"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		it, ok := byID[f["id"].GetStringValue()]
		if !ok {
			continue
		}
		it.Priced = f["priced"].GetBoolValue()
		it.TotalAmount = int64(f["totalAmount"].GetNumberValue())
		it.Currency = f["currency"].GetStringValue()
	}

	ok, present := fields["ok"]
	if !present {
		return false, errors.New("remote: response has no verdict")
	}
	return ok.GetBoolValue(), nil
}

// errorBody is the failure document of a 4xx response.
type errorBody struct {
	Code    string
	Message string
}

func parseErrorBody(body []byte) (errorBody, bool) {
	var resp structpb.Struct
	if err := protojson.Unmarshal(body, &resp); err != nil {
		return errorBody{}, false
	}
	e := resp.GetFields()["error"].GetStructValue().GetFields()
	code := e["code"].GetStringValue()
	if code == "" {
		return errorBody{}, false
	}
	return errorBody{Code: code, Message: e["message"].GetStringValue()}, true
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// Process implements adapter.Service. Network failures, 429 and 5xx
// responses are retried. A 4xx response with an error document becomes a
// business error carrying its code.
func (s *RemoteService) Process(ctx context.Context, t *trx.Transaction) (bool, error) {
	if !s.breaker.AllowRequest(s.name) {
		return false, fmt.Errorf("%w: %s", ErrCircuitOpen, s.name)
	}

	payload, err := buildPayload(t)
	if err != nil {
		return false, fmt.Errorf("remote: build payload: %w", err)
	}
	requestBody, err := protojson.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("remote: encode payload: %w", err)
	}

	idempotencyKey := generateIdempotencyKey(t.ID, s.name)
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				s.breaker.RecordFailure(s.name)
				return false, ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}

		status, body, err := s.post(ctx, idempotencyKey, requestBody)
		if err != nil {
			lastErr = fmt.Errorf("remote %s: attempt %d: %w", s.name, attempt+1, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if retryable(status) {
			lastErr = fmt.Errorf("remote %s: HTTP %d (attempt %d): %s", s.name, status, attempt+1, string(body))
			continue
		}

		s.breaker.RecordSuccess(s.name)
		s.logger.Debug("remote call completed",
			zap.String("trx_id", t.ID),
			zap.Int("status", status),
			zap.Int("attempts", attempt+1),
			zap.Duration("latency", time.Since(start)))

		if status >= 200 && status < 300 {
			return applyResponse(t, body)
		}
		if e, ok := parseErrorBody(body); ok {
			return false, apperr.New(apperr.Code(e.Code), e.Message)
		}
		return false, fmt.Errorf("remote %s: HTTP %d: %s", s.name, status, string(body))
	}

	s.breaker.RecordFailure(s.name)
	s.logger.Warn("remote call failed", zap.String("trx_id", t.ID), zap.Error(lastErr))
	return false, lastErr
}

// post sends one attempt. Retries of a call share idempotencyKey.
func (s *RemoteService) post(ctx context.Context, idempotencyKey string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

var _ adapter.Service = (*RemoteService)(nil)
