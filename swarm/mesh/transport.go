package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/internal/circuitbreaker"
	"github.com/BaSui01/agentswarm/types"
)

var tracer = otel.Tracer("github.com/BaSui01/agentswarm/swarm/mesh")

// Peer API paths.
const (
	PathDelegate   = "/api/v1/swarm/delegate"
	PathRFQ        = "/api/v1/swarm/rfq"
	PathBids       = "/api/v1/swarm/bids"
	PathResults    = "/api/v1/swarm/results"
	PathCheckpoint = "/api/v1/swarm/checkpoints"
	PathHeartbeat  = "/api/v1/swarm/heartbeat"
)

// maxResponseBytes bounds how much of a peer response is read.
const maxResponseBytes = 1 << 20

// StatusError is a non-2xx peer response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer returned %d: %s", e.StatusCode, e.Body)
}

// TransportConfig tunes the HTTP transport.
type TransportConfig struct {
	RequestTimeout time.Duration         `json:"request_timeout" yaml:"request_timeout"`
	Breaker        circuitbreaker.Config `json:"breaker" yaml:"breaker"`
}

// DefaultTransportConfig returns the standard transport settings.
func DefaultTransportConfig() TransportConfig {
	br := circuitbreaker.DefaultConfig()
	br.Threshold = 3
	br.Timeout = 10 * time.Second
	br.ResetTimeout = 30 * time.Second
	return TransportConfig{RequestTimeout: 10 * time.Second, Breaker: br}
}

// HTTPTransport speaks the peer JSON API. Every peer address gets its own
// circuit breaker.
type HTTPTransport struct {
	client   *http.Client
	token    string
	breakers *circuitbreaker.Registry
	logger   *zap.Logger
}

// NewHTTPTransport creates a transport. A nil client uses http.DefaultClient
// semantics with the configured timeout.
func NewHTTPTransport(client *http.Client, token string, config TransportConfig, logger *zap.Logger) *HTTPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}
	br := config.Breaker
	br.IsFailure = countsAgainstPeer
	return &HTTPTransport{
		client:   client,
		token:    token,
		breakers: circuitbreaker.NewRegistry(br, logger),
		logger:   logger.With(zap.String("component", "mesh_transport")),
	}
}

// countsAgainstPeer keeps client-side mistakes from tripping a peer's breaker.
func countsAgainstPeer(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

// Breakers exposes the per-peer breaker registry.
func (t *HTTPTransport) Breakers() *circuitbreaker.Registry { return t.breakers }

// ack is the reply type of calls whose response body carries nothing.
type ack struct{}

// DelegateTask posts a delegation request to addr.
func (t *HTTPTransport) DelegateTask(ctx context.Context, addr string, req DelegateRequest) (DelegateResponse, error) {
	return exchange[DelegateResponse](ctx, t, addr, PathDelegate, req)
}

// SendRFQ posts an RFQ to addr.
func (t *HTTPTransport) SendRFQ(ctx context.Context, addr string, rfq types.TaskRFQ) error {
	_, err := exchange[ack](ctx, t, addr, PathRFQ, rfq)
	return err
}

// SubmitBid posts a bid back to the RFQ originator.
func (t *HTTPTransport) SubmitBid(ctx context.Context, addr string, bid types.BidObject) error {
	_, err := exchange[ack](ctx, t, addr, PathBids, bid)
	return err
}

// ReportResult posts a task result back to the delegator.
func (t *HTTPTransport) ReportResult(ctx context.Context, addr string, result types.SwarmTaskResult) error {
	_, err := exchange[ack](ctx, t, addr, PathResults, result)
	return err
}

// ReportCheckpoint posts a progress checkpoint to the delegator.
func (t *HTTPTransport) ReportCheckpoint(ctx context.Context, addr string, cp Checkpoint) error {
	_, err := exchange[ack](ctx, t, addr, PathCheckpoint, cp)
	return err
}

// SendHeartbeat announces hb to addr.
func (t *HTTPTransport) SendHeartbeat(ctx context.Context, addr string, hb Heartbeat) error {
	_, err := exchange[ack](ctx, t, addr, PathHeartbeat, hb)
	return err
}

// exchange posts body to addr under the peer's breaker and decodes the reply
// as a T. A reply that does not decode counts against the peer.
func exchange[T any](ctx context.Context, t *HTTPTransport, addr, path string, body any) (T, error) {
	ctx, span := tracer.Start(ctx, "mesh.post")
	defer span.End()
	span.SetAttributes(attribute.String("peer.address", addr), attribute.String("http.route", path))

	var zero T
	payload, err := json.Marshal(body)
	if err != nil {
		return zero, fmt.Errorf("encode request: %w", err)
	}
	url := strings.TrimRight(addr, "/") + path

	out, err := circuitbreaker.CallTyped(ctx, t.breakers.Get(addr), func(ctx context.Context) (T, error) {
		var out T
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return out, err
		}
		req.Header.Set("Content-Type", "application/json")
		if t.token != "" {
			req.Header.Set(TokenHeader, t.token)
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := t.client.Do(req)
		if err != nil {
			return out, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return out, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return out, fmt.Errorf("%w: %s", ErrUnauthorized, url)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return out, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		if _, skip := any(out).(ack); skip || len(data) == 0 {
			return out, nil
		}
		err = decodeEnvelope(data, &out)
		return out, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Debug("peer request failed", zap.String("url", url), zap.Error(err))
	}
	return out, err
}

// decodeEnvelope accepts both a bare payload and the {"success","data"}
// envelope the API handlers write.
func decodeEnvelope(data []byte, out any) error {
	var env struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Success != nil && len(env.Data) > 0 {
		data = env.Data
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
