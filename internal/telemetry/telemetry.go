package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/config"
	"github.com/BaSui01/agentswarm/types"
)

// Resource attribute keys describing the swarm member that emits telemetry.
const (
	AttrNodeID       = attribute.Key("swarm.node.id")
	AttrPublicKey    = attribute.Key("swarm.node.public_key")
	AttrCapabilities = attribute.Key("swarm.node.capabilities")
	AttrAPIURL       = attribute.Key("swarm.node.api_url")
)

// Providers holds the SDK tracer and meter providers. Both are nil when
// telemetry is disabled and Shutdown is then a no-op.
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init installs the swarm propagator and, when cfg.Enabled, OTLP exporters
// whose resource identifies this node.
//
// The W3C trace-context propagator is installed even with telemetry off so a
// delegation keeps its delegator's trace id on its way through this node.
func Init(cfg config.TelemetryConfig, self types.PeerIdentity, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	otel.SetTextMapPropagator(Propagator())
	if !cfg.Enabled {
		logger.Info("telemetry disabled, spans still carry delegator trace context")
		return &Providers{}, nil
	}

	ctx := context.Background()
	res, err := Resource(ctx, cfg.ServiceName, self)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRate)),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.String("node_id", self.NodeID),
		zap.Strings("capabilities", self.Capabilities),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return &Providers{tp: tp, mp: mp}, nil
}

// Propagator carries trace context and baggage across peer requests.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// Sampler samples root spans at rate and otherwise follows the caller, so a
// delegated task is recorded on every node exactly when its delegator
// recorded it.
func Sampler(rate float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Resource describes self: the service instance is the node id and the swarm
// attributes let a shared collector group spans by node and capability.
func Resource(ctx context.Context, serviceName string, self types.PeerIdentity) (*resource.Resource, error) {
	caps := append([]string(nil), self.Capabilities...)
	sort.Strings(caps)

	version := self.Version
	if version == "" {
		version = buildVersion()
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(version),
		semconv.ServiceInstanceIDKey.String(self.NodeID),
		AttrNodeID.String(self.NodeID),
		AttrCapabilities.StringSlice(caps),
	}
	if self.PublicKey != "" {
		attrs = append(attrs, AttrPublicKey.String(self.PublicKey))
	}
	if self.APIURL != "" {
		attrs = append(attrs, AttrAPIURL.String(self.APIURL))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// Shutdown flushes pending spans and metrics. Safe on nil or noop Providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
