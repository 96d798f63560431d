package events

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownKind is returned when an event kind is not part of the closed set.
var ErrUnknownKind = errors.New("unknown event kind")

// Kind identifies an observability event.
type Kind string

const (
	KindAuctionCreated           Kind = "auction_created"
	KindBidReceived              Kind = "bid_received"
	KindAuctionAwarded           Kind = "auction_awarded"
	KindContractCreated          Kind = "contract_created"
	KindContractCompleted        Kind = "contract_completed"
	KindContractViolated         Kind = "contract_violated"
	KindReputationUpdated        Kind = "reputation_updated"
	KindTaskRedelegated          Kind = "task_redelegated"
	KindAttestationChainInvalid  Kind = "attestation_chain_invalid"
	KindParetoSelectionCompleted Kind = "pareto_selection_completed"
	KindAnomalyDetected          Kind = "anomaly_detected"
	KindRootCauseDiagnosed       Kind = "root_cause_diagnosed"
	KindDelegationTimedOut       Kind = "delegation_timed_out"
	KindBondSettled              Kind = "bond_settled"
)

var knownKinds = map[Kind]struct{}{
	KindAuctionCreated:           {},
	KindBidReceived:              {},
	KindAuctionAwarded:           {},
	KindContractCreated:          {},
	KindContractCompleted:        {},
	KindContractViolated:         {},
	KindReputationUpdated:        {},
	KindTaskRedelegated:          {},
	KindAttestationChainInvalid:  {},
	KindParetoSelectionCompleted: {},
	KindAnomalyDetected:          {},
	KindRootCauseDiagnosed:       {},
	KindDelegationTimedOut:       {},
	KindBondSettled:              {},
}

// Valid reports whether k belongs to the closed set of kinds.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// ParseKind converts a string into a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Kinds returns every known kind in lexical order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(knownKinds))
	for k := range knownKinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fields is the flat key/value payload of an event.
type Fields map[string]any

// Event is a single emitted observability record.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Fields    Fields    `json:"fields"`
}

// Handler consumes events.
type Handler func(Event)

// Emitter is what swarm components depend on to publish events.
type Emitter interface {
	Emit(kind Kind, fields Fields) error
}

// Nop is an Emitter that drops every event after validating its kind.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(kind Kind, _ Fields) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return nil
}

// Bus dispatches events to handlers registered per kind.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	all      []Handler
	logger   *zap.Logger
	now      func() time.Time
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[Kind][]Handler),
		logger:   logger.With(zap.String("component", "event_bus")),
		now:      time.Now,
	}
}

// Subscribe registers h for a single kind.
func (b *Bus) Subscribe(kind Kind, h Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if h == nil {
		return errors.New("nil handler")
	}
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], h)
	b.mu.Unlock()
	return nil
}

// SubscribeAll registers h for every kind.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.all = append(b.all, h)
	b.mu.Unlock()
}

// Emit validates kind and delivers the event synchronously to its handlers.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Emit(kind Kind, fields Fields) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if fields == nil {
		fields = Fields{}
	}
	evt := Event{Kind: kind, Timestamp: b.now(), Fields: fields}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[kind])+len(b.all))
	targets = append(targets, b.handlers[kind]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, h := range targets {
		b.dispatch(h, evt)
	}
	return nil
}

func (b *Bus) dispatch(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event_kind", string(evt.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	h(evt)
}

// Emit publishes through e, tolerating a nil Emitter. Errors are returned
// for the caller to log; they never abort the operation that emitted.
func Emit(e Emitter, kind Kind, fields Fields) error {
	if e == nil {
		return nil
	}
	return e.Emit(kind, fields)
}
