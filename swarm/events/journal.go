package events

import (
	"sort"

	"go.uber.org/zap"
)

// Journal writes every event it receives as one structured log entry.
type Journal struct {
	logger *zap.Logger
}

// NewJournal creates a journal backed by logger.
func NewJournal(logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{logger: logger.With(zap.String("component", "event_journal"))}
}

// Handle implements Handler.
func (j *Journal) Handle(evt Event) {
	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+2)
	fields = append(fields,
		zap.String("event_kind", string(evt.Kind)),
		zap.Time("event_time", evt.Timestamp),
	)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, evt.Fields[k]))
	}

	switch evt.Kind {
	case KindAttestationChainInvalid, KindContractViolated, KindAnomalyDetected:
		j.logger.Warn("swarm event", fields...)
	default:
		j.logger.Info("swarm event", fields...)
	}
}
