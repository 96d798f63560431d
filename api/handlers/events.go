package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/api"
	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 📡 Events Handler（WebSocket 事件流）
// =============================================================================

const (
	eventsWriteTimeout = 5 * time.Second
	eventsBuffer       = 128
)

// EventsHandler streams swarm events to websocket clients. Clients may
// narrow the stream with ?kind=a,b.
type EventsHandler struct {
	stream         *events.Stream
	originPatterns []string
	logger         *zap.Logger
}

// NewEventsHandler creates an events handler. originPatterns are passed to
// the websocket origin check; empty means same-origin only.
func NewEventsHandler(stream *events.Stream, originPatterns []string, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		stream:         stream,
		originPatterns: originPatterns,
		logger:         logger.With(zap.String("component", "events_handler")),
	}
}

// Register mounts the events endpoints on mux.
func (h *EventsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+api.PathEvents, h.HandleStream)
	mux.HandleFunc("GET "+api.PathEvents+"/kinds", h.HandleKinds)
}

// HandleKinds lists every event kind.
func (h *EventsHandler) HandleKinds(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, events.Kinds())
}

// HandleStream upgrades to a websocket and writes each event as one JSON
// text message until the client goes away.
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	filter, err := parseKinds(r.URL.Query().Get("kind"))
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err), h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ch, cancel := h.stream.Watch(eventsBuffer)
	defer cancel()

	// Reads are discarded; CloseRead cancels ctx when the client closes.
	ctx := conn.CloseRead(r.Context())
	h.logger.Debug("event watcher connected", zap.Int("watchers", h.stream.Watchers()))

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			if filter != nil {
				if _, want := filter[evt.Kind]; !want {
					continue
				}
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				h.logger.Debug("event watcher dropped", zap.Error(err))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, evt)
}

// parseKinds turns "a,b" into a set. An empty string means every kind.
func parseKinds(raw string) (map[events.Kind]struct{}, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	set := make(map[events.Kind]struct{})
	for _, part := range strings.Split(raw, ",") {
		k, err := events.ParseKind(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		set[k] = struct{}{}
	}
	return set, nil
}
