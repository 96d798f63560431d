package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/api"
	"github.com/BaSui01/agentswarm/swarm/inbox"
	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 📥 Inbox Handler（本地运行时接口）
// =============================================================================

// InboxHandler lets the local agent runtime pick up delegated work, report
// progress and results, and answer RFQs.
type InboxHandler struct {
	inbox  *inbox.Inbox
	logger *zap.Logger
}

// CheckpointRequest is a progress report from the local runtime.
type CheckpointRequest struct {
	Progress string `json:"progress"`
}

// NewInboxHandler creates an inbox handler.
func NewInboxHandler(in *inbox.Inbox, logger *zap.Logger) *InboxHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxHandler{inbox: in, logger: logger.With(zap.String("component", "inbox_handler"))}
}

// Register mounts the inbox endpoints on mux.
func (h *InboxHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+api.PathInboxTasks, h.HandleListTasks)
	mux.HandleFunc("POST "+api.PathInboxTasks+"/{id}/claim", h.HandleClaim)
	mux.HandleFunc("POST "+api.PathInboxTasks+"/{id}/checkpoint", h.HandleCheckpoint)
	mux.HandleFunc("POST "+api.PathInboxTasks+"/{id}/result", h.HandleComplete)
	mux.HandleFunc("GET "+api.PathInboxRFQs, h.HandleListRFQs)
	mux.HandleFunc("POST "+api.PathInboxRFQs+"/{id}/bid", h.HandleBid)
}

// HandleListTasks lists accepted tasks that are not finished.
func (h *InboxHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.inbox.Tasks())
}

// HandleClaim marks a task as taken by a worker. A task can be claimed once.
func (h *InboxHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	task, ok := h.inbox.Claim(r.PathValue("id"))
	if !ok {
		WriteErrorMessage(w, http.StatusConflict, types.ErrUnknownTask, "task is unknown or already claimed", h.logger)
		return
	}
	WriteSuccess(w, task)
}

// HandleCheckpoint relays progress to the delegator.
func (h *InboxHandler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req CheckpointRequest
	if r.ContentLength != 0 {
		if !ValidateContentType(w, r, h.logger) {
			return
		}
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}
	if err := h.inbox.ReportCheckpoint(r.Context(), r.PathValue("id"), req.Progress); err != nil {
		h.writeErr(w, err)
		return
	}
	WriteSuccess(w, CheckpointResponse{Recorded: true})
}

// HandleComplete attests a result and reports it to the delegator.
func (h *InboxHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var result types.SwarmTaskResult
	if err := DecodeJSONBody(w, r, &result, h.logger); err != nil {
		return
	}
	reported, err := h.inbox.Complete(r.Context(), r.PathValue("id"), result)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	WriteSuccess(w, reported)
}

// HandleListRFQs lists open solicitations.
func (h *InboxHandler) HandleListRFQs(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.inbox.Solicitations())
}

// HandleBid submits a quote for an open RFQ.
func (h *InboxHandler) HandleBid(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var q inbox.Quote
	if err := DecodeJSONBody(w, r, &q, h.logger); err != nil {
		return
	}
	bid, err := h.inbox.Bid(r.Context(), r.PathValue("id"), q)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	WriteSuccess(w, bid)
}

// writeErr maps inbox sentinels, and reports delivery failures towards the
// delegator as a bad gateway.
func (h *InboxHandler) writeErr(w http.ResponseWriter, err error) {
	apiErr := inboxError(err)
	if apiErr.Code == types.ErrInternalError {
		apiErr = types.NewError(types.ErrServiceUnavailable, "delivery to delegator failed").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}
	WriteError(w, apiErr, h.logger)
}
