package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/auction"
	"github.com/BaSui01/agentswarm/swarm/distributor"
	"github.com/BaSui01/agentswarm/swarm/inbox"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 🌐 Peer Handler（节点间接口）
// =============================================================================

// PeerHandler serves the endpoints other swarm members call: delegation
// intake, RFQs, bids, results, checkpoints and heartbeats. Swarm-token
// authentication is applied by middleware in front of it.
type PeerHandler struct {
	inbox       *inbox.Inbox
	auction     *auction.Auction
	distributor *distributor.Distributor
	directory   *mesh.Directory
	logger      *zap.Logger
}

// PeerDependencies groups what PeerHandler serves. A nil component makes
// its endpoints answer 503.
type PeerDependencies struct {
	Inbox       *inbox.Inbox
	Auction     *auction.Auction
	Distributor *distributor.Distributor
	Directory   *mesh.Directory
}

// ResolveResponse reports whether a posted result matched a delegation.
type ResolveResponse struct {
	Resolved bool `json:"resolved"`
}

// CheckpointResponse reports whether a checkpoint matched a delegation.
type CheckpointResponse struct {
	Recorded bool `json:"recorded"`
}

// HeartbeatResponse acknowledges a heartbeat.
type HeartbeatResponse struct {
	Accepted bool `json:"accepted"`
}

// NewPeerHandler creates a peer handler.
func NewPeerHandler(deps PeerDependencies, logger *zap.Logger) *PeerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeerHandler{
		inbox:       deps.Inbox,
		auction:     deps.Auction,
		distributor: deps.Distributor,
		directory:   deps.Directory,
		logger:      logger.With(zap.String("component", "peer_handler")),
	}
}

// Register mounts the peer endpoints on mux at the mesh paths.
func (h *PeerHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+mesh.PathDelegate, h.HandleDelegate)
	mux.HandleFunc("POST "+mesh.PathRFQ, h.HandleRFQ)
	mux.HandleFunc("POST "+mesh.PathBids, h.HandleBid)
	mux.HandleFunc("POST "+mesh.PathResults, h.HandleResult)
	mux.HandleFunc("POST "+mesh.PathCheckpoint, h.HandleCheckpoint)
	mux.HandleFunc("POST "+mesh.PathHeartbeat, h.HandleHeartbeat)
}

// HandleDelegate accepts a delegated task into the local inbox. A refusal
// is still a 200 with accepted=false so the delegator moves on.
func (h *PeerHandler) HandleDelegate(w http.ResponseWriter, r *http.Request) {
	if h.inbox == nil {
		h.unavailable(w, "inbox")
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req mesh.DelegateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	WriteSuccess(w, h.inbox.AcceptTask(req))
}

// HandleRFQ records a solicitation this node may bid on.
func (h *PeerHandler) HandleRFQ(w http.ResponseWriter, r *http.Request) {
	if h.inbox == nil {
		h.unavailable(w, "inbox")
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var rfq types.TaskRFQ
	if err := DecodeJSONBody(w, r, &rfq, h.logger); err != nil {
		return
	}
	if err := h.inbox.AcceptRFQ(r.Context(), rfq); err != nil {
		WriteError(w, inboxError(err), h.logger)
		return
	}
	WriteJSON(w, http.StatusAccepted, Response{Success: true, Data: map[string]string{"rfq_id": rfq.RFQID}})
}

// HandleBid forwards a bid to the auction that issued the RFQ.
func (h *PeerHandler) HandleBid(w http.ResponseWriter, r *http.Request) {
	if h.auction == nil {
		h.unavailable(w, "auction")
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var bid types.BidObject
	if err := DecodeJSONBody(w, r, &bid, h.logger); err != nil {
		return
	}
	res := h.auction.ReceiveBid(r.Context(), bid)
	if !res.Accepted {
		WriteErrorMessage(w, http.StatusConflict, types.ErrInvalidRequest, "bid rejected: "+res.Reason, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleResult settles a delegation with the peer's result. A result whose
// sender is not the peer the task was delegated to is refused.
func (h *PeerHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	if h.distributor == nil {
		h.unavailable(w, "distributor")
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var result types.SwarmTaskResult
	if err := DecodeJSONBody(w, r, &result, h.logger); err != nil {
		return
	}
	if result.TaskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task_id is required", h.logger)
		return
	}
	if !result.Status.Valid() {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "unknown result status", h.logger)
		return
	}
	if active, ok := h.distributor.GetActiveDelegation(result.TaskID); ok &&
		result.PeerNodeID != "" && result.PeerNodeID != active.PeerNodeID {
		h.logger.Warn("result from unexpected peer",
			zap.String("task_id", result.TaskID),
			zap.String("sender", result.PeerNodeID),
			zap.String("delegatee", active.PeerNodeID),
		)
		WriteErrorMessage(w, http.StatusForbidden, types.ErrForbidden, "result sender does not hold the delegation", h.logger)
		return
	}
	WriteSuccess(w, ResolveResponse{Resolved: h.distributor.ResolveTask(r.Context(), &result)})
}

// HandleCheckpoint records progress on an active delegation.
func (h *PeerHandler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if h.distributor == nil {
		h.unavailable(w, "distributor")
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var cp mesh.Checkpoint
	if err := DecodeJSONBody(w, r, &cp, h.logger); err != nil {
		return
	}
	if cp.TaskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task_id is required", h.logger)
		return
	}
	WriteSuccess(w, CheckpointResponse{Recorded: h.distributor.RecordCheckpoint(cp.TaskID)})
}

// HandleHeartbeat registers or refreshes the sending peer.
func (h *PeerHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		h.unavailable(w, "directory")
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var hb mesh.Heartbeat
	if err := DecodeJSONBody(w, r, &hb, h.logger); err != nil {
		return
	}
	if !h.directory.Heartbeat(hb) {
		WriteErrorMessage(w, http.StatusConflict, types.ErrInvalidRequest, "heartbeat refused", h.logger)
		return
	}
	WriteSuccess(w, HeartbeatResponse{Accepted: true})
}

func (h *PeerHandler) unavailable(w http.ResponseWriter, what string) {
	WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, what+" is not enabled on this node", h.logger)
}

// inboxError maps inbox sentinels to API errors.
func inboxError(err error) *types.Error {
	var (
		code   = types.ErrInternalError
		status int
	)
	switch {
	case errors.Is(err, inbox.ErrInvalid):
		code = types.ErrInvalidRequest
	case errors.Is(err, inbox.ErrUnknownTask), errors.Is(err, inbox.ErrUnknownRFQ), errors.Is(err, mesh.ErrPeerNotFound):
		code = types.ErrNotFound
	case errors.Is(err, inbox.ErrReplayedNonce):
		code, status = types.ErrInvalidRequest, http.StatusConflict
	case errors.Is(err, inbox.ErrDeadlinePassed):
		code, status = types.ErrInvalidRequest, http.StatusUnprocessableEntity
	case errors.Is(err, inbox.ErrInboxFull):
		code, status = types.ErrRateLimited, http.StatusServiceUnavailable
	}
	e := types.NewError(code, err.Error()).WithCause(err)
	if status != 0 {
		e = e.WithHTTPStatus(status)
	}
	return e
}
