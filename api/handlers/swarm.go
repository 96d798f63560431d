package handlers

import (
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/api"
	"github.com/BaSui01/agentswarm/swarm/auction"
	"github.com/BaSui01/agentswarm/swarm/authority"
	"github.com/BaSui01/agentswarm/swarm/contract"
	"github.com/BaSui01/agentswarm/swarm/distributor"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/swarm/reputation"
	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 🧭 Swarm Handler（运维接口）
// =============================================================================

// SwarmHandler serves the operator API: distributing tasks and inspecting
// delegations, peers, reputations, contracts and auctions.
type SwarmHandler struct {
	distributor *distributor.Distributor
	directory   *mesh.Directory
	reputation  *reputation.Ledger
	contracts   *contract.Ledger
	auction     *auction.Auction
	tiers       authority.Config
	logger      *zap.Logger
}

// SwarmDependencies groups the components SwarmHandler reads. Distributor,
// Directory and Reputation are required.
type SwarmDependencies struct {
	Distributor *distributor.Distributor
	Directory   *mesh.Directory
	Reputation  *reputation.Ledger
	Contracts   *contract.Ledger
	Auction     *auction.Auction
}

// PeerView is a directory entry joined with its reputation.
type PeerView struct {
	types.PeerEntry
	TrustScore  float64        `json:"trust_score"`
	TrustTier   authority.Tier `json:"trust_tier"`
	Quarantined bool           `json:"quarantined"`
}

// QuarantineResponse reports a quarantine change.
type QuarantineResponse struct {
	NodeID      string    `json:"node_id"`
	Quarantined bool      `json:"quarantined"`
	Until       time.Time `json:"until,omitempty"`
}

// CancelResponse reports how many delegations a cancel call rejected.
type CancelResponse struct {
	Cancelled int `json:"cancelled"`
}

// NewSwarmHandler creates an operator handler.
func NewSwarmHandler(deps SwarmDependencies, logger *zap.Logger) *SwarmHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &SwarmHandler{
		distributor: deps.Distributor,
		directory:   deps.Directory,
		reputation:  deps.Reputation,
		contracts:   deps.Contracts,
		auction:     deps.Auction,
		tiers:       authority.DefaultConfig(),
		logger:      logger.With(zap.String("component", "swarm_handler")),
	}
	if deps.Distributor != nil {
		h.tiers = deps.Distributor.Config().Authority
	}
	return h
}

// Register mounts the operator endpoints on mux.
func (h *SwarmHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+api.PathDistribute, h.HandleDistribute)
	mux.HandleFunc("GET "+api.PathDelegations, h.HandleListDelegations)
	mux.HandleFunc("GET "+api.PathDelegations+"/{id}", h.HandleGetDelegation)
	mux.HandleFunc("DELETE "+api.PathDelegations+"/{id}", h.HandleCancelDelegation)
	mux.HandleFunc("DELETE "+api.PathDelegations, h.HandleCancelAll)
	mux.HandleFunc("GET "+api.PathPeers, h.HandleListPeers)
	mux.HandleFunc("GET "+api.PathPeers+"/{id}", h.HandleGetPeer)
	mux.HandleFunc("POST "+api.PathPeers+"/{id}/quarantine", h.HandleQuarantine)
	mux.HandleFunc("DELETE "+api.PathPeers+"/{id}/quarantine", h.HandleRelease)
	mux.HandleFunc("GET "+api.PathReputations, h.HandleListReputations)
	mux.HandleFunc("GET "+api.PathContracts, h.HandleListContracts)
	mux.HandleFunc("GET "+api.PathContracts+"/{id}", h.HandleGetContract)
	mux.HandleFunc("GET "+api.PathAuctions+"/{id}", h.HandleGetAuction)
}

// HandleDistribute delegates one task and waits for its outcome. A failed
// delegation still carries the partial result and diagnosis when there is
// one.
// @Summary Distribute a task
// @Tags swarm
// @Accept json
// @Produce json
// @Param request body distributor.DistributeRequest true "Task"
// @Success 200 {object} Response{data=distributor.DistributeResult}
// @Failure 503 {object} Response "No suitable peers"
// @Security BearerAuth
// @Router /api/v1/distribute [post]
func (h *SwarmHandler) HandleDistribute(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req distributor.DistributeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := h.distributor.Distribute(r.Context(), req)
	if err != nil {
		typed, ok := types.AsError(err)
		if !ok {
			typed = types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
			if r.Context().Err() != nil {
				typed = types.NewError(types.ErrDelegationCancelled, "request cancelled").WithCause(err)
			}
		}
		h.writeFailure(w, typed, res)
		return
	}
	WriteSuccess(w, res)
}

func (h *SwarmHandler) writeFailure(w http.ResponseWriter, err *types.Error, res *distributor.DistributeResult) {
	status := err.HTTPStatus
	if status == 0 {
		status = types.StatusForCode(err.Code)
	}
	h.logger.Warn("distribution failed",
		zap.String("code", string(err.Code)),
		zap.String("peer", err.PeerNodeID),
		zap.Error(err.Cause),
	)
	WriteJSON(w, status, Response{
		Success: false,
		Data:    res,
		Error: &ErrorInfo{
			Code:      string(err.Code),
			Message:   err.Message,
			Retryable: err.Retryable,
		},
		Timestamp: time.Now(),
	})
}

// HandleListDelegations lists in-flight delegations.
func (h *SwarmHandler) HandleListDelegations(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.distributor.GetActiveDelegations())
}

// HandleGetDelegation returns one in-flight delegation by current or
// original task id.
func (h *SwarmHandler) HandleGetDelegation(w http.ResponseWriter, r *http.Request) {
	d, ok := h.distributor.GetActiveDelegation(r.PathValue("id"))
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrUnknownTask, "delegation not found", h.logger)
		return
	}
	WriteSuccess(w, d)
}

// HandleCancelDelegation rejects one in-flight delegation.
func (h *SwarmHandler) HandleCancelDelegation(w http.ResponseWriter, r *http.Request) {
	if !h.distributor.CancelTask(r.PathValue("id"), cancelReason(r)) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrUnknownTask, "delegation not found", h.logger)
		return
	}
	WriteSuccess(w, CancelResponse{Cancelled: 1})
}

// HandleCancelAll rejects every in-flight delegation.
func (h *SwarmHandler) HandleCancelAll(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, CancelResponse{Cancelled: h.distributor.CancelAll(cancelReason(r))})
}

func cancelReason(r *http.Request) string {
	if reason := r.URL.Query().Get("reason"); reason != "" {
		return reason
	}
	return "cancelled by operator"
}

// HandleListPeers lists every known peer with its trust view.
// @Summary List peers
// @Tags swarm
// @Produce json
// @Success 200 {object} Response{data=[]PeerView}
// @Security BearerAuth
// @Router /api/v1/peers [get]
func (h *SwarmHandler) HandleListPeers(w http.ResponseWriter, r *http.Request) {
	peers := h.directory.List()
	out := make([]PeerView, 0, len(peers))
	for _, p := range peers {
		out = append(out, h.view(p))
	}
	WriteSuccess(w, out)
}

// HandleGetPeer returns one peer with its trust view.
func (h *SwarmHandler) HandleGetPeer(w http.ResponseWriter, r *http.Request) {
	p, ok := h.directory.GetPeer(r.PathValue("id"))
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "peer not found", h.logger)
		return
	}
	WriteSuccess(w, h.view(p))
}

func (h *SwarmHandler) view(p types.PeerEntry) PeerView {
	score := h.reputation.GetTrustScore(p.NodeID())
	return PeerView{
		PeerEntry:   p,
		TrustScore:  score,
		TrustTier:   authority.GetTrustTier(score, h.tiers),
		Quarantined: h.distributor.IsQuarantined(p.NodeID()),
	}
}

// HandleQuarantine excludes a peer from selection.
func (h *SwarmHandler) HandleQuarantine(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.directory.GetPeer(id); !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "peer not found", h.logger)
		return
	}
	until := h.distributor.Quarantine(id)
	h.logger.Info("peer quarantined by operator", zap.String("peer", id), zap.Time("until", until))
	WriteSuccess(w, QuarantineResponse{NodeID: id, Quarantined: true, Until: until})
}

// HandleRelease lifts a quarantine early.
func (h *SwarmHandler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.distributor.Release(id) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "peer is not quarantined", h.logger)
		return
	}
	WriteSuccess(w, QuarantineResponse{NodeID: id})
}

// HandleListReputations lists every recorded reputation, most trusted first.
// @Summary List reputations
// @Tags swarm
// @Produce json
// @Success 200 {object} Response{data=[]reputation.PeerReputation}
// @Security BearerAuth
// @Router /api/v1/reputations [get]
func (h *SwarmHandler) HandleListReputations(w http.ResponseWriter, r *http.Request) {
	all := h.reputation.All()
	sort.SliceStable(all, func(i, j int) bool { return all[i].TrustScore > all[j].TrustScore })
	WriteSuccess(w, all)
}

// HandleListContracts lists active contracts.
func (h *SwarmHandler) HandleListContracts(w http.ResponseWriter, r *http.Request) {
	if h.contracts == nil {
		WriteSuccess(w, []contract.DelegationContract{})
		return
	}
	WriteSuccess(w, h.contracts.Active())
}

// HandleGetContract returns one contract, active or terminated.
func (h *SwarmHandler) HandleGetContract(w http.ResponseWriter, r *http.Request) {
	if h.contracts == nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "contract not found", h.logger)
		return
	}
	c, ok := h.contracts.Get(r.PathValue("id"))
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "contract not found", h.logger)
		return
	}
	WriteSuccess(w, c)
}

// HandleGetAuction returns one auction snapshot.
func (h *SwarmHandler) HandleGetAuction(w http.ResponseWriter, r *http.Request) {
	if h.auction == nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "auction not found", h.logger)
		return
	}
	rec, ok := h.auction.Get(r.PathValue("id"))
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "auction not found", h.logger)
		return
	}
	WriteSuccess(w, rec)
}
