package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentswarm/internal/circuitbreaker"
	"github.com/BaSui01/agentswarm/types"
)

// Node is the local member of the swarm. It implements Mesh over a
// Directory and an HTTPTransport.
type Node struct {
	identity  types.PeerIdentity
	token     string
	directory *Directory
	transport *HTTPTransport
	seeds     []string
	logger    *zap.Logger
	now       func() time.Time
}

// NewNode wires identity, directory and transport. seeds are peer base URLs
// announced to on every heartbeat round.
func NewNode(identity types.PeerIdentity, token string, directory *Directory, transport *HTTPTransport, seeds []string, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		identity:  identity,
		token:     token,
		directory: directory,
		transport: transport,
		seeds:     append([]string(nil), seeds...),
		logger:    logger.With(zap.String("component", "mesh_node")),
		now:       time.Now,
	}
}

// Directory returns the node's peer directory.
func (n *Node) Directory() *Directory { return n.directory }

// Transport returns the node's transport.
func (n *Node) Transport() *HTTPTransport { return n.transport }

// GetActivePeers implements Mesh.
func (n *Node) GetActivePeers() []types.PeerEntry { return n.directory.GetActivePeers() }

// GetPeer implements Mesh.
func (n *Node) GetPeer(nodeID string) (types.PeerEntry, bool) { return n.directory.GetPeer(nodeID) }

// GetIdentity implements Mesh.
func (n *Node) GetIdentity() types.PeerIdentity { return n.identity }

// GetSwarmToken implements Mesh.
func (n *Node) GetSwarmToken() string { return n.token }

// DelegateTask implements Mesh. An open breaker is reported as a rejection
// rather than an error so the distributor moves on to the next candidate.
func (n *Node) DelegateTask(ctx context.Context, peerID string, req DelegateRequest) (DelegateResponse, error) {
	peer, ok := n.directory.GetPeer(peerID)
	if !ok {
		return DelegateResponse{}, fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
	}
	if req.OriginNodeID == "" {
		req.OriginNodeID = n.identity.NodeID
	}
	if req.CallbackURL == "" {
		req.CallbackURL = n.identity.APIURL
	}

	start := n.now()
	resp, err := n.transport.DelegateTask(ctx, peer.Identity.APIURL, req)
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen):
		return DelegateResponse{Accepted: false, Reason: "circuit open for peer " + peerID}, nil
	case err != nil:
		if countsAgainstPeer(err) {
			n.directory.RecordFailure(peerID)
		}
		return DelegateResponse{}, err
	}
	n.directory.RecordSuccess(peerID, n.now().Sub(start))
	return resp, nil
}

// SendRFQ implements Mesh.
func (n *Node) SendRFQ(ctx context.Context, peerAddress string, rfq types.TaskRFQ) error {
	return n.transport.SendRFQ(ctx, peerAddress, rfq)
}

// Announce sends a heartbeat to every seed and every known peer.
func (n *Node) Announce(ctx context.Context) int {
	targets := map[string]struct{}{}
	for _, s := range n.seeds {
		targets[s] = struct{}{}
	}
	for _, p := range n.directory.List() {
		if p.Identity.APIURL != "" {
			targets[p.Identity.APIURL] = struct{}{}
		}
	}
	delete(targets, n.identity.APIURL)

	hb := Heartbeat{Identity: n.identity}
	var delivered int
	results := make(chan bool, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for addr := range targets {
		g.Go(func() error {
			err := n.transport.SendHeartbeat(gctx, addr, hb)
			if err != nil {
				n.logger.Debug("heartbeat delivery failed", zap.String("addr", addr), zap.Error(err))
			}
			results <- err == nil
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for ok := range results {
		if ok {
			delivered++
		}
	}
	return delivered
}

// Run announces once per heartbeat interval and sweeps the directory until
// ctx is done.
func (n *Node) Run(ctx context.Context) error {
	interval := n.directory.config.HeartbeatInterval
	n.Announce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.Announce(ctx)
			n.directory.Sweep()
		}
	}
}

var _ Mesh = (*Node)(nil)
