package inbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/attestation"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/types"
)

var (
	// ErrInboxFull means the pending task limit is reached.
	ErrInboxFull = errors.New("inbox full")
	// ErrUnknownTask means no pending task has the given id.
	ErrUnknownTask = errors.New("unknown inbox task")
	// ErrUnknownRFQ means no open solicitation has the given id.
	ErrUnknownRFQ = errors.New("unknown rfq")
	// ErrReplayedNonce means an RFQ nonce was already seen.
	ErrReplayedNonce = errors.New("rfq nonce already seen")
	// ErrDeadlinePassed means the RFQ bid deadline is over.
	ErrDeadlinePassed = errors.New("rfq bid deadline passed")
	// ErrInvalid means a request is missing required fields.
	ErrInvalid = errors.New("invalid inbox request")
)

// Config bounds the inbox.
type Config struct {
	MaxPendingTasks int           `json:"max_pending_tasks" yaml:"max_pending_tasks"`
	MaxOpenRFQs     int           `json:"max_open_rfqs" yaml:"max_open_rfqs"`
	TaskTTL         time.Duration `json:"task_ttl" yaml:"task_ttl"`
	NonceTTL        time.Duration `json:"nonce_ttl" yaml:"nonce_ttl"`
}

// DefaultConfig returns the defaults swarmd runs with.
func DefaultConfig() Config {
	return Config{
		MaxPendingTasks: 64,
		MaxOpenRFQs:     256,
		TaskTTL:         time.Hour,
		NonceTTL:        10 * time.Minute,
	}
}

// Validate checks the limits.
func (c Config) Validate() error {
	if c.MaxPendingTasks <= 0 || c.MaxOpenRFQs <= 0 {
		return fmt.Errorf("inbox limits must be positive")
	}
	if c.TaskTTL <= 0 || c.NonceTTL <= 0 {
		return fmt.Errorf("inbox ttls must be positive")
	}
	return nil
}

// NonceGuard remembers RFQ nonces. Claim returns false for a nonce that
// was claimed before and has not expired.
type NonceGuard interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// Reporter sends this node's answers back to delegators.
// mesh.HTTPTransport satisfies it.
type Reporter interface {
	ReportResult(ctx context.Context, addr string, result types.SwarmTaskResult) error
	ReportCheckpoint(ctx context.Context, addr string, cp mesh.Checkpoint) error
	SubmitBid(ctx context.Context, addr string, bid types.BidObject) error
}

// PeerLookup resolves an RFQ originator to its API address.
type PeerLookup interface {
	GetPeer(nodeID string) (types.PeerEntry, bool)
}

// Task is a delegation this node accepted and has not finished yet.
type Task struct {
	Request    mesh.DelegateRequest `json:"request"`
	ReceivedAt time.Time            `json:"received_at"`
	Claimed    bool                 `json:"claimed"`
}

// Solicitation is an RFQ this node may bid on.
type Solicitation struct {
	RFQ        types.TaskRFQ `json:"rfq"`
	ReceivedAt time.Time     `json:"received_at"`
	Bid        bool          `json:"bid"`
}

// Quote is what the local runtime offers for an RFQ.
type Quote struct {
	EstimatedCostUSD    float64               `json:"estimated_cost_usd"`
	EstimatedDurationMs int64                 `json:"estimated_duration_ms"`
	EstimatedTokens     int64                 `json:"estimated_tokens,omitempty"`
	ReputationBond      *types.ReputationBond `json:"reputation_bond,omitempty"`
}

// Dependencies are the inbox collaborators. Reporter is required for
// Complete, ReportCheckpoint and Bid; the rest are optional.
type Dependencies struct {
	Identity types.PeerIdentity
	Reporter Reporter
	Peers    PeerLookup
	Signer   *attestation.Signer
	Nonces   NonceGuard
}

// Inbox holds work offered to this node by other peers: delegated tasks
// waiting for the local runtime, and RFQs waiting for a bid.
type Inbox struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	rfqs   map[string]*Solicitation
	config Config
	deps   Dependencies
	logger *zap.Logger
	now    func() time.Time
}

// New creates an inbox. A missing nonce guard is replaced by an in-memory one.
func New(config Config, deps Dependencies, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Nonces == nil {
		deps.Nonces = NewMemoryNonces()
	}
	return &Inbox{
		tasks:  make(map[string]*Task),
		rfqs:   make(map[string]*Solicitation),
		config: config,
		deps:   deps,
		logger: logger.With(zap.String("component", "inbox")),
		now:    time.Now,
	}
}

// AcceptTask queues a delegation. The delegator's task id is adopted so
// results match on the delegator side; a fresh id is assigned when none was sent.
func (i *Inbox) AcceptTask(req mesh.DelegateRequest) mesh.DelegateResponse {
	if strings.TrimSpace(req.TaskText) == "" {
		return mesh.DelegateResponse{Accepted: false, Reason: "task_text is required"}
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	if missing := i.missingCapabilities(req.Constraints); len(missing) > 0 {
		return mesh.DelegateResponse{Accepted: false, Reason: "missing capabilities: " + strings.Join(missing, ",")}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, dup := i.tasks[req.TaskID]; dup {
		return mesh.DelegateResponse{Accepted: true, TaskID: req.TaskID}
	}
	if len(i.tasks) >= i.config.MaxPendingTasks {
		return mesh.DelegateResponse{Accepted: false, Reason: ErrInboxFull.Error()}
	}
	i.tasks[req.TaskID] = &Task{Request: req, ReceivedAt: i.now()}

	i.logger.Info("delegation accepted",
		zap.String("task_id", req.TaskID),
		zap.String("origin_node_id", req.OriginNodeID),
	)
	return mesh.DelegateResponse{Accepted: true, TaskID: req.TaskID}
}

func (i *Inbox) missingCapabilities(c *types.TaskConstraints) []string {
	have := make(map[string]struct{}, len(i.deps.Identity.Capabilities))
	for _, tag := range i.deps.Identity.Capabilities {
		have[tag] = struct{}{}
	}
	var missing []string
	for _, want := range c.RequiredCapabilities() {
		if _, ok := have[want]; !ok {
			missing = append(missing, want)
		}
	}
	return missing
}

// Tasks lists pending tasks, oldest first.
func (i *Inbox) Tasks() []Task {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Task, 0, len(i.tasks))
	for _, t := range i.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ReceivedAt.Before(out[b].ReceivedAt) })
	return out
}

// Claim marks a pending task as taken by a local worker. A task can be
// claimed once.
func (i *Inbox) Claim(taskID string) (Task, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	t, ok := i.tasks[taskID]
	if !ok || t.Claimed {
		return Task{}, false
	}
	t.Claimed = true
	return *t, true
}

// ReportCheckpoint forwards a progress report for a pending task.
func (i *Inbox) ReportCheckpoint(ctx context.Context, taskID, progress string) error {
	i.mu.Lock()
	t, ok := i.tasks[taskID]
	var callback string
	if ok {
		callback = t.Request.CallbackURL
	}
	i.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if callback == "" {
		return fmt.Errorf("%w: task %s has no callback", ErrInvalid, taskID)
	}
	return i.deps.Reporter.ReportCheckpoint(ctx, callback, mesh.Checkpoint{
		TaskID:     taskID,
		PeerNodeID: i.deps.Identity.NodeID,
		Progress:   progress,
	})
}

// Complete removes a task, attests the result on top of the delegator's
// chain and reports it to the delegator. The task is removed even when the
// report fails; the delegator's own timeout covers a lost result.
func (i *Inbox) Complete(ctx context.Context, taskID string, result types.SwarmTaskResult) (types.SwarmTaskResult, error) {
	if !result.Status.Valid() {
		return result, fmt.Errorf("%w: status %q", ErrInvalid, result.Status)
	}

	i.mu.Lock()
	t, ok := i.tasks[taskID]
	if ok {
		delete(i.tasks, taskID)
	}
	i.mu.Unlock()
	if !ok {
		return result, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	result.TaskID = taskID
	result.PeerNodeID = i.deps.Identity.NodeID
	if result.PeerSessionID == "" {
		result.PeerSessionID = t.Request.SessionID
	}
	if i.deps.Signer != nil {
		result.AttestationChain = i.deps.Signer.Extend(t.Request.ParentChain, &result)
	}

	if t.Request.CallbackURL == "" {
		return result, fmt.Errorf("%w: task %s has no callback", ErrInvalid, taskID)
	}
	if err := i.deps.Reporter.ReportResult(ctx, t.Request.CallbackURL, result); err != nil {
		i.logger.Warn("result delivery failed",
			zap.String("task_id", taskID),
			zap.String("callback", t.Request.CallbackURL),
			zap.Error(err),
		)
		return result, fmt.Errorf("report result: %w", err)
	}
	i.logger.Info("result reported",
		zap.String("task_id", taskID),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

// AcceptRFQ records a bid solicitation. Replayed nonces and RFQs whose
// deadline already passed are refused.
func (i *Inbox) AcceptRFQ(ctx context.Context, rfq types.TaskRFQ) error {
	if rfq.RFQID == "" || rfq.Nonce == "" || rfq.OriginatorNodeID == "" {
		return fmt.Errorf("%w: rfq_id, nonce and originator_node_id are required", ErrInvalid)
	}
	if !i.now().Before(rfq.Deadline()) {
		return ErrDeadlinePassed
	}
	fresh, err := i.deps.Nonces.Claim(ctx, rfq.Nonce, i.config.NonceTTL)
	if err != nil {
		return fmt.Errorf("claim nonce: %w", err)
	}
	if !fresh {
		i.logger.Warn("replayed rfq refused",
			zap.String("rfq_id", rfq.RFQID),
			zap.String("originator_node_id", rfq.OriginatorNodeID),
		)
		return ErrReplayedNonce
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.rfqs) >= i.config.MaxOpenRFQs {
		i.sweepRFQsLocked(i.now())
		if len(i.rfqs) >= i.config.MaxOpenRFQs {
			return ErrInboxFull
		}
	}
	i.rfqs[rfq.RFQID] = &Solicitation{RFQ: rfq, ReceivedAt: i.now()}
	return nil
}

// Solicitations lists RFQs still open for bids.
func (i *Inbox) Solicitations() []Solicitation {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Solicitation, 0, len(i.rfqs))
	for _, s := range i.rfqs {
		if now.Before(s.RFQ.Deadline()) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RFQ.Deadline().Before(out[b].RFQ.Deadline()) })
	return out
}

// Bid answers an open RFQ with q and sends the bid to the originator.
func (i *Inbox) Bid(ctx context.Context, rfqID string, q Quote) (types.BidObject, error) {
	if q.EstimatedCostUSD < 0 || q.EstimatedDurationMs < 0 {
		return types.BidObject{}, fmt.Errorf("%w: negative estimate", ErrInvalid)
	}
	now := i.now()

	i.mu.Lock()
	s, ok := i.rfqs[rfqID]
	if !ok || s.Bid {
		i.mu.Unlock()
		return types.BidObject{}, fmt.Errorf("%w: %s", ErrUnknownRFQ, rfqID)
	}
	if !now.Before(s.RFQ.Deadline()) {
		delete(i.rfqs, rfqID)
		i.mu.Unlock()
		return types.BidObject{}, ErrDeadlinePassed
	}
	rfq := s.RFQ
	i.mu.Unlock()

	if i.deps.Peers == nil {
		return types.BidObject{}, fmt.Errorf("%w: no peer lookup", mesh.ErrPeerNotFound)
	}
	originator, ok := i.deps.Peers.GetPeer(rfq.OriginatorNodeID)
	if !ok || originator.Identity.APIURL == "" {
		return types.BidObject{}, fmt.Errorf("%w: %s", mesh.ErrPeerNotFound, rfq.OriginatorNodeID)
	}

	i.mu.Lock()
	if s, ok = i.rfqs[rfqID]; !ok || s.Bid {
		i.mu.Unlock()
		return types.BidObject{}, fmt.Errorf("%w: %s", ErrUnknownRFQ, rfqID)
	}
	s.Bid = true
	i.mu.Unlock()

	bid := types.BidObject{
		BidID:               uuid.NewString(),
		RFQID:               rfq.RFQID,
		BidderNodeID:        i.deps.Identity.NodeID,
		EstimatedCostUSD:    q.EstimatedCostUSD,
		EstimatedDurationMs: q.EstimatedDurationMs,
		EstimatedTokens:     q.EstimatedTokens,
		Capabilities:        append([]string(nil), i.deps.Identity.Capabilities...),
		ReputationBond:      q.ReputationBond,
		Round:               rfq.Round,
		Timestamp:           now,
	}
	if err := i.deps.Reporter.SubmitBid(ctx, originator.Identity.APIURL, bid); err != nil {
		i.mu.Lock()
		if s, ok := i.rfqs[rfqID]; ok {
			s.Bid = false
		}
		i.mu.Unlock()
		return bid, fmt.Errorf("submit bid: %w", err)
	}
	return bid, nil
}

// Sweep drops expired solicitations and tasks older than TaskTTL.
func (i *Inbox) Sweep() int {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	removed := i.sweepRFQsLocked(now)
	for id, t := range i.tasks {
		if now.Sub(t.ReceivedAt) > i.config.TaskTTL {
			delete(i.tasks, id)
			removed++
		}
	}
	return removed
}

func (i *Inbox) sweepRFQsLocked(now time.Time) int {
	removed := 0
	for id, s := range i.rfqs {
		if !now.Before(s.RFQ.Deadline()) {
			delete(i.rfqs, id)
			removed++
		}
	}
	return removed
}

// Start runs Sweep every interval until ctx is done.
func (i *Inbox) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := i.Sweep(); n > 0 {
					i.logger.Debug("inbox swept", zap.Int("removed", n))
				}
			}
		}
	}()
}
