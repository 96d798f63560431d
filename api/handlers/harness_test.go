package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentswarm/swarm/auction"
	"github.com/BaSui01/agentswarm/swarm/contract"
	"github.com/BaSui01/agentswarm/swarm/distributor"
	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/swarm/inbox"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/swarm/reputation"
	"github.com/BaSui01/agentswarm/testutil"
	"github.com/BaSui01/agentswarm/testutil/fixtures"
	"github.com/BaSui01/agentswarm/testutil/mocks"
	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 🧪 Swarm 处理器测试脚手架
// =============================================================================

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) ReportResult(ctx context.Context, addr string, result types.SwarmTaskResult) error {
	return m.Called(ctx, addr, result).Error(0)
}

func (m *mockReporter) ReportCheckpoint(ctx context.Context, addr string, cp mesh.Checkpoint) error {
	return m.Called(ctx, addr, cp).Error(0)
}

func (m *mockReporter) SubmitBid(ctx context.Context, addr string, bid types.BidObject) error {
	return m.Called(ctx, addr, bid).Error(0)
}

type swarmHarness struct {
	mesh      *mocks.MockMesh
	bus       *events.Bus
	stream    *events.Stream
	rep       *reputation.Ledger
	contracts *contract.Ledger
	dist      *distributor.Distributor
	auction   *auction.Auction
	directory *mesh.Directory
	inbox     *inbox.Inbox
	reporter  *mockReporter
	mux       *http.ServeMux
}

func newSwarmHarness(t *testing.T) *swarmHarness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	h := &swarmHarness{
		mesh:     mocks.NewMockMesh("self").WithPeers(fixtures.Peer("peer-a", 50, "shell")),
		bus:      events.NewBus(logger),
		reporter: &mockReporter{},
	}
	h.stream = events.NewStream(h.bus)
	h.rep = reputation.NewLedger(logger, reputation.WithEmitter(h.bus))
	h.contracts = contract.NewLedger(logger, contract.WithEmitter(h.bus))
	h.directory = mesh.NewDirectory("self", mesh.DefaultDirectoryConfig(), logger)
	h.auction = auction.New(auction.DefaultConfig(), auction.Dependencies{
		Peers:   h.mesh,
		Sender:  h.mesh,
		Trust:   h.rep,
		Emitter: h.bus,
	}, logger)

	cfg := distributor.DefaultConfig()
	cfg.RetryBackoff = 0
	cfg.DelegationTimeout = 5 * time.Second
	h.dist = distributor.New(cfg, distributor.Dependencies{
		Mesh:       h.mesh,
		Reputation: h.rep,
		Contracts:  h.contracts,
		Auction:    h.auction,
		Emitter:    h.bus,
	}, logger)
	t.Cleanup(func() { h.dist.CancelAll("test done") })

	h.inbox = inbox.New(inbox.DefaultConfig(), inbox.Dependencies{
		Identity: types.PeerIdentity{NodeID: "self", APIURL: "http://self", Capabilities: []string{"shell"}},
		Reporter: h.reporter,
		Peers:    h.directory,
	}, logger)

	h.mux = http.NewServeMux()
	NewPeerHandler(PeerDependencies{
		Inbox:       h.inbox,
		Auction:     h.auction,
		Distributor: h.dist,
		Directory:   h.directory,
	}, logger).Register(h.mux)
	NewSwarmHandler(SwarmDependencies{
		Distributor: h.dist,
		Directory:   h.directory,
		Reputation:  h.rep,
		Contracts:   h.contracts,
		Auction:     h.auction,
	}, logger).Register(h.mux)
	NewInboxHandler(h.inbox, logger).Register(h.mux)
	NewEventsHandler(h.stream, nil, logger).Register(h.mux)
	return h
}

func (h *swarmHarness) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, r)
	return w
}

func (h *swarmHarness) post(target string, body any) *httptest.ResponseRecorder {
	return h.do(testutil.JSONRequest(http.MethodPost, target, body))
}

func (h *swarmHarness) get(target string) *httptest.ResponseRecorder {
	return h.do(httptest.NewRequest(http.MethodGet, target, nil))
}

// distributeAsync posts a distribute call and returns the recorder once the
// handler finishes.
func (h *swarmHarness) distributeAsync(req distributor.DistributeRequest) <-chan *httptest.ResponseRecorder {
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- h.post("/api/v1/distribute", req)
	}()
	return done
}

func (h *swarmHarness) waitActive(t *testing.T, n int) []distributor.ActiveDelegation {
	t.Helper()
	require.Eventually(t, func() bool { return h.dist.ActiveCount() == n }, 2*time.Second, 5*time.Millisecond)
	return h.dist.GetActiveDelegations()
}

func awaitRecorder(t *testing.T, ch <-chan *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	t.Helper()
	w, ok := testutil.WaitForChannel(ch, 3*time.Second)
	require.True(t, ok, "handler did not return")
	return w
}
