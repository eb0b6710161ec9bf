package coordinator

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/proxycheap-monitor/internal/config"
	"github.com/proxycheap-monitor/internal/metrics"
	"github.com/proxycheap-monitor/internal/probe"
	"github.com/proxycheap-monitor/internal/proxycheap"
	"github.com/proxycheap-monitor/internal/types"
)

// promauto registers in the default registry, so the package shares
// one collector across tests.
var testMetrics = metrics.NewCollector("coordinator_test")

type fakeVendor struct {
	mu          sync.Mutex
	balance     proxycheap.Balance
	proxies     []types.RawProxy
	balanceErr  error
	listErr     error
	listCalls   int
	extendErr   error
	extendCalls int

	// When gate is non-nil, ListProxies blocks until a value is sent.
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeVendor) GetBalance(ctx context.Context) (proxycheap.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *fakeVendor) ListProxies(ctx context.Context) ([]types.RawProxy, error) {
	f.mu.Lock()
	f.listCalls++
	gate := f.gate
	started := f.started
	err := f.listErr
	proxies := f.proxies
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return proxies, err
}

func (f *fakeVendor) UpdateWhitelist(ctx context.Context, proxyID string, ips []string) error {
	return nil
}

func (f *fakeVendor) ExtendProxy(ctx context.Context, proxyID string, months int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extendCalls++
	return f.extendErr
}

func (f *fakeVendor) BuyBandwidth(ctx context.Context, proxyID string, amountGB float64) error {
	return nil
}

func (f *fakeVendor) SetAutoExtend(ctx context.Context, proxyID string, enabled bool) error {
	return nil
}

func (f *fakeVendor) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type stubStorage struct {
	mu   sync.Mutex
	snap *types.AccountSnapshot
}

func (s *stubStorage) Save(snap *types.AccountSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	return nil
}

func (s *stubStorage) Load() (*types.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, nil
}

func (s *stubStorage) Close() error { return nil }

func newTestCoordinator(fake *fakeVendor) *Coordinator {
	cfg := config.PollerConfig{
		IntervalSeconds: 60,
		ProxyNames:      map[string]string{"7": "my proxy"},
	}
	return New(fake, cfg, nil, testMetrics, &stubStorage{})
}

func (c *Coordinator) waiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPoll_PublishesSnapshot(t *testing.T) {
	fake := &fakeVendor{
		balance: proxycheap.Balance{Amount: 12.5, Currency: "EUR"},
		proxies: []types.RawProxy{
			{"id": float64(7), "status": "ACTIVE"},
			{"proxy_id": "p-2", "status": "EXPIRED"},
			{"status": "no id, dropped"},
		},
	}
	c := newTestCoordinator(fake)

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	snap := c.Snapshot()
	if snap.Balance != 12.5 || snap.Currency != "EUR" {
		t.Fatalf("balance not published: %+v", snap)
	}
	if snap.ProxyCount != 2 {
		t.Fatalf("got %d proxies, want 2", snap.ProxyCount)
	}
	if snap.Dropped != 1 {
		t.Fatalf("dropped count: got %d, want 1", snap.Dropped)
	}

	px, ok := snap.Proxies["7"]
	if !ok {
		t.Fatalf("proxy 7 missing: %v", snap.Proxies)
	}
	if px.Status != "active" {
		t.Fatalf("status: got %q", px.Status)
	}
	if px.Name == nil || *px.Name != "my proxy" {
		t.Fatalf("name override not applied: %v", px.Name)
	}
	if _, ok := snap.Proxies["p-2"]; !ok {
		t.Fatal("proxy_id fallback record missing")
	}
}

func TestPoll_FailureKeepsPreviousSnapshot(t *testing.T) {
	fake := &fakeVendor{
		balance: proxycheap.Balance{Amount: 5, Currency: "USD"},
		proxies: []types.RawProxy{{"id": float64(1)}},
	}
	c := newTestCoordinator(fake)

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("first poll failed: %v", err)
	}
	good := c.Snapshot()

	fake.mu.Lock()
	fake.listErr = &proxycheap.AuthError{StatusCode: 401, Body: "revoked"}
	fake.mu.Unlock()

	err := c.poll(context.Background())
	var authErr *proxycheap.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("got %T, want *AuthError", err)
	}

	if c.Snapshot() != good {
		t.Fatal("failed cycle must not replace the snapshot")
	}

	health := c.Health()
	if health.LastErrorKind != "auth" {
		t.Fatalf("health kind: got %q, want auth", health.LastErrorKind)
	}
}

func TestRefresh_CoalescesConcurrentRequests(t *testing.T) {
	fake := &fakeVendor{
		proxies: []types.RawProxy{{"id": float64(1)}},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 10),
	}
	c := newTestCoordinator(fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// First cycle is in flight, blocked on the gate.
	<-fake.started

	errs := make(chan error, 2)
	go func() { errs <- c.Refresh(ctx) }()
	go func() { errs <- c.Refresh(ctx) }()

	waitFor(t, func() bool { return c.waiterCount() == 2 })

	// Finish the in-flight cycle, then the one coalesced cycle.
	fake.gate <- struct{}{}
	<-fake.started
	fake.gate <- struct{}{}

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
	}

	if calls := fake.ListCalls(); calls != 2 {
		t.Fatalf("got %d fetches, want exactly 2 (in-flight + one coalesced)", calls)
	}
}

func TestRun_CancelMidCyclePublishesNothing(t *testing.T) {
	fake := &fakeVendor{
		proxies: []types.RawProxy{{"id": float64(1)}},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 10),
	}
	c := newTestCoordinator(fake)
	initial := c.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// First cycle is blocked inside the list fetch.
	<-fake.started
	cancel()
	fake.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}

	if c.Snapshot() != initial {
		t.Fatal("canceled cycle must not publish a snapshot")
	}
}

func TestPoll_AttachesProbeResults(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.ParseFloat(portStr, 64)

	fake := &fakeVendor{
		proxies: []types.RawProxy{{
			"id":        float64(1),
			"proxyType": "HTTP",
			"connection": map[string]any{
				"publicIp": host,
				"httpPort": port,
			},
		}},
	}
	cfg := config.PollerConfig{IntervalSeconds: 60}
	prober := probe.NewProber(config.ProbeConfig{
		Mode:        "connect-only",
		TimeoutMs:   500,
		Concurrency: 2,
	}, testMetrics)
	c := New(fake, cfg, prober, testMetrics, &stubStorage{})

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	snap := c.Snapshot()
	result, ok := snap.Probes["1"]
	if !ok {
		t.Fatalf("no probe result for proxy 1: %v", snap.Probes)
	}
	if !result.Alive {
		t.Fatalf("listener should be reachable: %+v", result)
	}
}

func TestWriteOp_FailureDoesNotRefresh(t *testing.T) {
	fake := &fakeVendor{extendErr: &proxycheap.APIError{StatusCode: 500, Body: "boom"}}
	c := newTestCoordinator(fake)

	err := c.ExtendProxy(context.Background(), "7", 3)
	var apiErr *proxycheap.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %T, want *APIError", err)
	}

	if fake.ListCalls() != 0 {
		t.Fatal("failed write must not trigger a refresh")
	}
}

func TestWriteOp_SuccessTriggersRefresh(t *testing.T) {
	fake := &fakeVendor{proxies: []types.RawProxy{{"id": float64(1)}}}
	c := newTestCoordinator(fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitFor(t, func() bool { return fake.ListCalls() >= 1 })
	before := fake.ListCalls()

	if err := c.ExtendProxy(ctx, "7", 1); err != nil {
		t.Fatalf("extend failed: %v", err)
	}

	if fake.ListCalls() <= before {
		t.Fatal("successful write must resync the snapshot")
	}
}

func TestLoadFromStorage(t *testing.T) {
	store := &stubStorage{snap: &types.AccountSnapshot{
		Balance:    3,
		Currency:   "USD",
		Proxies:    map[string]types.NormalizedProxy{"1": {ID: "1"}},
		ProxyCount: 1,
		Updated:    time.Now().Add(-10 * time.Minute),
	}}
	c := New(&fakeVendor{}, config.PollerConfig{IntervalSeconds: 60}, nil, testMetrics, store)

	if err := c.LoadFromStorage(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.Snapshot().ProxyCount != 1 {
		t.Fatal("persisted snapshot not loaded")
	}
}

func TestLoadFromStorage_IgnoresStale(t *testing.T) {
	store := &stubStorage{snap: &types.AccountSnapshot{
		ProxyCount: 5,
		Updated:    time.Now().Add(-2 * time.Hour),
	}}
	c := New(&fakeVendor{}, config.PollerConfig{IntervalSeconds: 60}, nil, testMetrics, store)

	if err := c.LoadFromStorage(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.Snapshot().ProxyCount != 0 {
		t.Fatal("stale snapshot must be ignored")
	}
}
