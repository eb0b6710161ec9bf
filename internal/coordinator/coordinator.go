// Package coordinator owns the poll cadence and the published account
// snapshot. Exactly one cycle is in flight at a time; refresh requests
// arriving mid-cycle are queued behind it and served by a single
// additional cycle.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proxycheap-monitor/internal/config"
	"github.com/proxycheap-monitor/internal/metrics"
	"github.com/proxycheap-monitor/internal/normalize"
	"github.com/proxycheap-monitor/internal/probe"
	"github.com/proxycheap-monitor/internal/proxycheap"
	"github.com/proxycheap-monitor/internal/storage"
	"github.com/proxycheap-monitor/internal/types"
	log "github.com/sirupsen/logrus"
)

// VendorClient is the slice of the Proxy-Cheap client the coordinator
// needs.
type VendorClient interface {
	GetBalance(ctx context.Context) (proxycheap.Balance, error)
	ListProxies(ctx context.Context) ([]types.RawProxy, error)
	UpdateWhitelist(ctx context.Context, proxyID string, ips []string) error
	ExtendProxy(ctx context.Context, proxyID string, months int) error
	BuyBandwidth(ctx context.Context, proxyID string, amountGB float64) error
	SetAutoExtend(ctx context.Context, proxyID string, enabled bool) error
}

// Health reports the outcome of the most recent cycles for /health.
type Health struct {
	LastSuccess   time.Time `json:"last_success"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
}

type Coordinator struct {
	client  VendorClient
	cfg     config.PollerConfig
	names   map[string]string
	prober  *probe.Prober // nil when probing is disabled
	metrics *metrics.Collector
	store   storage.Storage

	current atomic.Value // stores *types.AccountSnapshot, never nil

	mu      sync.Mutex
	waiters []chan error
	known   map[string]struct{}
	health  Health

	persistMu sync.Mutex

	kick chan struct{}
}

func New(client VendorClient, cfg config.PollerConfig, prober *probe.Prober,
	metricsCollector *metrics.Collector, store storage.Storage) *Coordinator {

	c := &Coordinator{
		client:  client,
		cfg:     cfg,
		names:   normalize.NameOverrides(cfg.ProxyNames),
		prober:  prober,
		metrics: metricsCollector,
		store:   store,
		known:   make(map[string]struct{}),
		kick:    make(chan struct{}, 1),
	}

	c.current.Store(&types.AccountSnapshot{
		Currency: "USD",
		Proxies:  map[string]types.NormalizedProxy{},
		Updated:  time.Now(),
	})

	return c
}

// Snapshot returns the current published snapshot. Callers must treat
// it as read-only.
func (c *Coordinator) Snapshot() *types.AccountSnapshot {
	return c.current.Load().(*types.AccountSnapshot)
}

// Health returns the outcome of the most recent poll cycles.
func (c *Coordinator) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// LoadFromStorage seeds the published snapshot from the persisted copy
// so consumers see data before the first poll completes. Snapshots
// older than an hour are ignored.
func (c *Coordinator) LoadFromStorage() error {
	snap, err := c.store.Load()
	if err != nil {
		return err
	}
	if snap == nil || time.Since(snap.Updated) > time.Hour {
		log.Info("No fresh snapshot in storage")
		return nil
	}

	c.current.Store(snap)
	c.rememberProxies(snap)
	log.Infof("Loaded snapshot with %d proxies from storage", snap.ProxyCount)
	return nil
}

// Run drives the poll loop until ctx is canceled. The first cycle runs
// immediately.
func (c *Coordinator) Run(ctx context.Context) {
	c.runCycle(ctx)

	ticker := time.NewTicker(time.Duration(c.cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.failWaiters(ctx.Err())
			log.Info("Poll loop stopped")
			return
		case <-ticker.C:
		case <-c.kick:
		}
		c.runCycle(ctx)
	}
}

// Refresh requests an on-demand cycle and blocks until the cycle
// serving this request completes. Requests made while a cycle is in
// flight are queued behind it and coalesced into one additional cycle.
func (c *Coordinator) Refresh(ctx context.Context) error {
	done := make(chan error, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, done)
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) runCycle(ctx context.Context) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	err := c.poll(ctx)

	for _, w := range waiters {
		w <- err
	}
}

func (c *Coordinator) failWaiters(err error) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w <- err
	}
}

// poll runs one fetch-normalize-publish cycle. On any vendor error the
// published snapshot is left untouched and the failure is recorded.
func (c *Coordinator) poll(ctx context.Context) error {
	start := time.Now()

	balance, err := c.client.GetBalance(ctx)
	c.metrics.RecordVendorRequest("balance", requestResult(err))
	if err != nil {
		c.recordFailure(err, start)
		return err
	}

	rawProxies, err := c.client.ListProxies(ctx)
	c.metrics.RecordVendorRequest("proxies", requestResult(err))
	if err != nil {
		c.recordFailure(err, start)
		return err
	}

	if ctx.Err() != nil {
		// Torn down mid-cycle; publish nothing.
		return ctx.Err()
	}

	proxies := make(map[string]types.NormalizedProxy, len(rawProxies))
	dropped := 0
	for _, raw := range rawProxies {
		id, ok := normalize.ProxyID(raw)
		if !ok {
			dropped++
			continue
		}
		proxies[id] = normalize.Proxy(raw, c.names)
	}
	if dropped > 0 {
		log.Warnf("Dropped %d proxy records without an id", dropped)
		c.metrics.RecordDroppedRecords(dropped)
	}

	snap := &types.AccountSnapshot{
		Balance:    balance.Amount,
		Currency:   balance.Currency,
		Proxies:    proxies,
		ProxyCount: len(proxies),
		Dropped:    dropped,
		Updated:    time.Now(),
	}

	if c.prober != nil {
		snap.Probes = c.prober.ProbeAll(ctx, proxies)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.publish(snap)
	go c.persist(snap)

	c.mu.Lock()
	c.health = Health{LastSuccess: time.Now()}
	c.mu.Unlock()

	c.metrics.RecordPollCycle("success", time.Since(start).Seconds())
	log.Infof("Poll cycle complete: %d proxies, balance %.2f %s (took %v)",
		snap.ProxyCount, snap.Balance, snap.Currency, time.Since(start))
	return nil
}

// publish atomically swaps the current snapshot and updates gauges,
// clearing per-proxy series for proxies that left the fleet.
func (c *Coordinator) publish(snap *types.AccountSnapshot) {
	previous := c.Snapshot()
	c.current.Store(snap)

	c.metrics.SetAccountBalance(snap.Balance)
	c.metrics.SetProxyCount(snap.ProxyCount)

	for id, px := range snap.Proxies {
		if px.BandwidthRemaining != nil {
			c.metrics.SetBandwidthRemaining(id, *px.BandwidthRemaining)
		} else {
			c.metrics.ClearBandwidthRemaining(id)
		}
	}
	for id := range previous.Proxies {
		if _, ok := snap.Proxies[id]; !ok {
			c.metrics.ClearProxy(id)
		}
	}

	c.trackFleet(snap)
}

// trackFleet logs proxies entering or leaving the account.
func (c *Coordinator) trackFleet(snap *types.AccountSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range snap.Proxies {
		if _, ok := c.known[id]; !ok {
			log.Infof("New proxy discovered: %s", id)
		}
	}
	for id := range c.known {
		if _, ok := snap.Proxies[id]; !ok {
			log.Infof("Proxy removed from account: %s", id)
		}
	}

	c.known = make(map[string]struct{}, len(snap.Proxies))
	for id := range snap.Proxies {
		c.known[id] = struct{}{}
	}
}

func (c *Coordinator) rememberProxies(snap *types.AccountSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known = make(map[string]struct{}, len(snap.Proxies))
	for id := range snap.Proxies {
		c.known[id] = struct{}{}
	}
}

func (c *Coordinator) recordFailure(err error, start time.Time) {
	kind := proxycheap.ErrorKind(err)
	if kind == "" {
		kind = "api"
	}

	c.mu.Lock()
	c.health.LastError = err.Error()
	c.health.LastErrorKind = kind
	c.mu.Unlock()

	c.metrics.RecordPollCycle(kind, time.Since(start).Seconds())
	log.Errorf("Poll cycle failed (%s): %v", kind, err)
}

// persist saves the snapshot to storage (non-blocking for the cycle).
func (c *Coordinator) persist(snap *types.AccountSnapshot) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	if err := c.store.Save(snap); err != nil {
		log.Errorf("Failed to persist snapshot: %v", err)
	}
}

// Close persists the current snapshot one last time.
func (c *Coordinator) Close() {
	c.persist(c.Snapshot())
}

// Write operations. Each is a direct client call; the error propagates
// to the caller untouched and no refresh happens on failure. On
// success an explicit refresh resyncs the snapshot; a refresh failure
// there is only logged, since the write itself went through.

func (c *Coordinator) ExtendProxy(ctx context.Context, proxyID string, months int) error {
	if err := c.client.ExtendProxy(ctx, proxyID, months); err != nil {
		return err
	}
	c.resync(ctx)
	return nil
}

func (c *Coordinator) UpdateWhitelist(ctx context.Context, proxyID string, ips []string) error {
	if err := c.client.UpdateWhitelist(ctx, proxyID, ips); err != nil {
		return err
	}
	c.resync(ctx)
	return nil
}

func (c *Coordinator) SetAutoExtend(ctx context.Context, proxyID string, enabled bool) error {
	if err := c.client.SetAutoExtend(ctx, proxyID, enabled); err != nil {
		return err
	}
	c.resync(ctx)
	return nil
}

func (c *Coordinator) BuyBandwidth(ctx context.Context, proxyID string, amountGB float64) error {
	if err := c.client.BuyBandwidth(ctx, proxyID, amountGB); err != nil {
		return err
	}
	c.resync(ctx)
	return nil
}

func (c *Coordinator) resync(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		log.Warnf("Post-write refresh failed: %v", err)
	}
}

func requestResult(err error) string {
	if err == nil {
		return "success"
	}
	if kind := proxycheap.ErrorKind(err); kind != "" {
		return kind
	}
	return "error"
}
