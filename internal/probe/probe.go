// Package probe checks that rented proxies are actually reachable,
// independent of the status field the vendor reports for them.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/proxycheap-monitor/internal/config"
	"github.com/proxycheap-monitor/internal/metrics"
	"github.com/proxycheap-monitor/internal/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

type Prober struct {
	config  config.ProbeConfig
	metrics *metrics.Collector
}

func NewProber(cfg config.ProbeConfig, metricsCollector *metrics.Collector) *Prober {
	return &Prober{
		config:  cfg,
		metrics: metricsCollector,
	}
}

// ProbeAll checks every proxy in the snapshot with bounded concurrency
// and returns results keyed by proxy identifier.
func (p *Prober) ProbeAll(ctx context.Context, proxies map[string]types.NormalizedProxy) map[string]types.ProbeResult {
	results := make(map[string]types.ProbeResult, len(proxies))
	resultsMu := sync.Mutex{}

	sem := make(chan struct{}, p.config.Concurrency)
	var wg sync.WaitGroup

	for id, px := range proxies {
		sem <- struct{}{}
		wg.Add(1)

		go func(id string, px types.NormalizedProxy) {
			defer wg.Done()
			defer func() { <-sem }()

			result := p.probeOne(ctx, px)

			resultsMu.Lock()
			results[id] = result
			resultsMu.Unlock()

			p.metrics.SetProxyUp(id, result.Alive)
			if result.Alive {
				p.metrics.RecordProbeLatency(float64(result.LatencyMs) / 1000.0)
			}
		}(id, px)
	}

	wg.Wait()
	return results
}

func (p *Prober) probeOne(ctx context.Context, px types.NormalizedProxy) types.ProbeResult {
	result := types.ProbeResult{CheckedAt: time.Now()}

	if px.IPAddress == nil || px.Port == nil {
		result.Error = "no connection endpoint in vendor record"
		return result
	}
	addr := net.JoinHostPort(*px.IPAddress, fmt.Sprintf("%d", *px.Port))

	start := time.Now()
	var err error
	if p.config.Mode == "full-http" {
		err = p.probeThrough(ctx, px, addr)
	} else {
		err = p.probeConnect(ctx, addr)
	}

	if err != nil {
		result.Error = err.Error()
		log.Debugf("Probe failed for %s: %v", addr, err)
		return result
	}

	result.Alive = true
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

// probeConnect opens and closes a TCP connection to the proxy port. It
// needs no credentials, so it is the default mode.
func (p *Prober) probeConnect(ctx context.Context, addr string) error {
	dialer := net.Dialer{Timeout: p.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// probeThrough issues a request to the test URL through the proxy.
// Whitelist-authenticated proxies pass without credentials; for
// username/password proxies the username alone is attached, which is
// enough for vendors that key on source IP plus username.
func (p *Prober) probeThrough(ctx context.Context, px types.NormalizedProxy, addr string) error {
	transport := &http.Transport{
		ForceAttemptHTTP2:   false,
		TLSHandshakeTimeout: p.timeout(),
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
	}

	if px.Protocol != nil && strings.EqualFold(*px.Protocol, types.ProtocolSOCKS5) {
		var auth *proxy.Auth
		if px.Username != nil && *px.Username != "" {
			auth = &proxy.Auth{User: *px.Username}
		}
		dialer, err := proxy.SOCKS5("tcp", addr, auth, &net.Dialer{Timeout: p.timeout()})
		if err != nil {
			return fmt.Errorf("socks5 dialer: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, target string) (net.Conn, error) {
			return dialer.Dial(network, target)
		}
	} else {
		proxyURL := &url.URL{Scheme: "http", Host: addr}
		if px.Username != nil && *px.Username != "" {
			proxyURL.User = url.User(*px.Username)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   p.timeout(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.TestURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("HTTP %d through proxy", resp.StatusCode)
}

func (p *Prober) timeout() time.Duration {
	return time.Duration(p.config.TimeoutMs) * time.Millisecond
}
