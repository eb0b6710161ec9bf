package types

import "time"

// RawProxy is one proxy record exactly as the vendor returned it. The
// Proxy-Cheap API documents its schema on a best-effort basis only, so
// every field must be treated as optional.
type RawProxy map[string]any

// NormalizedProxy is the stable internal representation of a proxy.
// The key set is always the same regardless of what the vendor omitted;
// nullable vendor fields are pointers.
type NormalizedProxy struct {
	ID        string  `json:"id"`
	Name      *string `json:"name"`
	IPAddress *string `json:"ip_address"`
	Port      *int64  `json:"port"`
	Username  *string `json:"username"`
	Protocol  *string `json:"protocol"`

	NetworkType *string `json:"network_type"`
	Country     *string `json:"country"`
	Region      *string `json:"region"`
	City        *string `json:"city"`

	BandwidthTotal     *float64 `json:"bandwidth_total"`
	BandwidthUsed      *float64 `json:"bandwidth_used"`
	BandwidthRemaining *float64 `json:"bandwidth_remaining"`
	BandwidthUnlimited bool     `json:"bandwidth_unlimited"`

	ExpiresAt         *time.Time `json:"expiry_date"`
	CreatedAt         *time.Time `json:"created_at"`
	AutoExtendEnabled *bool      `json:"auto_extend_enabled"`

	// Derived from whitelist/username presence, never read from the vendor.
	AuthenticationType *string  `json:"authentication_type"`
	WhitelistedIPs     []string `json:"whitelisted_ips"`

	Status string `json:"status"`

	IPVersion  *int64  `json:"ip_version"`
	ConnectIP  *string `json:"connect_ip"`
	HTTPPort   *int64  `json:"http_port"`
	HTTPSPort  *int64  `json:"https_port"`
	SOCKS5Port *int64  `json:"socks5_port"`
	ISPName    *string `json:"isp_name"`
	OrderID    *string `json:"order_id"`
	Routes     []any   `json:"routes"`

	// Raw is the vendor record with credential-like keys stripped at the
	// top level and one level into sub-objects.
	Raw map[string]any `json:"raw"`
}

// Authentication types for AuthenticationType.
const (
	AuthIPWhitelist      = "IP_WHITELIST"
	AuthUsernamePassword = "USERNAME_PASSWORD"
)

// Proxy protocols as the vendor spells them.
const (
	ProtocolHTTP   = "HTTP"
	ProtocolHTTPS  = "HTTPS"
	ProtocolSOCKS5 = "SOCKS5"
)

// ProbeResult is the outcome of one reachability probe against a proxy.
type ProbeResult struct {
	Alive     bool      `json:"alive"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// AccountSnapshot is one complete, internally consistent view of the
// account at a point in time. It is produced atomically once per poll
// cycle and replaced wholesale; consumers must treat it as read-only.
type AccountSnapshot struct {
	Balance    float64                    `json:"balance"`
	Currency   string                     `json:"currency"`
	Proxies    map[string]NormalizedProxy `json:"proxies"`
	ProxyCount int                        `json:"proxy_count"`
	// Dropped counts records that had neither "id" nor "proxy_id".
	Dropped int                    `json:"dropped,omitempty"`
	Probes  map[string]ProbeResult `json:"probes,omitempty"`
	Updated time.Time              `json:"updated"`
}
