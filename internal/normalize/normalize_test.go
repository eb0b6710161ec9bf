package normalize

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/proxycheap-monitor/internal/types"
)

func rawRecord(t *testing.T, jsonStr string) types.RawProxy {
	t.Helper()
	var raw types.RawProxy
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		t.Fatalf("bad test record: %v", err)
	}
	return raw
}

func TestProxyID_NumericAndFallback(t *testing.T) {
	raw := rawRecord(t, `{"id": 7}`)
	id, ok := ProxyID(raw)
	if !ok || id != "7" {
		t.Fatalf("got %q ok=%v, want 7", id, ok)
	}

	raw = rawRecord(t, `{"proxy_id": "abc-123"}`)
	id, ok = ProxyID(raw)
	if !ok || id != "abc-123" {
		t.Fatalf("got %q ok=%v, want abc-123", id, ok)
	}

	raw = rawRecord(t, `{"name": "no id here"}`)
	if _, ok := ProxyID(raw); ok {
		t.Fatal("expected no id")
	}
}

func TestProxy_Socks5Scenario(t *testing.T) {
	raw := rawRecord(t, `{"id":7,"proxyType":"SOCKS5","connection":{"socks5Port":1080},"bandwidth":{"total":100,"used":30}}`)
	p := Proxy(raw, nil)

	if p.Port == nil || *p.Port != 1080 {
		t.Fatalf("port: got %v, want 1080", p.Port)
	}
	if p.BandwidthRemaining == nil || *p.BandwidthRemaining != 70 {
		t.Fatalf("bandwidth_remaining: got %v, want 70", p.BandwidthRemaining)
	}
	if p.BandwidthUnlimited {
		t.Fatal("bandwidth_unlimited should be false")
	}
}

func TestProxy_UnlimitedBandwidth(t *testing.T) {
	raw := rawRecord(t, `{"id":1,"bandwidth":{"used":12.5}}`)
	p := Proxy(raw, nil)

	if !p.BandwidthUnlimited {
		t.Fatal("nil total must mean unlimited")
	}
	if p.BandwidthRemaining != nil {
		t.Fatalf("remaining must be nil for unlimited plans, got %v", *p.BandwidthRemaining)
	}
	if p.BandwidthTotal != nil {
		t.Fatal("total must stay nil")
	}
}

func TestProxy_MissingUsedDefaultsToZero(t *testing.T) {
	raw := rawRecord(t, `{"id":1,"bandwidth":{"total":50}}`)
	p := Proxy(raw, nil)

	if p.BandwidthRemaining == nil || *p.BandwidthRemaining != 50 {
		t.Fatalf("remaining: got %v, want 50", p.BandwidthRemaining)
	}
	if p.BandwidthUnlimited {
		t.Fatal("metered plan flagged unlimited")
	}
}

func TestProxy_PortFallbackOrder(t *testing.T) {
	tests := []struct {
		name string
		json string
		want int64
	}{
		{"http protocol", `{"id":1,"proxyType":"HTTP","connection":{"httpPort":8080,"socks5Port":1080}}`, 8080},
		{"https protocol", `{"id":1,"proxyType":"HTTPS","connection":{"httpsPort":8443}}`, 8443},
		{"unknown protocol prefers http", `{"id":1,"proxyType":"GOPHER","connection":{"httpsPort":8443,"httpPort":8080}}`, 8080},
		{"absent protocol falls back", `{"id":1,"connection":{"socks5Port":1080}}`, 1080},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Proxy(rawRecord(t, tt.json), nil)
			if p.Port == nil || *p.Port != tt.want {
				t.Fatalf("got %v, want %d", p.Port, tt.want)
			}
		})
	}
}

func TestProxy_NoPortsAtAll(t *testing.T) {
	p := Proxy(rawRecord(t, `{"id":1}`), nil)
	if p.Port != nil {
		t.Fatalf("expected nil port, got %d", *p.Port)
	}
}

func TestProxy_AuthenticationType(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string // "" means nil
	}{
		{"whitelist wins", `{"id":1,"authentication":{"whitelistedIps":["1.2.3.4"],"username":"u"}}`, types.AuthIPWhitelist},
		{"username only", `{"id":1,"authentication":{"username":"u"}}`, types.AuthUsernamePassword},
		{"neither", `{"id":1,"authentication":{}}`, ""},
		{"empty username", `{"id":1,"authentication":{"username":""}}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Proxy(rawRecord(t, tt.json), nil)
			if tt.want == "" {
				if p.AuthenticationType != nil {
					t.Fatalf("got %q, want nil", *p.AuthenticationType)
				}
				return
			}
			if p.AuthenticationType == nil || *p.AuthenticationType != tt.want {
				t.Fatalf("got %v, want %q", p.AuthenticationType, tt.want)
			}
		})
	}
}

func TestProxy_StatusNormalization(t *testing.T) {
	p := Proxy(rawRecord(t, `{"id":1,"status":"ACTIVE"}`), nil)
	if p.Status != "active" {
		t.Fatalf("got %q, want active", p.Status)
	}

	p = Proxy(rawRecord(t, `{"id":1,"status":42}`), nil)
	if p.Status != "unknown" {
		t.Fatalf("non-string status: got %q, want unknown", p.Status)
	}

	p = Proxy(rawRecord(t, `{"id":1}`), nil)
	if p.Status != "unknown" {
		t.Fatalf("absent status: got %q, want unknown", p.Status)
	}
}

func TestProxy_Redaction(t *testing.T) {
	raw := rawRecord(t, `{
		"id": 1,
		"secretToken": "s3cr3t",
		"PASSWORD": "hunter2",
		"authentication": {"username": "u", "password": "p", "ApiSecret": "x"},
		"metadata": {"ispName": "isp"}
	}`)
	p := Proxy(raw, nil)

	if _, ok := p.Raw["secretToken"]; ok {
		t.Fatal("secretToken survived redaction")
	}
	if _, ok := p.Raw["PASSWORD"]; ok {
		t.Fatal("PASSWORD survived redaction")
	}

	auth, ok := p.Raw["authentication"].(map[string]any)
	if !ok {
		t.Fatal("authentication sub-object missing from raw copy")
	}
	if _, ok := auth["password"]; ok {
		t.Fatal("nested password survived redaction")
	}
	if _, ok := auth["ApiSecret"]; ok {
		t.Fatal("nested ApiSecret survived redaction")
	}
	if auth["username"] != "u" {
		t.Fatal("non-sensitive nested field was stripped")
	}
	if _, ok := p.Raw["id"]; !ok {
		t.Fatal("non-sensitive top-level field was stripped")
	}
}

func TestProxy_NameResolution(t *testing.T) {
	raw := rawRecord(t, `{"id":7,"name":"vendor-name","label":"vendor-label","metadata":{"name":"meta-name"}}`)

	p := Proxy(raw, map[string]string{"7": "my override"})
	if p.Name == nil || *p.Name != "my override" {
		t.Fatalf("override not applied: %v", p.Name)
	}

	p = Proxy(raw, nil)
	if p.Name == nil || *p.Name != "vendor-name" {
		t.Fatalf("vendor name not picked: %v", p.Name)
	}

	raw = rawRecord(t, `{"id":7,"metadata":{"label":"meta-label"}}`)
	p = Proxy(raw, nil)
	if p.Name == nil || *p.Name != "meta-label" {
		t.Fatalf("metadata fallback not picked: %v", p.Name)
	}

	raw = rawRecord(t, `{"id":7}`)
	p = Proxy(raw, nil)
	if p.Name != nil {
		t.Fatalf("expected nil name, got %q", *p.Name)
	}
}

func TestNameOverrides_IntegerCoercion(t *testing.T) {
	names := NameOverrides(map[string]string{"007": "bond", "not-a-number": "plain"})

	if names["7"] != "bond" {
		t.Fatalf("canonical key missing: %v", names)
	}
	if names["007"] != "bond" {
		t.Fatal("raw spelling must be kept too")
	}
	if names["not-a-number"] != "plain" {
		t.Fatal("string key must survive")
	}
}

func TestProxy_Idempotent(t *testing.T) {
	raw := rawRecord(t, `{
		"id": 9,
		"proxyType": "HTTP",
		"status": "Active",
		"connection": {"publicIp": "10.0.0.1", "httpPort": 3128},
		"authentication": {"username": "u", "password": "p"},
		"bandwidth": {"total": 20, "used": 5},
		"metadata": {"ispName": "isp", "orderId": "ord-1"}
	}`)

	first := Proxy(raw, map[string]string{"9": "nine"})
	second := Proxy(raw, map[string]string{"9": "nine"})

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalization is not deterministic:\n%#v\n%#v", first, second)
	}
}

func TestProxy_ConnectionFields(t *testing.T) {
	raw := rawRecord(t, `{
		"id": 3,
		"proxyType": "HTTP",
		"networkType": "MOBILE",
		"countryCode": "DE",
		"region": "Bavaria",
		"city": "Munich",
		"expiresAt": "2026-12-24T12:53:31Z",
		"autoExtendEnabled": true,
		"connection": {"publicIp": "1.1.1.1", "connectIp": "2.2.2.2", "ipVersion": 4, "httpPort": 3128}
	}`)
	p := Proxy(raw, nil)

	if p.IPAddress == nil || *p.IPAddress != "1.1.1.1" {
		t.Fatalf("ip_address: %v", p.IPAddress)
	}
	if p.ConnectIP == nil || *p.ConnectIP != "2.2.2.2" {
		t.Fatalf("connect_ip: %v", p.ConnectIP)
	}
	if p.IPVersion == nil || *p.IPVersion != 4 {
		t.Fatalf("ip_version: %v", p.IPVersion)
	}
	if p.ExpiresAt == nil || p.ExpiresAt.Year() != 2026 {
		t.Fatalf("expiry not parsed: %v", p.ExpiresAt)
	}
	if p.AutoExtendEnabled == nil || !*p.AutoExtendEnabled {
		t.Fatalf("auto_extend: %v", p.AutoExtendEnabled)
	}
	if p.NetworkType == nil || *p.NetworkType != "MOBILE" {
		t.Fatalf("network_type: %v", p.NetworkType)
	}
}

func TestProxy_PublicIPFallsBackToConnectIP(t *testing.T) {
	p := Proxy(rawRecord(t, `{"id":1,"connection":{"connectIp":"9.9.9.9"}}`), nil)
	if p.IPAddress == nil || *p.IPAddress != "9.9.9.9" {
		t.Fatalf("got %v, want 9.9.9.9", p.IPAddress)
	}
}
