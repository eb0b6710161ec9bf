// Package normalize maps loosely-structured vendor proxy records into
// the stable internal schema every consumer reads. It is pure data
// transformation: no I/O, deterministic for identical input.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/proxycheap-monitor/internal/types"
)

// ProxyID derives the canonical identifier for a raw record: the
// vendor "id" field, falling back to "proxy_id". Integral JSON numbers
// render without a decimal point so id 7 and "7" key the same proxy.
func ProxyID(raw types.RawProxy) (string, bool) {
	for _, key := range []string{"id", "proxy_id"} {
		if v, ok := raw[key]; ok && v != nil {
			if s := canonicalID(v); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func canonicalID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

// NameOverrides canonicalizes a configured display-name map. Keys that
// coerce to an integer are registered under their canonical spelling as
// well, so "007" matches a vendor id of 7; keys that don't coerce stay
// string-keyed.
func NameOverrides(configured map[string]string) map[string]string {
	names := make(map[string]string, len(configured))
	for key, name := range configured {
		names[key] = name
		if n, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64); err == nil {
			names[strconv.FormatInt(n, 10)] = name
		}
	}
	return names
}

// Proxy converts one raw vendor record into the normalized schema.
// names is the local display-name override map, keyed by canonical
// proxy id.
func Proxy(raw types.RawProxy, names map[string]string) types.NormalizedProxy {
	connection := subObject(raw, "connection")
	authentication := subObject(raw, "authentication")
	bandwidth := subObject(raw, "bandwidth")
	metadata := subObject(raw, "metadata")

	id, _ := ProxyID(raw)

	p := types.NormalizedProxy{
		ID:          id,
		IPAddress:   firstString(connection, "publicIp", "connectIp"),
		Username:    getString(authentication, "username"),
		Protocol:    getString(raw, "proxyType"),
		NetworkType: getString(raw, "networkType"),
		Country:     getString(raw, "countryCode"),
		Region:      getString(raw, "region"),
		City:        getString(raw, "city"),
		IPVersion:   getInt(connection, "ipVersion"),
		ConnectIP:   getString(connection, "connectIp"),
		HTTPPort:    getInt(connection, "httpPort"),
		HTTPSPort:   getInt(connection, "httpsPort"),
		SOCKS5Port:  getInt(connection, "socks5Port"),
		ISPName:     getString(metadata, "ispName"),
		OrderID:     getString(metadata, "orderId"),
		ExpiresAt:   getTime(raw, "expiresAt"),
		CreatedAt:   getTime(raw, "createdAt"),
		Raw:         redact(raw),
	}

	p.Name = resolveName(raw, metadata, names, id)
	p.Port = selectPort(p.Protocol, connection)

	p.BandwidthTotal = getNumber(bandwidth, "total")
	p.BandwidthUsed = getNumber(bandwidth, "used")
	p.BandwidthUnlimited = p.BandwidthTotal == nil
	if p.BandwidthTotal != nil {
		used := 0.0
		if p.BandwidthUsed != nil {
			used = *p.BandwidthUsed
		}
		remaining := *p.BandwidthTotal - used
		p.BandwidthRemaining = &remaining
	}

	if v, ok := raw["autoExtendEnabled"].(bool); ok {
		p.AutoExtendEnabled = &v
	}

	p.WhitelistedIPs = stringSlice(authentication["whitelistedIps"])
	switch {
	case len(p.WhitelistedIPs) > 0:
		authType := types.AuthIPWhitelist
		p.AuthenticationType = &authType
	case p.Username != nil && *p.Username != "":
		authType := types.AuthUsernamePassword
		p.AuthenticationType = &authType
	}

	p.Status = "unknown"
	if s, ok := raw["status"].(string); ok {
		p.Status = strings.ToLower(s)
	}

	if routes, ok := raw["routes"].([]any); ok {
		p.Routes = routes
	} else {
		p.Routes = []any{}
	}

	return p
}

// selectPort picks the port matching the declared protocol, falling
// back to the first available port in HTTP, HTTPS, SOCKS5 order when
// the protocol is absent or unrecognized.
func selectPort(protocol *string, connection map[string]any) *int64 {
	proto := ""
	if protocol != nil {
		proto = strings.ToUpper(*protocol)
	}
	switch proto {
	case types.ProtocolHTTP:
		return getInt(connection, "httpPort")
	case types.ProtocolHTTPS:
		return getInt(connection, "httpsPort")
	case types.ProtocolSOCKS5:
		return getInt(connection, "socks5Port")
	}
	for _, key := range []string{"httpPort", "httpsPort", "socks5Port"} {
		if port := getInt(connection, key); port != nil {
			return port
		}
	}
	return nil
}

// resolveName walks the override-then-fallback chain: local override
// (canonical id, then the raw string spelling), then the vendor name
// fields, then metadata.
func resolveName(raw types.RawProxy, metadata map[string]any, names map[string]string, id string) *string {
	if id != "" {
		if name, ok := names[id]; ok && name != "" {
			return &name
		}
	}
	// Ids that fail integer coercion may be configured under their raw
	// string spelling.
	if s, ok := raw["id"].(string); ok {
		if name, ok := names[s]; ok && name != "" {
			return &name
		}
	}
	for _, key := range []string{"name", "label", "alias", "displayName"} {
		if name := getString(raw, key); name != nil && *name != "" {
			return name
		}
	}
	for _, key := range []string{"name", "label"} {
		if name := getString(metadata, key); name != nil && *name != "" {
			return name
		}
	}
	return nil
}

// redact copies the raw record, stripping any key containing
// "password" or "secret" (case-insensitive) at the top level and one
// level into sub-objects. Deeper nesting is deliberately not walked;
// callers must not attach deeper vendor payloads carrying credentials.
func redact(raw types.RawProxy) map[string]any {
	filtered := make(map[string]any, len(raw))
	for key, value := range raw {
		if sensitiveKey(key) {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			inner := make(map[string]any, len(nested))
			for k, v := range nested {
				if !sensitiveKey(k) {
					inner[k] = v
				}
			}
			filtered[key] = inner
			continue
		}
		filtered[key] = value
	}
	return filtered
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "password") || strings.Contains(lower, "secret")
}

func subObject(raw types.RawProxy, key string) map[string]any {
	if m, ok := raw[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func getString(m map[string]any, key string) *string {
	if s, ok := m[key].(string); ok {
		return &s
	}
	return nil
}

func firstString(m map[string]any, keys ...string) *string {
	for _, key := range keys {
		if s := getString(m, key); s != nil && *s != "" {
			return s
		}
	}
	return nil
}

func getNumber(m map[string]any, key string) *float64 {
	switch v := m[key].(type) {
	case float64:
		return &v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}

func getInt(m map[string]any, key string) *int64 {
	if f := getNumber(m, key); f != nil {
		i := int64(*f)
		return &i
	}
	return nil
}

func getTime(m map[string]any, key string) *time.Time {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
