// Package entities holds the declarative descriptor tables that map
// snapshot fields to display values. Each descriptor pairs a stable
// key with a pure accessor over the normalized data, so any frontend
// can render the account without knowing the vendor schema.
package entities

import (
	"fmt"

	"github.com/proxycheap-monitor/internal/types"
)

// AccountSensor describes one account-level value.
type AccountSensor struct {
	Key            string
	Name           string
	Icon           string
	Unit           string
	EnabledDefault bool
	Value          func(snap *types.AccountSnapshot) any
}

// ProxySensor describes one per-proxy value.
type ProxySensor struct {
	Key            string
	Name           string
	Icon           string
	Unit           string
	EnabledDefault bool
	Value          func(px types.NormalizedProxy) any
}

// ProxyBinarySensor describes one per-proxy boolean condition.
type ProxyBinarySensor struct {
	Key            string
	Name           string
	Icon           string
	EnabledDefault bool
	IsOn           func(px types.NormalizedProxy) bool
}

var AccountSensors = []AccountSensor{
	{
		Key:            "balance",
		Name:           "Account Balance",
		Icon:           "mdi:wallet",
		EnabledDefault: true,
		Value:          func(snap *types.AccountSnapshot) any { return snap.Balance },
	},
	{
		Key:            "proxy_count",
		Name:           "Total Proxies",
		Icon:           "mdi:server-network",
		EnabledDefault: true,
		Value:          func(snap *types.AccountSnapshot) any { return snap.ProxyCount },
	},
}

var ProxySensors = []ProxySensor{
	{
		Key:            "status",
		Name:           "Status",
		Icon:           "mdi:check-circle",
		EnabledDefault: true,
		Value:          func(px types.NormalizedProxy) any { return px.Status },
	},
	{
		Key:            "ip_address",
		Name:           "IP Address",
		Icon:           "mdi:ip-network",
		EnabledDefault: true,
		Value:          func(px types.NormalizedProxy) any { return deref(px.IPAddress) },
	},
	{
		Key:            "port",
		Name:           "Port",
		Icon:           "mdi:ethernet",
		EnabledDefault: true,
		Value: func(px types.NormalizedProxy) any {
			if px.Port == nil {
				return nil
			}
			return *px.Port
		},
	},
	{
		Key:            "username",
		Name:           "Username",
		Icon:           "mdi:account",
		EnabledDefault: false, // Less commonly needed
		Value:          func(px types.NormalizedProxy) any { return deref(px.Username) },
	},
	{
		Key:            "protocol",
		Name:           "Protocol",
		Icon:           "mdi:protocol",
		EnabledDefault: false, // Usually static
		Value:          func(px types.NormalizedProxy) any { return deref(px.Protocol) },
	},
	{
		Key:            "network_type",
		Name:           "Network Type",
		Icon:           "mdi:access-point-network",
		EnabledDefault: false, // Usually static
		Value:          func(px types.NormalizedProxy) any { return deref(px.NetworkType) },
	},
	{
		Key:            "country",
		Name:           "Country",
		Icon:           "mdi:earth",
		EnabledDefault: false, // Usually static
		Value:          func(px types.NormalizedProxy) any { return deref(px.Country) },
	},
	{
		Key:            "region",
		Name:           "Region",
		Icon:           "mdi:map-marker",
		EnabledDefault: false, // Usually static
		Value:          func(px types.NormalizedProxy) any { return deref(px.Region) },
	},
	{
		Key:            "city",
		Name:           "City",
		Icon:           "mdi:city",
		EnabledDefault: false, // Usually static
		Value:          func(px types.NormalizedProxy) any { return deref(px.City) },
	},
	{
		Key:            "bandwidth_total",
		Name:           "Bandwidth Total",
		Icon:           "mdi:chart-donut",
		EnabledDefault: false, // Often unlimited/static
		Value: func(px types.NormalizedProxy) any {
			return formatBandwidth(px.BandwidthTotal, px.BandwidthUnlimited)
		},
	},
	{
		Key:            "bandwidth_used",
		Name:           "Bandwidth Used",
		Icon:           "mdi:chart-donut-variant",
		EnabledDefault: false, // Enable if tracking usage
		Value: func(px types.NormalizedProxy) any {
			if px.BandwidthUsed == nil {
				return "0 GB"
			}
			return fmt.Sprintf("%.2f GB", *px.BandwidthUsed)
		},
	},
	{
		Key:            "bandwidth_remaining",
		Name:           "Bandwidth Remaining",
		Icon:           "mdi:gauge",
		EnabledDefault: true, // Important for monitoring
		Value: func(px types.NormalizedProxy) any {
			return formatBandwidth(px.BandwidthRemaining, px.BandwidthUnlimited)
		},
	},
	{
		Key:            "expiry_date",
		Name:           "Expiry Date",
		Icon:           "mdi:calendar-clock",
		EnabledDefault: true, // Important for monitoring
		Value: func(px types.NormalizedProxy) any {
			if px.ExpiresAt == nil {
				return nil
			}
			return *px.ExpiresAt
		},
	},
	{
		Key:            "created_at",
		Name:           "Created",
		Icon:           "mdi:calendar-plus",
		EnabledDefault: false,
		Value: func(px types.NormalizedProxy) any {
			if px.CreatedAt == nil {
				return nil
			}
			return *px.CreatedAt
		},
	},
	{
		Key:            "auto_extend",
		Name:           "Auto Extend",
		Icon:           "mdi:autorenew",
		EnabledDefault: false, // Usually static
		Value: func(px types.NormalizedProxy) any {
			if px.AutoExtendEnabled != nil && *px.AutoExtendEnabled {
				return "Enabled"
			}
			return "Disabled"
		},
	},
	{
		Key:            "isp_name",
		Name:           "ISP",
		Icon:           "mdi:domain",
		EnabledDefault: false,
		Value:          func(px types.NormalizedProxy) any { return deref(px.ISPName) },
	},
}

var ProxyBinarySensors = []ProxyBinarySensor{
	{
		Key:            "active",
		Name:           "Active",
		Icon:           "mdi:lan-connect",
		EnabledDefault: true, // Important for monitoring
		IsOn:           func(px types.NormalizedProxy) bool { return px.Status == "active" },
	},
	{
		Key:            "auto_extend_enabled",
		Name:           "Auto Extend Enabled",
		Icon:           "mdi:autorenew",
		EnabledDefault: false, // Usually static
		IsOn: func(px types.NormalizedProxy) bool {
			return px.AutoExtendEnabled != nil && *px.AutoExtendEnabled
		},
	},
	{
		Key:            "bandwidth_unlimited",
		Name:           "Unlimited Bandwidth",
		Icon:           "mdi:infinity",
		EnabledDefault: false,
		IsOn:           func(px types.NormalizedProxy) bool { return px.BandwidthUnlimited },
	},
}

// State is one rendered entity value.
type State struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Icon  string `json:"icon,omitempty"`
	Value any    `json:"value"`
}

// EnabledSet resolves the configured sensor-key list to a set. An
// empty configuration means every default-enabled sensor.
func EnabledSet(keys []string) map[string]bool {
	if len(keys) == 0 {
		return nil
	}
	set := make(map[string]bool, len(keys))
	for _, key := range keys {
		set[key] = true
	}
	return set
}

func enabled(set map[string]bool, key string, enabledDefault bool) bool {
	if set == nil {
		return enabledDefault
	}
	return set[key]
}

// AccountStates renders the enabled account-level sensors.
func AccountStates(snap *types.AccountSnapshot, set map[string]bool) []State {
	states := make([]State, 0, len(AccountSensors))
	for _, s := range AccountSensors {
		if !enabled(set, s.Key, s.EnabledDefault) {
			continue
		}
		states = append(states, State{Key: s.Key, Name: s.Name, Icon: s.Icon, Value: s.Value(snap)})
	}
	return states
}

// ProxyStates renders the enabled sensors and binary sensors for one proxy.
func ProxyStates(px types.NormalizedProxy, set map[string]bool) []State {
	states := make([]State, 0, len(ProxySensors)+len(ProxyBinarySensors))
	for _, s := range ProxySensors {
		if !enabled(set, s.Key, s.EnabledDefault) {
			continue
		}
		states = append(states, State{Key: s.Key, Name: s.Name, Icon: s.Icon, Value: s.Value(px)})
	}
	for _, s := range ProxyBinarySensors {
		if !enabled(set, s.Key, s.EnabledDefault) {
			continue
		}
		states = append(states, State{Key: s.Key, Name: s.Name, Icon: s.Icon, Value: s.IsOn(px)})
	}
	return states
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func formatBandwidth(gb *float64, unlimited bool) any {
	if unlimited {
		return "Unlimited"
	}
	if gb == nil {
		return nil
	}
	return fmt.Sprintf("%.2f GB", *gb)
}
