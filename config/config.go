package config

import (
	_ "embed"
	"errors"
	"net/netip"
	"strings"
	"time"
)

// Defaults for operational configuration.
// These can be overridden by placing a non-empty value in the corresponding .text file.
const (
	DefaultWiFiTimeout       = 10 * time.Second
	DefaultRestartGrace      = 3 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
)

var ErrNoBroker = errors.New("config: no broker configured")

// Environment-specific configuration (must be provided via embedded text files).
var (
	//go:embed update_url.text
	updateURL string

	//go:embed update_token.text
	updateToken string

	//go:embed broker.text
	brokerAddr string
)

// Optional overrides for defaults (empty file = use default).
var (
	//go:embed wifi_timeout.text
	wifiTimeoutOverride string

	//go:embed update_wait.text
	updateWaitOverride string

	//go:embed restart_grace.text
	restartGraceOverride string

	//go:embed heartbeat.text
	heartbeatOverride string
)

// UpdateURL returns the pinned firmware origin from update_url.text.
// Format: "http://ip:port/path" e.g., "http://192.168.1.50:8080/firmware.bin"
func UpdateURL() string {
	return strings.TrimSpace(updateURL)
}

// UpdateToken returns the optional bearer token sent with the firmware
// request. Empty means no Authorization header.
func UpdateToken() string {
	return strings.TrimSpace(updateToken)
}

// BrokerAddr returns the MQTT broker address from broker.text.
// An empty file returns ErrNoBroker and disables the boot report.
func BrokerAddr() (netip.AddrPort, error) {
	addr := strings.TrimSpace(brokerAddr)
	if addr == "" {
		return netip.AddrPort{}, ErrNoBroker
	}
	return netip.ParseAddrPort(addr)
}

// WiFiTimeout returns the bound on the association wait.
// Returns DefaultWiFiTimeout unless overridden via wifi_timeout.text.
func WiFiTimeout() time.Duration {
	if override := strings.TrimSpace(wifiTimeoutOverride); override != "" {
		if d, err := time.ParseDuration(override); err == nil {
			return d
		}
	}
	return DefaultWiFiTimeout
}

// UpdateWaitTimeout returns the bound on the whole update attempt.
// Zero (the default, empty update_wait.text) waits however long the
// transfer takes.
func UpdateWaitTimeout() time.Duration {
	if override := strings.TrimSpace(updateWaitOverride); override != "" {
		if d, err := time.ParseDuration(override); err == nil {
			return d
		}
	}
	return 0
}

// RestartGrace returns the delay between a successful update and the
// restart into it. Returns DefaultRestartGrace unless overridden via
// restart_grace.text.
func RestartGrace() time.Duration {
	if override := strings.TrimSpace(restartGraceOverride); override != "" {
		if d, err := time.ParseDuration(override); err == nil {
			return d
		}
	}
	return DefaultRestartGrace
}

// HeartbeatInterval returns the application heartbeat period.
// Returns DefaultHeartbeatInterval unless overridden via heartbeat.text.
func HeartbeatInterval() time.Duration {
	if override := strings.TrimSpace(heartbeatOverride); override != "" {
		if d, err := time.ParseDuration(override); err == nil {
			return d
		}
	}
	return DefaultHeartbeatInterval
}
