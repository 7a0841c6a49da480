package config

import (
	"errors"
	"testing"
	"time"
)

// The shipped .text overrides are empty, so the accessors must fall
// back to their defaults.
func TestDefaults(t *testing.T) {
	if got := WiFiTimeout(); got != 10*time.Second {
		t.Errorf("WiFiTimeout = %v, want 10s", got)
	}
	if got := UpdateWaitTimeout(); got != 0 {
		t.Errorf("UpdateWaitTimeout = %v, want 0 (unbounded)", got)
	}
	if got := RestartGrace(); got != 3*time.Second {
		t.Errorf("RestartGrace = %v, want 3s", got)
	}
	if got := HeartbeatInterval(); got != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 5s", got)
	}
}

func TestUpdateURLTrimmed(t *testing.T) {
	url := UpdateURL()
	if url == "" {
		t.Fatal("UpdateURL is empty")
	}
	if url[len(url)-1] == '\n' || url[0] == ' ' {
		t.Errorf("UpdateURL not trimmed: %q", url)
	}
}

func TestBrokerUnconfigured(t *testing.T) {
	if _, err := BrokerAddr(); !errors.Is(err, ErrNoBroker) {
		t.Errorf("BrokerAddr with empty broker.text = %v, want ErrNoBroker", err)
	}
}
