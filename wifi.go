//go:build tinygo

package main

import (
	"log/slog"
	"net/netip"
	"time"

	"fieldtrack/tracker/credentials"
	"fieldtrack/tracker/ota"

	"github.com/soypat/cyw43439"
	"github.com/soypat/cyw43439/examples/cywnet"
	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
)

const pollTime = 5 * time.Millisecond

var requestedIP = [4]byte{192, 168, 1, 99}

// wifiUp brings the radio, WPA2 association and DHCP up and returns the
// configured stack. Called only from the update branch; normal mode
// never touches the radio.
func wifiUp(logger, netLogger *slog.Logger) (*cywnet.Stack, error) {
	devcfg := cyw43439.DefaultWifiConfig()
	devcfg.Logger = netLogger
	cystack, err := cywnet.NewConfiguredPicoWithStack(
		credentials.SSID(),
		credentials.Password(),
		devcfg,
		cywnet.StackConfig{
			Hostname:    "fieldtrack",
			MaxTCPPorts: 2, // update fetch + boot report
		},
	)
	if err != nil {
		return nil, err
	}

	// Stop pumping cleanly before a bootrom reboot.
	ota.SetShutdownHook(func() {
		logger.Info("ota:wifi-shutdown")
		time.Sleep(100 * time.Millisecond) // Allow pending packets to drain
	})

	// Background packet pump for the lifetime of the update branch.
	go loopForeverStack(cystack)

	dhcpResults, err := cystack.SetupWithDHCP(cywnet.DHCPConfig{
		RequestedAddr: netip.AddrFrom4(requestedIP),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("dhcp:complete", slog.String("addr", dhcpResults.AssignedAddr.String()))

	return cystack, nil
}

// loopForeverStack processes network packets in the background
func loopForeverStack(stack *cywnet.Stack) {
	var count int
	for {
		send, recv, _ := stack.RecvAndSend()
		if send == 0 && recv == 0 {
			time.Sleep(pollTime)
		}
		// Update watchdog every ~100 iterations (~500ms)
		count++
		if count >= 100 {
			feedWatchdogIfHealthy()
			count = 0
		}
	}
}

// closeConn closes the TCP connection and waits for it to close
func closeConn(conn *tcp.Conn, stack *xnet.StackAsync, addr netip.AddrPort) {
	conn.Close()
	for i := 0; i < 50 && !conn.State().IsClosed(); i++ {
		time.Sleep(100 * time.Millisecond)
	}
	conn.Abort()

	// Discard ARP query to free slot for next connection
	stack.DiscardResolveHardwareAddress6(addr.Addr())
}
