//go:build tinygo

package main

import (
	"machine"
	"time"
)

// Boot mode strap on GP13: internal pull-up, jumper to ground to
// request an update at the next power cycle.
var bootPin = machine.GP13

// readBootPin configures the strap pin and samples it once. The level
// is never re-read; mode selection is a power-cycle decision.
func readBootPin() bool {
	bootPin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	// Let the pull-up settle before sampling.
	time.Sleep(time.Millisecond)
	return !bootPin.Get()
}
