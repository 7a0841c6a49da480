//go:build tinygo

package main

// WARNING: default -scheduler=cores unsupported, compile with -scheduler=tasks set!

import (
	"errors"
	"log/slog"
	"machine"
	"time"

	"fieldtrack/tracker/config"
	"fieldtrack/tracker/nvstore"
	"fieldtrack/tracker/ota"
	"fieldtrack/tracker/version"

	"github.com/soypat/cyw43439/examples/cywnet"
)

// When false, the watchdog stops being fed and resets the device.
var systemHealthy = true

// fatalError handles unrecoverable startup errors by waiting for the
// watchdog reset, with a software reset fallback so the device always
// comes back.
func fatalError(msg string) {
	println(msg)
	systemHealthy = false
	// Wait for watchdog timeout (8s timeout + margin)
	for i := 0; i < 15; i++ {
		time.Sleep(time.Second)
	}
	println("Watchdog timeout - forcing software reset...")
	ota.Reboot()
	// Should never reach here
	for {
		time.Sleep(time.Second)
	}
}

// feedWatchdogIfHealthy only feeds the watchdog while the system is
// healthy; an unhealthy system rides the timeout into a reset.
func feedWatchdogIfHealthy() {
	if systemHealthy {
		machine.Watchdog.Update()
	}
}

func main() {
	// CRITICAL: Confirm the booted partition IMMEDIATELY to prevent TBYB
	// auto-revert. Must happen within 16.7s of boot, before ANY delays!
	confirmResult := ota.Confirm()

	time.Sleep(2 * time.Second) // Give time to connect to USB and monitor output.
	println("========================================")
	println("  FieldTrack Tracker")
	println("  Version:", version.Version)
	println("  Git SHA:", version.GitSHA)
	println("  Built:  ", version.BuildDate)
	println("========================================")

	if part := ota.CurrentPartition(); part == ota.PartitionA {
		println("ota: booted from partition A")
	} else {
		println("ota: booted from partition B")
	}
	if confirmResult != 0 {
		println("ota: partition confirm returned:", confirmResult)
	} else {
		println("ota: partition confirmed")
	}

	// Application logger (debug level for our code)
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Network stack logger (error+4 to suppress network noise; the
	// cywnet library logs routine packet drops at ERROR level)
	netLogger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.Level(12),
	}))

	// Watchdog for reliability (8 second timeout)
	machine.Watchdog.Configure(machine.WatchdogConfig{
		TimeoutMillis: 8000,
	})
	machine.Watchdog.Start()
	logger.Info("init:watchdog-started")

	store := openStateStore(logger)
	bootCount := bumpBootCount(store, logger)

	mode := DecideBootMode(readBootPin())
	logger.Info("boot:mode",
		slog.String("mode", mode.String()),
		slog.Uint64("boots", uint64(bootCount)),
	)

	if mode == ModeUpdate {
		// Returns only when the branch resolved to "continue"; a
		// successful update restarts inside.
		runUpdateMode(logger, netLogger, store, bootCount)
	}

	logger.Info("init:complete")
	appTask(logger, config.HeartbeatInterval(), feedWatchdogIfHealthy, nil)
}

// openStateStore opens the state sector with one self-healing pass: a
// missing/foreign layout or a fully consumed sector gets exactly one
// reformat, anything else (or a second failure) is fatal.
func openStateStore(logger *slog.Logger) *nvstore.Store {
	dev := nvstore.Device()
	store, err := nvstore.Open(dev, nvstore.StateBase)
	if err != nil {
		if errors.Is(err, nvstore.ErrVersionMismatch) || errors.Is(err, nvstore.ErrNoFreePages) {
			logger.Warn("store:reformatting", slog.String("reason", err.Error()))
			if ferr := nvstore.Format(dev, nvstore.StateBase); ferr != nil {
				logger.Error("store:format-failed", slog.String("err", ferr.Error()))
				fatalError("State store format failed - waiting for reset...")
			}
			store, err = nvstore.Open(dev, nvstore.StateBase)
		}
		if err != nil {
			logger.Error("store:open-failed", slog.String("err", err.Error()))
			fatalError("State store unusable - waiting for reset...")
		}
	}
	logger.Info("store:open", slog.Int("free_slots", store.FreeSlots()))
	return store
}

// bumpBootCount increments the persistent boot counter. Failures only
// cost us the count, never the boot.
func bumpBootCount(store *nvstore.Store, logger *slog.Logger) uint32 {
	boots, _ := store.GetUint32("boots")
	boots++
	if err := store.SetUint32("boots", boots); err != nil {
		logger.Error("store:boots-failed", slog.String("err", err.Error()))
	}
	return boots
}

// runUpdateMode wires the sequencer to the real radio, flash and
// bootrom and runs it once. A successful update never returns.
func runUpdateMode(logger, netLogger *slog.Logger, store *nvstore.Store, bootCount uint32) {
	var cystack *cywnet.Stack

	seq := &Sequencer{
		Logger: logger,
		Connect: func() <-chan error {
			ch := make(chan error, 1)
			go func() {
				s, err := wifiUp(logger, netLogger)
				if err == nil {
					cystack = s
				}
				ch <- err
			}()
			return ch
		},
		Update: func() error {
			return fetchAndFlash(cystack.LnetoStack(), logger)
		},
		Restart: func() {
			recordOutcome(store, "restart", logger)
			sendBootReport(cystack, logger, "restart", bootCount)

			target := ota.TargetPartition()
			logger.Info("boot:restarting", slog.Int("partition", target))
			ota.RebootToPartition(target)
			// ROM refused the flash-update reboot; a plain reset still
			// lands in the new image via normal partition selection.
			logger.Error("boot:restart-failed", slog.Int("code", ota.RebootResult()))
			ota.Reboot()
		},
		ConnectTimeout: config.WiFiTimeout(),
		UpdateTimeout:  config.UpdateWaitTimeout(),
		RestartGrace:   config.RestartGrace(),
	}

	seq.Run()

	// Only the continue path gets here.
	recordOutcome(store, "continue", logger)
	sendBootReport(cystack, logger, "continue", bootCount)
}

// recordOutcome persists how the update branch resolved.
func recordOutcome(store *nvstore.Store, outcome string, logger *slog.Logger) {
	if err := store.Set("outcome", []byte(outcome)); err != nil {
		logger.Error("store:outcome-failed", slog.String("err", err.Error()))
	}
}

// sendBootReport publishes the one-shot boot report. Best effort:
// skipped without a link or a configured broker, failures only logged.
func sendBootReport(cystack *cywnet.Stack, logger *slog.Logger, outcome string, bootCount uint32) {
	if cystack == nil {
		return
	}
	brokerAddr, err := config.BrokerAddr()
	if err != nil {
		if !errors.Is(err, config.ErrNoBroker) {
			logger.Error("config:broker-invalid", slog.String("err", err.Error()))
		}
		return
	}
	err = publishBootReport(cystack.LnetoStack(), brokerAddr, logger, ModeUpdate, outcome, bootCount)
	if err != nil {
		logger.Error("report:failed", slog.String("err", err.Error()))
	}
}
