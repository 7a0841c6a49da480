package main

import (
	"log/slog"
	"time"
)

// BootMode is the operating branch selected once per power cycle.
type BootMode uint8

const (
	ModeNormal BootMode = iota
	ModeUpdate
)

// String returns the mode name
func (m BootMode) String() string {
	if m == ModeUpdate {
		return "update"
	}
	return "normal"
}

// DecideBootMode maps the sampled level of the mode pin to a boot mode.
// The pin is pulled up, so strapping it low at reset requests an update;
// any other level runs the current firmware.
func DecideBootMode(pinLow bool) BootMode {
	if pinLow {
		return ModeUpdate
	}
	return ModeNormal
}

// Outcome is the terminal state of an update-mode pass.
type Outcome uint8

const (
	// OutcomeContinue keeps running the firmware already flashed.
	OutcomeContinue Outcome = iota
	// OutcomeRestart means a new image was written and a restart issued.
	OutcomeRestart
)

// Sequencer drives the update-mode branch: bring the link up, run a
// single update attempt, then either restart into the new image or fall
// through to the application. Collaborators are injected so the machine
// runs unchanged on the host under test.
type Sequencer struct {
	Logger *slog.Logger

	// Connect starts WiFi association and delivers exactly one result on
	// the returned channel: nil once the link is up, an error otherwise.
	Connect func() <-chan error

	// Update performs one firmware download-and-flash attempt.
	Update func() error

	// Restart reboots the device into the freshly written image. On real
	// hardware it does not return.
	Restart func()

	ConnectTimeout time.Duration // bound on the association wait
	UpdateTimeout  time.Duration // zero waits forever
	RestartGrace   time.Duration // delay between success and restart

	sleep func(time.Duration) // test hook, defaults to time.Sleep
}

// Run executes the update-mode state machine once. Every failure path
// degrades to OutcomeContinue; only a verified flash reaches Restart.
func (s *Sequencer) Run() Outcome {
	if s.sleep == nil {
		s.sleep = time.Sleep
	}

	s.Logger.Info("boot:wifi-connecting", slog.Duration("timeout", s.ConnectTimeout))
	connected := s.Connect()

	timer := time.NewTimer(s.ConnectTimeout)
	select {
	case err := <-connected:
		timer.Stop()
		if err != nil {
			s.Logger.Error("boot:wifi-failed", slog.String("err", err.Error()))
			return OutcomeContinue
		}
	case <-timer.C:
		s.Logger.Error("boot:wifi-timeout")
		return OutcomeContinue
	}
	s.Logger.Info("boot:wifi-connected")

	// One-shot update task. The buffered channel carries exactly one
	// result; an empty channel means the attempt is still running.
	result := make(chan error, 1)
	go func() { result <- s.Update() }()

	var expired <-chan time.Time
	if s.UpdateTimeout > 0 {
		t := time.NewTimer(s.UpdateTimeout)
		defer t.Stop()
		expired = t.C
	}

	s.Logger.Info("boot:update-running")
	select {
	case err := <-result:
		if err != nil {
			s.Logger.Error("boot:update-failed", slog.String("err", err.Error()))
			return OutcomeContinue
		}
	case <-expired:
		s.Logger.Error("boot:update-timeout", slog.Duration("after", s.UpdateTimeout))
		return OutcomeContinue
	}

	s.Logger.Info("boot:update-complete", slog.Duration("grace", s.RestartGrace))
	s.sleep(s.RestartGrace)
	s.Restart()
	return OutcomeRestart
}

// appTask is the long-running application loop both modes hand off to.
// It only logs a heartbeat; real application logic hangs off this loop.
// beat runs before every heartbeat (the device feeds the watchdog here).
// A nil done channel runs forever.
func appTask(logger *slog.Logger, period time.Duration, beat func(), done <-chan struct{}) {
	logger.Info("app:running", slog.Duration("period", period))
	for n := 0; ; n++ {
		if beat != nil {
			beat()
		}
		logger.Info("app:heartbeat", slog.Int("n", n))
		select {
		case <-done:
			return
		case <-time.After(period):
		}
	}
}
