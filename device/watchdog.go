package device

import "time"

// watchdogPeriod is the sole dead-man's-handle period: a Device that goes
// this long without a refresh is declared dead.
const watchdogPeriod = 10 * time.Second

// watchdog is a single-shot, reset-on-refresh timer. It is not a
// library-specific "refresh" call: Refresh simply re-arms the underlying
// timer, draining any pending fire first so stale expiries never leak
// through after a refresh.
type watchdog struct {
	timer *time.Timer
}

func newWatchdog() *watchdog {
	return &watchdog{timer: time.NewTimer(watchdogPeriod)}
}

// C returns the channel that fires once the watchdog expires without a
// refresh.
func (w *watchdog) C() <-chan time.Time {
	return w.timer.C
}

// Refresh resets the deadline to watchdogPeriod from now.
func (w *watchdog) Refresh() {
	if !w.timer.Stop() {
		select {
		case <-w.timer.C:
		default:
		}
	}
	w.timer.Reset(watchdogPeriod)
}

// Stop disarms the watchdog permanently.
func (w *watchdog) Stop() {
	w.timer.Stop()
}
