package bft

import (
	"fmt"
	"sync"
	"time"

	"github.com/canopy-network/accord/lib"
	"github.com/cenkalti/backoff/v4"
)

// TIMEOUTS AND ROUND CHANGE

// NOTE: Each step of a round waits a bounded time for the network. Timeouts grow with the round so that after
// global stabilization some round is long enough for a correct leader's proposal and both quorums to complete.

// TimeoutInfo is delivered when the timer for (height, round, step) fires
type TimeoutInfo struct {
	Height   uint64        `json:"height"`
	Round    uint64        `json:"round"`
	Step     lib.Step      `json:"step"`
	Duration time.Duration `json:"duration"`
}

// View() returns the position the timer was armed at
func (t TimeoutInfo) View() *lib.View { return &lib.View{Height: t.Height, Round: t.Round, Step: t.Step} }

// String() returns the log string format of TimeoutInfo
func (t TimeoutInfo) String() string {
	return fmt.Sprintf("Timeout%s{after: %s}", t.View().ToString(), t.Duration)
}

// TimeoutSchedule maps a round to the time each of its steps may take
type TimeoutSchedule interface {
	Duration(round uint64) time.Duration
}

// NewTimeoutSchedule() returns the schedule selected by the config
func NewTimeoutSchedule(c lib.ConsensusConfig) TimeoutSchedule {
	if c.TimeoutBackoff == lib.ExponentialBackoff {
		return NewExponentialSchedule(c.BaseTimeout(), c.TimeoutMultiplier, c.MaxTimeout())
	}
	return LinearSchedule{Base: c.BaseTimeout(), Increment: c.TimeoutIncrement()}
}

// LinearSchedule waits base + round * increment
type LinearSchedule struct {
	Base      time.Duration
	Increment time.Duration
}

// Duration() implements TimeoutSchedule
func (s LinearSchedule) Duration(round uint64) time.Duration {
	return s.Base + time.Duration(round)*s.Increment
}

// ExponentialSchedule waits base * multiplier ^ round, capped at max
type ExponentialSchedule struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// NewExponentialSchedule() creates an exponential schedule
func NewExponentialSchedule(base time.Duration, multiplier float64, max time.Duration) ExponentialSchedule {
	return ExponentialSchedule{Base: base, Multiplier: multiplier, Max: max}
}

// Duration() implements TimeoutSchedule
// The intervals are produced by a non-randomized exponential backoff so every authority computes the same value
func (s ExponentialSchedule) Duration(round uint64) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval, b.Multiplier, b.MaxInterval = s.Base, s.Multiplier, s.Max
	b.RandomizationFactor, b.MaxElapsedTime = 0, 0
	b.Reset()
	d := b.NextBackOff()
	for i := uint64(0); i < round && d < s.Max; i++ {
		d = b.NextBackOff()
	}
	return min(d, s.Max)
}

// TimeoutManager keeps at most one armed timer per height; arming a new one replaces the old
type TimeoutManager struct {
	schedule TimeoutSchedule
	timers   map[uint64]*armedTimer
	tockCh   chan TimeoutInfo
	quit     chan struct{}
	stopped  bool
	mu       sync.Mutex
	log      lib.LoggerI
}

// armedTimer identifies one arming of a height's timer
type armedTimer struct{ timer *time.Timer }

// NewTimeoutManager() creates a timeout manager; fired timeouts are read from Chan()
func NewTimeoutManager(schedule TimeoutSchedule, log lib.LoggerI) *TimeoutManager {
	return &TimeoutManager{
		schedule: schedule,
		timers:   make(map[uint64]*armedTimer),
		tockCh:   make(chan TimeoutInfo, 1),
		quit:     make(chan struct{}),
		log:      log,
	}
}

// Schedule() arms the timer for (height, round, step), cancelling the height's previous timer
func (m *TimeoutManager) Schedule(height, round uint64, step lib.Step) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return 0
	}
	if armed, found := m.timers[height]; found {
		armed.timer.Stop()
	}
	info := TimeoutInfo{Height: height, Round: round, Step: step, Duration: m.schedule.Duration(round)}
	armed := new(armedTimer)
	armed.timer = time.AfterFunc(info.Duration, func() { m.fire(armed, info) })
	m.timers[height] = armed
	m.log.Debugf("Setting consensus timer %s", info)
	return info.Duration
}

// fire() delivers the timeout if its timer is still the one armed for the height
// A timer stopped too late to prevent its callback is detected here and discarded
func (m *TimeoutManager) fire(armed *armedTimer, info TimeoutInfo) {
	m.mu.Lock()
	if m.timers[info.Height] != armed || m.stopped {
		m.mu.Unlock()
		return
	}
	delete(m.timers, info.Height)
	m.mu.Unlock()
	select {
	case m.tockCh <- info:
	case <-m.quit:
	}
}

// Cancel() disarms the height's timer
func (m *TimeoutManager) Cancel(height uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if armed, found := m.timers[height]; found {
		armed.timer.Stop()
		delete(m.timers, height)
	}
}

// Armed() returns true if a timer is pending for the height
func (m *TimeoutManager) Armed(height uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, found := m.timers[height]
	return found
}

// Chan() returns the channel fired timeouts are delivered on
func (m *TimeoutManager) Chan() <-chan TimeoutInfo { return m.tockCh }

// Stop() disarms every timer and releases any callback blocked on delivery
func (m *TimeoutManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	for h, armed := range m.timers {
		armed.timer.Stop()
		delete(m.timers, h)
	}
	close(m.quit)
}
