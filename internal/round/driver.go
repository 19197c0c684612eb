package round

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DriverConfig holds the timer durations around a Machine.
type DriverConfig struct {
	RevealDelay     time.Duration // default: 3s
	FailRevealDelay time.Duration // default: 1.2s, used when the reveal fails a challenge
}

// Driver runs the countdown and reveal timers of a Machine.
type Driver struct {
	m        *Machine
	clock    clockwork.Clock
	cfg      DriverConfig
	logger   zerolog.Logger
	onFinish func(RoundResult)

	mu       sync.Mutex
	stopTick context.CancelFunc
	reveal   clockwork.Timer
	stopped  bool
	finished sync.Once
}

// NewDriver wires timers to m. onFinish runs once when the round reaches
// complete, passed or failed; it is not called on abandon.
func NewDriver(m *Machine, clock clockwork.Clock, cfg DriverConfig, logger zerolog.Logger, onFinish func(RoundResult)) *Driver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.RevealDelay <= 0 {
		cfg.RevealDelay = 3 * time.Second
	}
	if cfg.FailRevealDelay <= 0 {
		cfg.FailRevealDelay = 1200 * time.Millisecond
	}
	if onFinish == nil {
		onFinish = func(RoundResult) {}
	}
	return &Driver{
		m:        m,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With().Str("component", "round_driver").Str("session", m.SessionID()).Logger(),
		onFinish: onFinish,
	}
}

// Machine returns the driven machine.
func (d *Driver) Machine() *Machine { return d.m }

// Start enters the first question and starts its countdown.
func (d *Driver) Start() error {
	if err := d.m.Start(); err != nil {
		return err
	}
	d.startCountdown()
	return nil
}

// PlaceGuess forwards a tap to the machine.
func (d *Driver) PlaceGuess(lat, lng float64) error {
	return d.m.PlaceGuess(lat, lng)
}

// PlacePolygonResult forwards a precomputed region distance.
func (d *Driver) PlacePolygonResult(km float64, inside bool) error {
	return d.m.PlacePolygonResult(km, inside)
}

// Confirm submits the current guess and schedules the reveal.
func (d *Driver) Confirm() (ScoredAnswer, error) {
	ans, err := d.m.Confirm()
	if err != nil {
		return ans, err
	}
	d.scheduleReveal()
	return ans, nil
}

// Abandon cancels all timers and ends the round without a result.
func (d *Driver) Abandon() bool {
	d.Stop()
	return d.m.Abandon()
}

// Stop cancels the countdown and any pending reveal. It is idempotent.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.stopTick != nil {
		d.stopTick()
		d.stopTick = nil
	}
	if d.reveal != nil {
		d.reveal.Stop()
		d.reveal = nil
	}
}

func (d *Driver) startCountdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.stopTick != nil {
		d.stopTick()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.stopTick = cancel

	ticker := d.clock.NewTicker(time.Second)
	go d.countdown(ctx, ticker)
}

func (d *Driver) countdown(ctx context.Context, ticker clockwork.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			if d.m.Tick() {
				d.logger.Debug().Msg("question timed out")
				d.scheduleReveal()
				return
			}
			if d.m.Phase() != PhaseActive {
				return
			}
		}
	}
}

func (d *Driver) scheduleReveal() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.stopTick != nil {
		d.stopTick()
		d.stopTick = nil
	}
	delay := d.cfg.RevealDelay
	if d.m.FailPending() {
		delay = d.cfg.FailRevealDelay
	}
	d.reveal = d.clock.AfterFunc(delay, d.finishReveal)
}

func (d *Driver) finishReveal() {
	d.mu.Lock()
	stopped := d.stopped
	d.reveal = nil
	d.mu.Unlock()
	if stopped {
		return
	}

	phase, err := d.m.FinishReveal()
	if err != nil {
		return
	}
	if phase == PhaseActive {
		d.startCountdown()
		return
	}
	if phase.Terminal() {
		d.Stop()
		d.finished.Do(func() { d.onFinish(d.m.Result()) })
	}
}
