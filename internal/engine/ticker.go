package engine

import (
	"context"
	"sync"
	"time"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
)

// ClockActor is the actor id stamped on TIME_TICK events.
const ClockActor = "MISSION_CLOCK"

// TickerConfig sets the pace of the clock.
type TickerConfig struct {
	Rate             time.Duration // real time between pulses
	MillisolsPerTick float64
	StartSol         int
}

// Ticker manages the simulation heartbeat.
// It does NOT know about entities or faults - only time progression.
type Ticker struct {
	eventLog *events.EventLog
	logger   *logger.Logger
	cfg      TickerConfig

	mu         sync.RWMutex
	pulseCount int64
	now        marstime.MarsTime

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewTicker creates a clock starting at millisol 0 of cfg.StartSol.
func NewTicker(eventLog *events.EventLog, log *logger.Logger, cfg TickerConfig) *Ticker {
	if cfg.Rate <= 0 {
		cfg.Rate = time.Second
	}
	if cfg.MillisolsPerTick <= 0 {
		cfg.MillisolsPerTick = 1
	}
	return &Ticker{
		eventLog: eventLog,
		logger:   log,
		cfg:      cfg,
		now:      marstime.New(cfg.StartSol, 0),
		stopChan: make(chan struct{}),
	}
}

// Start runs the clock until ctx is done or Stop is called. Call in a goroutine.
func (t *Ticker) Start(ctx context.Context) {
	t.logger.Infof("Mission clock started at %s, %.2f millisols every %s", t.Now(), t.cfg.MillisolsPerTick, t.cfg.Rate)

	ticker := time.NewTicker(t.cfg.Rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Mission clock stopped by context.")
			return
		case <-t.stopChan:
			t.logger.Info("Mission clock stopped manually.")
			return
		case <-ticker.C:
			t.Step()
		}
	}
}

// Stop gracefully stops the clock. It is safe to call more than once.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

// Step advances the clock by one pulse and emits its TIME_TICK.
func (t *Ticker) Step() marstime.Pulse {
	t.mu.Lock()
	t.pulseCount++
	prevSol := t.now.MissionSol
	pulse := marstime.Next(t.pulseCount, t.now, t.cfg.MillisolsPerTick)
	t.now = pulse.Time
	t.mu.Unlock()

	t.eventLog.Append(events.Event{
		Type:       events.EventTypeTimeTick,
		EntityID:   ClockActor,
		ActorID:    ClockActor,
		Payload:    pulse,
		MissionSol: pulse.Time.MissionSol,
		Millisol:   pulse.Time.Millisol,
	})
	if pulse.Time.MissionSol != prevSol {
		t.logger.Event(string(events.EventTypeTimeTick), ClockActor, pulse.Time.String())
	}
	return pulse
}

// SetTime lets bootstrapping commands place the clock directly.
func (t *Ticker) SetTime(sol int, millisol float64, pulseCount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = marstime.New(sol, millisol)
	t.pulseCount = pulseCount
}

// Now returns the current mission time.
func (t *Ticker) Now() marstime.MarsTime {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.now
}

func (t *Ticker) PulseCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pulseCount
}
