package bargein

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/viva/pkg/audio"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/metrics"
)

// Gate reports whether an interrupt is currently meaningful: the system is
// speaking, no capture is open, and no submit, end or pause is under way.
type Gate interface {
	BargeInAllowed() bool
}

// GateFunc adapts a function to Gate.
type GateFunc func() bool

func (f GateFunc) BargeInAllowed() bool { return f() }

// Monitor samples microphone energy on a fixed interval and calls
// onInterrupt when the user talks over the system.
type Monitor struct {
	cfg         Config
	hub         *audio.Hub
	gate        Gate
	onInterrupt func()
	logger      *slog.Logger
	observer    metrics.Observer

	mu       sync.Mutex
	detector *Detector
	peak     float64
	sub      *audio.Subscription
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewMonitor(cfg Config, hub *audio.Hub, gate Gate, onInterrupt func(), logger *slog.Logger, observer metrics.Observer) *Monitor {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:         cfg,
		hub:         hub,
		gate:        gate,
		onInterrupt: onInterrupt,
		logger:      logging.NewComponentLogger(logger, "barge_in"),
		observer:    observer,
		detector:    NewDetector(cfg),
	}
}

// Start subscribes to the microphone and begins sampling. It is a no-op
// when barge-in is disabled or already running.
func (m *Monitor) Start(ctx context.Context) {
	if !m.cfg.Enabled || m.hub == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.sub = m.hub.Subscribe("barge_in", 32)
	sub := m.sub
	m.wg.Add(2)
	go m.consume(sub)
	go m.loop(ctx)
	m.logger.Info("barge_in_started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Int("frames", m.cfg.Frames))
}

// Stop ends sampling and releases the microphone subscription. Other
// subscribers keep receiving audio.
func (m *Monitor) Stop() {
	m.mu.Lock()
	sub := m.sub
	cancel := m.cancel
	m.sub = nil
	m.cancel = nil
	m.mu.Unlock()
	if sub == nil {
		return
	}
	cancel()
	sub.Close()
	m.wg.Wait()
	m.logger.Info("barge_in_stopped")
}

// Reset returns the detector to baseline; called when the system stops speaking.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.detector.Reset()
	m.peak = 0
	m.mu.Unlock()
}

func (m *Monitor) consume(sub *audio.Subscription) {
	defer m.wg.Done()
	for f := range sub.C() {
		e := audio.RMS(f.RawPayload())
		m.mu.Lock()
		if e > m.peak {
			m.peak = e
		}
		m.mu.Unlock()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample takes the loudest frame since the previous tick so a silent or
// muted microphone reads as zero rather than the last loud frame.
func (m *Monitor) sample() {
	allowed := m.gate != nil && m.gate.BargeInAllowed()
	m.mu.Lock()
	energy := m.peak
	m.peak = 0
	threshold := m.detector.Threshold()
	fired := m.detector.Observe(energy, allowed)
	state := m.detector.State()
	m.mu.Unlock()

	m.observer.RecordEvent(metrics.MetricsEvent{
		Name:  "bargein_sample",
		Time:  time.Now(),
		Value: energy,
		Tags:  map[string]string{"allowed": strconv.FormatBool(allowed)},
		Fields: map[string]any{
			"threshold":   threshold,
			"noise_floor": state.NoiseFloor,
			"streak":      state.Streak,
		},
	})
	if !fired {
		return
	}
	m.logger.Info("barge_in_detected",
		slog.Float64("energy", energy),
		slog.Float64("threshold", threshold))
	m.observer.RecordEvent(metrics.MetricsEvent{Name: "barge_in", Time: time.Now(), Value: energy})
	if m.onInterrupt != nil {
		m.onInterrupt()
	}
}
