/*
=================================================================================
SPIKE SCHEDULER - TIME-SLICED EVENT RING
=================================================================================

The scheduler is the temporal backbone of the engine. It owns a ring of
time slices (default: 10,000 slices of 1 ms, roughly ten seconds of
buffering), receives events tagged with a scheduled time, and delivers each
slice's contents in non-decreasing slice order by fanning them out across
the delivery worker pool.

ARCHITECTURE:
- Ring buffer: slice index = floor(t / step) mod slotCount. Each slot owns
  two event vectors, one per event class, so the two delivery routines stay
  type-specialised and the hot path never pays for variant dispatch.
- Advancement goroutine: snapshots the current slot, moves its contents out
  of the ring, advances the clock, and submits one pool task per event.
- Look-ahead horizon: slotCount * step. Scheduling beyond it fails loudly;
  event loss is never silent.

LOCKING DISCIPLINE:
Slot drain and clock advancement happen atomically under the ring mutex,
and Schedule* validates under the same mutex. An event is therefore
accepted if and only if its slice has not yet been drained this cycle and
it lies inside the horizon, with no window in which an event can slip into
a slot that was already emptied.

REAL-TIME PACING:
With real-time sync on, each iteration sleeps until the wall clock has
advanced by one step, and the scheduler tracks drift (wall minus simulated
time). When the loop falls behind it never drops events to catch up; it
delivers in order and accepts the drift. With sync off, the loop
free-runs, which is what batch training wants.

Reference:
- Brette, R., et al. (2007). Simulation of networks of spiking neurons.
- Gewaltig, M. O., & Diesmann, M. (2007). NEST (NEural Simulation Tool).
=================================================================================
*/

package scheduler

import (
	"errors"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/SynapticNetworks/synfire/pool"
	"github.com/SynapticNetworks/synfire/types"
)

// Scheduling failure modes. Every rejected event is reported to the caller;
// the scheduler never swallows an event silently.
var (
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
	ErrHorizonOverflow     = errors.New("scheduled time is beyond the look-ahead horizon")
	ErrSpikeInPast         = errors.New("scheduled time falls in an already drained slot")
)

// Lifecycle states of the advancement loop.
const (
	stateIdle int32 = iota
	stateRunning
	stateStopping
)

// STEP_SAMPLE_CAPACITY bounds the per-iteration timing samples retained for
// statistics. A ring of recent samples is enough for a meaningful average
// and maximum without unbounded growth.
const STEP_SAMPLE_CAPACITY = 1024

// SpikeTarget is a delivery endpoint for forward action potentials.
// Dendrites implement it.
type SpikeTarget interface {
	ID() uint64
	DeliverSpike(types.ActionPotential)
}

// RetrogradeTarget is a delivery endpoint for retrograde action
// potentials. The propagator registers one per synapse.
type RetrogradeTarget interface {
	ID() uint64
	DeliverRetrograde(types.RetrogradeActionPotential)
}

// slot holds the events of one time slice, one vector per event class.
type slot struct {
	forward    []types.ActionPotential
	retrograde []types.RetrogradeActionPotential
}

// Stats is a snapshot of the scheduler's counters and timing figures.
type Stats struct {
	Iterations          int64   // Advancement steps completed
	ForwardScheduled    int64   // Forward events accepted into the ring
	RetrogradeScheduled int64   // Retrograde events accepted into the ring
	ForwardDelivered    int64   // Forward events handed to the pool
	RetrogradeDelivered int64   // Retrograde events handed to the pool
	UnknownTargetDrops  int64   // Events whose target vanished before delivery
	AvgStepNs           float64 // Mean advancement iteration duration
	MaxStepNs           float64 // Slowest advancement iteration
	DriftMs             float64 // Wall minus simulated time (real-time sync only)
}

// Scheduler owns the time-sliced event ring and the advancement loop.
type Scheduler struct {
	cfg     types.SchedulerConfig
	workers *pool.Pool
	logger  *zap.Logger

	ringMu sync.Mutex
	ring   []slot

	// currentTime is float64 milliseconds stored as bits for atomic reads.
	currentTime atomic.Uint64

	// lifecycleMu serializes Start/Stop; the state atomic is what the hot
	// paths read.
	lifecycleMu  sync.Mutex
	state        atomic.Int32
	realTimeSync atomic.Bool
	loopDone     chan struct{}

	targetMu    sync.RWMutex
	dendrites   map[uint64]SpikeTarget
	retrogrades map[uint64]RetrogradeTarget

	// Statistics
	iterations          atomic.Int64
	forwardScheduled    atomic.Int64
	retrogradeScheduled atomic.Int64
	forwardDelivered    atomic.Int64
	retrogradeDelivered atomic.Int64
	unknownTargetDrops  atomic.Int64

	statsMu     sync.Mutex
	stepSamples []float64 // recent iteration durations in ns
	sampleNext  int
	driftMs     float64
}

// New creates a scheduler over the given worker pool. An invalid
// configuration falls back to the defaults; a nil logger disables logging.
func New(cfg types.SchedulerConfig, workers *pool.Pool, logger *zap.Logger) *Scheduler {
	if !cfg.IsValid() {
		cfg = types.CreateDefaultSchedulerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:         cfg,
		workers:     workers,
		logger:      logger,
		ring:        make([]slot, cfg.SlotCount),
		dendrites:   make(map[uint64]SpikeTarget),
		retrogrades: make(map[uint64]RetrogradeTarget),
		stepSamples: make([]float64, 0, STEP_SAMPLE_CAPACITY),
	}
	s.realTimeSync.Store(cfg.RealTimeSync)
	s.storeTime(0)
	return s
}

// =================================================================================
// LIFECYCLE
// =================================================================================

// Start launches the advancement goroutine. Idempotent: starting a running
// scheduler is a no-op. Starting while a stop is still draining returns
// ErrSchedulerNotRunning; callers should wait for Stop to complete.
func (s *Scheduler) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	switch s.state.Load() {
	case stateRunning:
		return nil
	case stateStopping:
		return ErrSchedulerNotRunning
	}
	s.loopDone = make(chan struct{})
	s.state.Store(stateRunning)
	go s.advancementLoop()
	s.logger.Info("scheduler started",
		zap.Int("slots", s.cfg.SlotCount),
		zap.Float64("step_ms", s.cfg.StepMs),
		zap.Bool("real_time_sync", s.realTimeSync.Load()))
	return nil
}

// Stop requests termination and joins the advancement goroutine. The loop
// finishes its current iteration, including dispatch of the current slot,
// before exiting. Idempotent: stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.state.CompareAndSwap(stateRunning, stateStopping) {
		return
	}
	<-s.loopDone
	s.state.Store(stateIdle)
	s.logger.Info("scheduler stopped",
		zap.Int64("iterations", s.iterations.Load()),
		zap.Float64("current_time_ms", s.CurrentTimeMs()))
}

// IsRunning reports whether the advancement loop is active.
func (s *Scheduler) IsRunning() bool {
	return s.state.Load() == stateRunning
}

// CurrentTimeMs returns the advancement clock. Monotonically non-decreasing
// while running.
func (s *Scheduler) CurrentTimeMs() float64 {
	return math.Float64frombits(s.currentTime.Load())
}

func (s *Scheduler) storeTime(tMs float64) {
	s.currentTime.Store(math.Float64bits(tMs))
}

// SetRealTimeSync toggles wall-clock pacing of the advancement loop.
func (s *Scheduler) SetRealTimeSync(enabled bool) {
	s.realTimeSync.Store(enabled)
}

// HorizonMs returns the look-ahead horizon, slotCount * step.
func (s *Scheduler) HorizonMs() float64 {
	return s.cfg.HorizonMs()
}

// StepMs returns the width of one time slice.
func (s *Scheduler) StepMs() float64 {
	return s.cfg.StepMs
}

// =================================================================================
// TARGET REGISTRATION
// =================================================================================

// RegisterDendrite makes a dendrite addressable for forward delivery.
// Idempotent: re-registration replaces the previous endpoint.
func (s *Scheduler) RegisterDendrite(target SpikeTarget) {
	if target == nil {
		return
	}
	s.targetMu.Lock()
	defer s.targetMu.Unlock()
	s.dendrites[target.ID()] = target
}

// RegisterSynapse makes a synapse addressable for retrograde delivery.
// Idempotent: re-registration replaces the previous endpoint.
func (s *Scheduler) RegisterSynapse(target RetrogradeTarget) {
	if target == nil {
		return
	}
	s.targetMu.Lock()
	defer s.targetMu.Unlock()
	s.retrogrades[target.ID()] = target
}

// =================================================================================
// SCHEDULING
// =================================================================================

// absSlot returns the uncollapsed slice index of a time.
func (s *Scheduler) absSlot(tMs float64) int64 {
	return int64(math.Floor(tMs / s.cfg.StepMs))
}

// admit validates a scheduled time against the clock under the ring mutex
// and returns the ring index on success.
func (s *Scheduler) admit(tMs float64) (int, error) {
	cur := s.CurrentTimeMs()
	if tMs >= cur+s.cfg.HorizonMs() {
		return 0, ErrHorizonOverflow
	}
	slotT := s.absSlot(tMs)
	if slotT < s.absSlot(cur) {
		return 0, ErrSpikeInPast
	}
	return int(slotT % int64(s.cfg.SlotCount)), nil
}

// ScheduleSpike places a forward action potential into its time slice.
// Fails with ErrSchedulerNotRunning when the loop is idle or stopping, with
// ErrHorizonOverflow beyond the look-ahead bound, and with ErrSpikeInPast
// when the target slice has already been drained.
func (s *Scheduler) ScheduleSpike(ap types.ActionPotential) error {
	if !s.IsRunning() {
		return ErrSchedulerNotRunning
	}

	s.ringMu.Lock()
	defer s.ringMu.Unlock()

	idx, err := s.admit(ap.ScheduledTimeMs)
	if err != nil {
		s.logger.Debug("forward spike rejected",
			zap.Float64("scheduled_ms", ap.ScheduledTimeMs),
			zap.Float64("current_ms", s.CurrentTimeMs()),
			zap.Error(err))
		return err
	}
	s.ring[idx].forward = append(s.ring[idx].forward, ap)
	s.forwardScheduled.Add(1)
	return nil
}

// ScheduleRetrogradeSpike places a retrograde action potential into its
// time slice. Failure modes match ScheduleSpike.
func (s *Scheduler) ScheduleRetrogradeSpike(rap types.RetrogradeActionPotential) error {
	if !s.IsRunning() {
		return ErrSchedulerNotRunning
	}

	s.ringMu.Lock()
	defer s.ringMu.Unlock()

	idx, err := s.admit(rap.ScheduledTimeMs)
	if err != nil {
		s.logger.Debug("retrograde spike rejected",
			zap.Float64("scheduled_ms", rap.ScheduledTimeMs),
			zap.Float64("current_ms", s.CurrentTimeMs()),
			zap.Error(err))
		return err
	}
	s.ring[idx].retrograde = append(s.ring[idx].retrograde, rap)
	s.retrogradeScheduled.Add(1)
	return nil
}

// PendingEventCount reports the number of events currently resident in the
// ring across both classes.
func (s *Scheduler) PendingEventCount() int {
	s.ringMu.Lock()
	defer s.ringMu.Unlock()
	total := 0
	for i := range s.ring {
		total += len(s.ring[i].forward) + len(s.ring[i].retrograde)
	}
	return total
}

// =================================================================================
// ADVANCEMENT LOOP
// =================================================================================

// advancementLoop runs on its own goroutine for the lifetime of one
// Start/Stop cycle.
func (s *Scheduler) advancementLoop() {
	defer close(s.loopDone)

	wallStart := time.Now()
	simStart := s.CurrentTimeMs()

	for s.state.Load() == stateRunning {
		iterStart := time.Now()

		// Drain the current slot and advance the clock atomically with
		// respect to Schedule*: nothing can be added to a slice after it
		// has been emptied for this cycle.
		s.ringMu.Lock()
		cur := s.CurrentTimeMs()
		idx := int(s.absSlot(cur) % int64(s.cfg.SlotCount))
		forward := s.ring[idx].forward
		retrograde := s.ring[idx].retrograde
		s.ring[idx].forward = nil
		s.ring[idx].retrograde = nil
		s.storeTime(cur + s.cfg.StepMs)
		s.ringMu.Unlock()

		// Fan the slice out across the pool, one task per event.
		for _, ap := range forward {
			ev := ap
			s.workers.Submit(func() { s.dispatchForward(ev) })
			s.forwardDelivered.Add(1)
		}
		for _, rap := range retrograde {
			ev := rap
			s.workers.Submit(func() { s.dispatchRetrograde(ev) })
			s.retrogradeDelivered.Add(1)
		}

		s.iterations.Add(1)
		s.recordStep(float64(time.Since(iterStart).Nanoseconds()))

		if s.realTimeSync.Load() {
			// Pace against the wall clock and account the drift. Behind
			// schedule the loop proceeds immediately; events are never
			// dropped to catch up.
			simElapsed := s.CurrentTimeMs() - simStart
			wallElapsed := float64(time.Since(wallStart).Microseconds()) / 1000.0
			if sleep := simElapsed - wallElapsed; sleep > 0 {
				time.Sleep(time.Duration(sleep * float64(time.Millisecond)))
			}
			s.statsMu.Lock()
			s.driftMs = (float64(time.Since(wallStart).Microseconds()) / 1000.0) - simElapsed
			s.statsMu.Unlock()
		} else {
			// Free-running: yield so schedulers on busy machines do not
			// starve the delivery workers.
			runtime.Gosched()
		}
	}
}

// dispatchForward resolves the dendrite of one forward event and delivers.
// A vanished target is logged and counted; it never halts the loop.
func (s *Scheduler) dispatchForward(ap types.ActionPotential) {
	s.targetMu.RLock()
	target, ok := s.dendrites[ap.DendriteID]
	s.targetMu.RUnlock()

	if !ok {
		s.unknownTargetDrops.Add(1)
		s.logger.Warn("forward spike dropped: unknown dendrite",
			zap.Uint64("dendrite_id", ap.DendriteID),
			zap.Uint64("synapse_id", ap.SynapseID),
			zap.Float64("scheduled_ms", ap.ScheduledTimeMs))
		return
	}
	target.DeliverSpike(ap)
}

// dispatchRetrograde resolves the synapse endpoint of one retrograde event
// and delivers.
func (s *Scheduler) dispatchRetrograde(rap types.RetrogradeActionPotential) {
	s.targetMu.RLock()
	target, ok := s.retrogrades[rap.SynapseID]
	s.targetMu.RUnlock()

	if !ok {
		s.unknownTargetDrops.Add(1)
		s.logger.Warn("retrograde spike dropped: unknown synapse",
			zap.Uint64("synapse_id", rap.SynapseID),
			zap.Float64("scheduled_ms", rap.ScheduledTimeMs))
		return
	}
	target.DeliverRetrograde(rap)
}

// =================================================================================
// STATISTICS
// =================================================================================

// recordStep stores one iteration duration into the sample ring.
func (s *Scheduler) recordStep(ns float64) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if len(s.stepSamples) < STEP_SAMPLE_CAPACITY {
		s.stepSamples = append(s.stepSamples, ns)
		return
	}
	s.stepSamples[s.sampleNext] = ns
	s.sampleNext = (s.sampleNext + 1) % STEP_SAMPLE_CAPACITY
}

// GetStats returns a snapshot of counters and recent timing figures.
func (s *Scheduler) GetStats() Stats {
	st := Stats{
		Iterations:          s.iterations.Load(),
		ForwardScheduled:    s.forwardScheduled.Load(),
		RetrogradeScheduled: s.retrogradeScheduled.Load(),
		ForwardDelivered:    s.forwardDelivered.Load(),
		RetrogradeDelivered: s.retrogradeDelivered.Load(),
		UnknownTargetDrops:  s.unknownTargetDrops.Load(),
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if len(s.stepSamples) > 0 {
		st.AvgStepNs = stat.Mean(s.stepSamples, nil)
		st.MaxStepNs = floats.Max(s.stepSamples)
	}
	st.DriftMs = s.driftMs
	return st
}
