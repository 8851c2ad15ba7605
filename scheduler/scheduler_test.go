package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SynapticNetworks/synfire/pool"
	"github.com/SynapticNetworks/synfire/types"
)

// mockDendrite records delivered forward spikes.
type mockDendrite struct {
	id uint64

	mu       sync.Mutex
	received []types.ActionPotential
}

func (m *mockDendrite) ID() uint64 { return m.id }

func (m *mockDendrite) DeliverSpike(ap types.ActionPotential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, ap)
}

func (m *mockDendrite) spikes() []types.ActionPotential {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ActionPotential, len(m.received))
	copy(out, m.received)
	return out
}

// mockSynapse records delivered retrograde spikes.
type mockSynapse struct {
	id uint64

	mu       sync.Mutex
	received []types.RetrogradeActionPotential
}

func (m *mockSynapse) ID() uint64 { return m.id }

func (m *mockSynapse) DeliverRetrograde(rap types.RetrogradeActionPotential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, rap)
}

func (m *mockSynapse) spikes() []types.RetrogradeActionPotential {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.RetrogradeActionPotential, len(m.received))
	copy(out, m.received)
	return out
}

func newTestScheduler(t *testing.T, slots int, stepMs float64, realTime bool, workers int) (*Scheduler, *pool.Pool) {
	t.Helper()
	p := pool.New(workers, nil)
	s := New(types.SchedulerConfig{SlotCount: slots, StepMs: stepMs, RealTimeSync: realTime}, p, nil)
	t.Cleanup(func() {
		s.Stop()
		p.Close()
	})
	return s, p
}

// waitUntil polls a condition with a deadline, the idiom used throughout
// these suites for asynchronous delivery assertions.
func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestScheduler_StartStopIdempotent verifies the lifecycle state machine.
func TestScheduler_StartStopIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t, 100, 1.0, false, 2)

	assert.False(t, s.IsRunning())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start(), "second start is a no-op")

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop() // second stop is a no-op
}

// TestScheduler_ScheduleRequiresRunning verifies the SchedulerNotRunning
// error: the core never queues into an unstarted scheduler.
func TestScheduler_ScheduleRequiresRunning(t *testing.T) {
	s, _ := newTestScheduler(t, 100, 1.0, false, 2)

	err := s.ScheduleSpike(types.ActionPotential{ScheduledTimeMs: 5})
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)

	err = s.ScheduleRetrogradeSpike(types.RetrogradeActionPotential{ScheduledTimeMs: 5})
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)
}

// TestScheduler_AdmissionBoundaries pins the horizon arithmetic at
// current_time = 0 with a ten-slot, one-millisecond ring: 9.5 is the last
// admissible time, 10.5 overflows, negative times are in the past.
func TestScheduler_AdmissionBoundaries(t *testing.T) {
	s, _ := newTestScheduler(t, 10, 1.0, false, 1)

	idx, err := s.admit(9.5)
	require.NoError(t, err)
	assert.Equal(t, 9, idx)

	_, err = s.admit(10.5)
	assert.ErrorIs(t, err, ErrHorizonOverflow)

	_, err = s.admit(10.0)
	assert.ErrorIs(t, err, ErrHorizonOverflow, "the horizon bound is exclusive")

	_, err = s.admit(-0.5)
	assert.ErrorIs(t, err, ErrSpikeInPast)

	idx, err = s.admit(0.0)
	require.NoError(t, err, "the still-undrained current slot admits")
	assert.Equal(t, 0, idx)
}

// TestScheduler_PastSlotRejected verifies M2 behaviourally: once a slice
// has drained, nothing can be scheduled into it.
func TestScheduler_PastSlotRejected(t *testing.T) {
	s, _ := newTestScheduler(t, 1000, 1.0, false, 2)
	require.NoError(t, s.Start())

	waitUntil(t, 5*time.Second, "clock to pass 100ms", func() bool {
		return s.CurrentTimeMs() >= 100
	})

	cur := s.CurrentTimeMs()
	err := s.ScheduleSpike(types.ActionPotential{ScheduledTimeMs: cur - 50})
	assert.ErrorIs(t, err, ErrSpikeInPast)
}

// TestScheduler_MonotonicTime verifies M1: the clock never runs backwards
// and advances while running.
func TestScheduler_MonotonicTime(t *testing.T) {
	s, _ := newTestScheduler(t, 1000, 1.0, false, 2)
	require.NoError(t, s.Start())

	prev := s.CurrentTimeMs()
	first := prev
	for i := 0; i < 1000; i++ {
		cur := s.CurrentTimeMs()
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
	waitUntil(t, 5*time.Second, "clock advancement", func() bool {
		return s.CurrentTimeMs() > first
	})
}

// TestScheduler_ForwardDelivery verifies that a scheduled forward spike
// reaches its registered dendrite, carrying its payload untouched. The
// scheduler is paced in real time so the schedule-ahead margin holds.
func TestScheduler_ForwardDelivery(t *testing.T) {
	s, _ := newTestScheduler(t, 10000, 1.0, true, 4)
	dendrite := &mockDendrite{id: types.DendriteIDStart}
	s.RegisterDendrite(dendrite)
	require.NoError(t, s.Start())

	cur := s.CurrentTimeMs()
	ap := types.ActionPotential{
		SynapseID:       types.SynapseIDStart,
		DendriteID:      dendrite.id,
		ScheduledTimeMs: cur + 50,
		Amplitude:       0.75,
		DispatchTimeMs:  cur,
	}
	require.NoError(t, s.ScheduleSpike(ap))

	waitUntil(t, 5*time.Second, "forward delivery", func() bool {
		return len(dendrite.spikes()) == 1
	})
	got := dendrite.spikes()[0]
	assert.Equal(t, ap, got)
	assert.GreaterOrEqual(t, s.CurrentTimeMs(), got.ScheduledTimeMs,
		"I1: no event is delivered before its scheduled time")
}

// TestScheduler_RetrogradeDelivery verifies the second event class reaches
// its registered synapse endpoint.
func TestScheduler_RetrogradeDelivery(t *testing.T) {
	s, _ := newTestScheduler(t, 10000, 1.0, true, 4)
	syn := &mockSynapse{id: types.SynapseIDStart}
	s.RegisterSynapse(syn)
	require.NoError(t, s.Start())

	cur := s.CurrentTimeMs()
	rap := types.RetrogradeActionPotential{
		SynapseID:            syn.id,
		PostsynapticNeuronID: types.NeuronIDStart,
		ScheduledTimeMs:      cur + 40,
		DispatchTimeMs:       cur + 10,
		LastFiringTimeMs:     cur + 10,
	}
	require.NoError(t, s.ScheduleRetrogradeSpike(rap))

	waitUntil(t, 5*time.Second, "retrograde delivery", func() bool {
		return len(syn.spikes()) == 1
	})
	assert.Equal(t, rap, syn.spikes()[0])
}

// TestScheduler_SlotOrdering verifies that events in earlier slices are
// delivered strictly before events in later slices. A single-worker pool
// makes the delivery order observable.
func TestScheduler_SlotOrdering(t *testing.T) {
	s, _ := newTestScheduler(t, 10000, 1.0, true, 1)
	dendrite := &mockDendrite{id: types.DendriteIDStart}
	s.RegisterDendrite(dendrite)
	require.NoError(t, s.Start())

	cur := s.CurrentTimeMs()
	late := types.ActionPotential{DendriteID: dendrite.id, ScheduledTimeMs: cur + 80, Amplitude: 2}
	early := types.ActionPotential{DendriteID: dendrite.id, ScheduledTimeMs: cur + 40, Amplitude: 1}
	require.NoError(t, s.ScheduleSpike(late)) // scheduled first, due later
	require.NoError(t, s.ScheduleSpike(early))

	waitUntil(t, 5*time.Second, "both deliveries", func() bool {
		return len(dendrite.spikes()) == 2
	})
	got := dendrite.spikes()
	assert.Equal(t, 1.0, got[0].Amplitude, "the earlier slice delivers first")
	assert.Equal(t, 2.0, got[1].Amplitude)
}

// TestScheduler_StopPreservesPending verifies R2: scheduling then stopping
// before the target slices drain loses nothing.
func TestScheduler_StopPreservesPending(t *testing.T) {
	s, _ := newTestScheduler(t, 10000, 1.0, true, 2)
	require.NoError(t, s.Start())

	cur := s.CurrentTimeMs()
	require.NoError(t, s.ScheduleSpike(types.ActionPotential{
		DendriteID: types.DendriteIDStart, ScheduledTimeMs: cur + 5000}))
	require.NoError(t, s.ScheduleRetrogradeSpike(types.RetrogradeActionPotential{
		SynapseID: types.SynapseIDStart, ScheduledTimeMs: cur + 5000}))

	s.Stop()
	assert.Equal(t, 2, s.PendingEventCount(), "no loss in the absence of advancement")
}

// TestScheduler_UnknownTargetDropIsCounted verifies the one legal silent
// drop path is not silent: it is counted and logged.
func TestScheduler_UnknownTargetDropIsCounted(t *testing.T) {
	s, _ := newTestScheduler(t, 10000, 1.0, true, 2)
	require.NoError(t, s.Start())

	cur := s.CurrentTimeMs()
	require.NoError(t, s.ScheduleSpike(types.ActionPotential{
		DendriteID:      types.DendriteIDStart + 77, // never registered
		ScheduledTimeMs: cur + 30,
	}))

	waitUntil(t, 5*time.Second, "drop accounting", func() bool {
		return s.GetStats().UnknownTargetDrops == 1
	})
}

// TestScheduler_StatsAccumulate sanity-checks the iteration counters and
// timing figures.
func TestScheduler_StatsAccumulate(t *testing.T) {
	s, _ := newTestScheduler(t, 1000, 1.0, false, 2)
	require.NoError(t, s.Start())

	waitUntil(t, 5*time.Second, "iterations", func() bool {
		return s.GetStats().Iterations >= 100
	})
	st := s.GetStats()
	assert.Greater(t, st.AvgStepNs, 0.0)
	assert.GreaterOrEqual(t, st.MaxStepNs, st.AvgStepNs)
}

// TestScheduler_RealTimePacing verifies that with sync on, simulated time
// tracks the wall clock instead of free-running.
func TestScheduler_RealTimePacing(t *testing.T) {
	s, _ := newTestScheduler(t, 10000, 1.0, true, 2)
	require.NoError(t, s.Start())

	time.Sleep(100 * time.Millisecond)
	elapsedSim := s.CurrentTimeMs()

	// Paced advancement stays within the same order of magnitude as the
	// wall clock; free-running would be millions of steps by now.
	assert.Less(t, elapsedSim, 1000.0)
	assert.Greater(t, elapsedSim, 20.0)
}
