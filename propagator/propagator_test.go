package propagator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SynapticNetworks/synfire/neuron"
	"github.com/SynapticNetworks/synfire/pool"
	"github.com/SynapticNetworks/synfire/scheduler"
	"github.com/SynapticNetworks/synfire/synapse"
	"github.com/SynapticNetworks/synfire/types"
)

func neuronConfig() types.NeuronConfig {
	return types.NeuronConfig{
		WindowSizeMs:         50.0,
		SimilarityThreshold:  0.8,
		MaxReferencePatterns: 10,
		Metric:               types.MetricCosine,
		HistogramBins:        25,
	}
}

// newTestPropagator wires a propagator over a real-time paced scheduler.
func newTestPropagator(t *testing.T) *Propagator {
	t.Helper()
	p := pool.New(4, nil)
	sched := scheduler.New(types.SchedulerConfig{
		SlotCount: 10000, StepMs: 1.0, RealTimeSync: true,
	}, p, nil)
	t.Cleanup(func() {
		sched.Stop()
		p.Close()
	})
	return New(sched, nil)
}

// buildSimpleCircuit wires pre -> synapse -> post and returns the pieces.
func buildSimpleCircuit(t *testing.T, prop *Propagator, weight, delayMs float64) (pre, post *neuron.Neuron, syn *synapse.Synapse) {
	t.Helper()
	factory := types.NewFactory()

	preID, _ := factory.NextNeuronID()
	postID, _ := factory.NextNeuronID()
	axonID, _ := factory.NextAxonID()
	dendriteID, _ := factory.NextDendriteID()
	synapseID, _ := factory.NextSynapseID()

	pre = neuron.NewNeuron(preID, neuronConfig())
	post = neuron.NewNeuron(postID, neuronConfig())
	axon := neuron.NewAxon(axonID, preID)
	dendrite := neuron.NewDendrite(dendriteID, postID)
	syn = synapse.New(synapseID, axonID, dendriteID, weight, delayMs)

	pre.SetAxonID(axonID)
	post.AddDendriteID(dendriteID)
	axon.AddSynapseID(synapseID)
	dendrite.AddSynapseID(synapseID)

	prop.RegisterNeuron(pre)
	prop.RegisterNeuron(post)
	prop.RegisterAxon(axon)
	prop.RegisterDendrite(dendrite)
	prop.RegisterSynapse(syn)
	return pre, post, syn
}

// TestRegistry_RangeCheckedLookups verifies that lookups reject ids outside
// the kind's range even if a map entry could never exist for them.
func TestRegistry_RangeCheckedLookups(t *testing.T) {
	r := NewRegistry()
	n := neuron.NewNeuron(types.NeuronIDStart, neuronConfig())
	r.RegisterNeuron(n)

	got, ok := r.Neuron(types.NeuronIDStart)
	require.True(t, ok)
	assert.Same(t, n, got)

	_, ok = r.Neuron(types.AxonIDStart)
	assert.False(t, ok, "axon-range id must not resolve as a neuron")
	_, ok = r.Axon(types.NeuronIDStart)
	assert.False(t, ok)
	_, ok = r.Neuron(types.NeuronIDStart + 1)
	assert.False(t, ok, "unknown id resolves to nothing")
}

// TestRegistry_ReverseIndex verifies I4: every registered synapse appears
// in its dendrite's inbound bucket, exactly once even after
// re-registration.
func TestRegistry_ReverseIndex(t *testing.T) {
	r := NewRegistry()

	s1 := synapse.New(types.SynapseIDStart, types.AxonIDStart, types.DendriteIDStart, 1, 1)
	s2 := synapse.New(types.SynapseIDStart+1, types.AxonIDStart, types.DendriteIDStart, 1, 1)
	s3 := synapse.New(types.SynapseIDStart+2, types.AxonIDStart, types.DendriteIDStart+1, 1, 1)

	r.RegisterSynapse(s1)
	r.RegisterSynapse(s2)
	r.RegisterSynapse(s3)
	r.RegisterSynapse(s1) // idempotent

	inbound := r.DendriteInbound(types.DendriteIDStart)
	require.Len(t, inbound, 2)
	assert.Same(t, s1, inbound[0])
	assert.Same(t, s2, inbound[1])

	other := r.DendriteInbound(types.DendriteIDStart + 1)
	require.Len(t, other, 1)
	assert.Same(t, s3, other[0])
}

// TestRegistry_NeuronInboundSynapses verifies the dendrite-wise
// concatenation behind reward-modulated updates.
func TestRegistry_NeuronInboundSynapses(t *testing.T) {
	r := NewRegistry()

	n := neuron.NewNeuron(types.NeuronIDStart, neuronConfig())
	n.AddDendriteID(types.DendriteIDStart)
	n.AddDendriteID(types.DendriteIDStart + 1)
	r.RegisterNeuron(n)

	s1 := synapse.New(types.SynapseIDStart, types.AxonIDStart, types.DendriteIDStart, 1, 1)
	s2 := synapse.New(types.SynapseIDStart+1, types.AxonIDStart, types.DendriteIDStart+1, 1, 1)
	sOther := synapse.New(types.SynapseIDStart+2, types.AxonIDStart, types.DendriteIDStart+9, 1, 1)
	r.RegisterSynapse(s1)
	r.RegisterSynapse(s2)
	r.RegisterSynapse(sOther)

	inbound := r.NeuronInboundSynapses(types.NeuronIDStart)
	assert.ElementsMatch(t, []*synapse.Synapse{s1, s2}, inbound)

	assert.Nil(t, r.NeuronInboundSynapses(types.NeuronIDStart+5), "unknown neuron has no inbound set")
}

// TestPropagator_ApplySTDPCurve pins the exponential rule on both sides of
// the timing axis plus the zero case.
func TestPropagator_ApplySTDPCurve(t *testing.T) {
	prop := newTestPropagator(t)
	_, _, syn := buildSimpleCircuit(t, prop, 1.0, 1.0)
	prop.SetSTDPParameters(0.05, 0.05, 20.0, 20.0)

	// LTP: deltaT = +5 -> +0.05 * exp(-5/20)
	require.NoError(t, prop.ApplySTDP(syn.ID(), 5.0))
	expected := 1.0 + 0.05*math.Exp(-5.0/20.0)
	assert.InDelta(t, expected, syn.Weight(), 1e-9)

	// LTD: deltaT = -5 -> -0.05 * exp(-5/20)
	syn.SetWeight(1.0)
	require.NoError(t, prop.ApplySTDP(syn.ID(), -5.0))
	expected = 1.0 - 0.05*math.Exp(-5.0/20.0)
	assert.InDelta(t, expected, syn.Weight(), 1e-9)

	// Simultaneity changes nothing.
	syn.SetWeight(1.0)
	require.NoError(t, prop.ApplySTDP(syn.ID(), 0.0))
	assert.Equal(t, 1.0, syn.Weight())

	// I3: the clamp holds at both rails.
	syn.SetWeight(1.9999)
	for i := 0; i < 100; i++ {
		require.NoError(t, prop.ApplySTDP(syn.ID(), 1.0))
	}
	assert.LessOrEqual(t, syn.Weight(), 2.0)

	syn.SetWeight(0.0001)
	for i := 0; i < 100; i++ {
		require.NoError(t, prop.ApplySTDP(syn.ID(), -1.0))
	}
	assert.GreaterOrEqual(t, syn.Weight(), 0.0)

	assert.ErrorIs(t, prop.ApplySTDP(types.SynapseIDStart+999, 1.0), ErrUnknownSynapse)
}

// TestPropagator_SendAcknowledgment verifies the postsynaptic-led STDP
// entry point: the acknowledgment's pre/post pair drives the same rule.
func TestPropagator_SendAcknowledgment(t *testing.T) {
	prop := newTestPropagator(t)
	_, _, syn := buildSimpleCircuit(t, prop, 1.0, 1.0)
	prop.SetSTDPParameters(0.05, 0.05, 20.0, 20.0)

	ack := types.SpikeAcknowledgment{
		SynapseID:       syn.ID(),
		PreSpikeTimeMs:  10.0,
		PostSpikeTimeMs: 14.0,
	}
	require.NoError(t, prop.SendAcknowledgment(ack))
	assert.InDelta(t, 1.0+0.05*math.Exp(-4.0/20.0), syn.Weight(), 1e-9)
}

// TestPropagator_RewardModulatedSTDP verifies S5 semantics: every inbound
// synapse of the neuron moves by aPlus * (reward - 1), nothing else moves.
func TestPropagator_RewardModulatedSTDP(t *testing.T) {
	prop := newTestPropagator(t)
	factory := types.NewFactory()

	neuronID, _ := factory.NextNeuronID()
	n := neuron.NewNeuron(neuronID, neuronConfig())
	dendriteID, _ := factory.NextDendriteID()
	n.AddDendriteID(dendriteID)
	prop.RegisterNeuron(n)
	prop.RegisterDendrite(neuron.NewDendrite(dendriteID, neuronID))

	inbound := make([]*synapse.Synapse, 0, 100)
	for i := 0; i < 100; i++ {
		synapseID, _ := factory.NextSynapseID()
		s := synapse.New(synapseID, types.AxonIDStart, dendriteID, 0.5, 1.0)
		prop.RegisterSynapse(s)
		inbound = append(inbound, s)
	}

	// A bystander synapse on an unrelated dendrite must not move.
	bystanderID, _ := factory.NextSynapseID()
	bystander := synapse.New(bystanderID, types.AxonIDStart, types.DendriteIDStart+500, 0.5, 1.0)
	prop.RegisterSynapse(bystander)

	prop.SetSTDPParameters(0.05, 0.05, 20.0, 20.0)
	require.NoError(t, prop.ApplyRewardModulatedSTDP(neuronID, 2.5))

	for _, s := range inbound {
		assert.InDelta(t, 0.575, s.Weight(), 1e-12)
	}
	assert.Equal(t, 0.5, bystander.Weight())

	assert.ErrorIs(t, prop.ApplyRewardModulatedSTDP(types.NeuronIDStart+999, 2.0), ErrUnknownNeuron)
}

// TestPropagator_LayerActivation verifies order preservation and the
// zero-for-unknown rule.
func TestPropagator_LayerActivation(t *testing.T) {
	prop := newTestPropagator(t)
	factory := types.NewFactory()

	trainedID, _ := factory.NextNeuronID()
	trained := neuron.NewNeuron(trainedID, neuronConfig())
	trained.InsertSpike(10.0)
	trained.InsertSpike(13.0)
	trained.LearnCurrentPattern()
	prop.RegisterNeuron(trained)

	blankID, _ := factory.NextNeuronID()
	prop.RegisterNeuron(neuron.NewNeuron(blankID, neuronConfig()))

	unknownID := types.NeuronIDStart + 7777

	activations := prop.LayerActivation([]uint64{blankID, trainedID, unknownID})
	require.Len(t, activations, 3)
	assert.Zero(t, activations[0], "empty library reads 0")
	assert.InDelta(t, 1.0, activations[1], 1e-9, "window still matches the learned pattern")
	assert.Zero(t, activations[2], "unknown neuron reads 0")
}

// TestPropagator_ClearAllSpikes verifies the between-examples reset.
func TestPropagator_ClearAllSpikes(t *testing.T) {
	prop := newTestPropagator(t)
	pre, post, _ := buildSimpleCircuit(t, prop, 1.0, 1.0)

	pre.InsertSpike(5.0)
	post.InsertSpike(6.0)
	prop.ClearAllSpikes()
	assert.Empty(t, pre.SpikeTimes())
	assert.Empty(t, post.SpikeTimes())
}

// TestPropagator_FireNeuronValidation verifies the resolution error paths
// and the terminal-neuron rule.
func TestPropagator_FireNeuronValidation(t *testing.T) {
	prop := newTestPropagator(t)
	factory := types.NewFactory()

	_, err := prop.FireNeuron(types.NeuronIDStart+42, 10.0)
	assert.ErrorIs(t, err, ErrUnknownNeuron)

	// A neuron without an axon is a valid terminal.
	terminalID, _ := factory.NextNeuronID()
	prop.RegisterNeuron(neuron.NewNeuron(terminalID, neuronConfig()))
	count, err := prop.FireNeuron(terminalID, 10.0)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// TestPropagator_FireNeuronSchedulesVolley verifies the fan-out arithmetic:
// |signature| forward events plus one retrograde event per synapse, and
// the firing bookkeeping on the presynaptic neuron.
func TestPropagator_FireNeuronSchedulesVolley(t *testing.T) {
	prop := newTestPropagator(t)
	pre, _, _ := buildSimpleCircuit(t, prop, 1.0, 2.0)
	require.NoError(t, pre.SetTemporalSignature([]float64{0, 2, 5}))

	require.NoError(t, prop.sched.Start())
	tFire := prop.sched.CurrentTimeMs() + 100

	count, err := prop.FireNeuron(pre.ID(), tFire)
	require.NoError(t, err)
	assert.Equal(t, 4, count, "three signature offsets plus one retrograde")
	assert.Equal(t, tFire, pre.LastFireTime())
	assert.Equal(t, int64(1), prop.Activity().TotalFirings(pre.ID()))

	// The self-record of the signature sits in the presynaptic window.
	assert.Equal(t, []float64{tFire, tFire + 2, tFire + 5}, pre.SpikeTimes())
}

// TestPropagator_ActivityMonitor verifies rate estimation over a window.
func TestPropagator_ActivityMonitor(t *testing.T) {
	m := NewActivityMonitor()
	m.RecordFiring(types.NeuronIDStart, 100)
	m.RecordFiring(types.NeuronIDStart, 150)
	m.RecordFiring(types.NeuronIDStart, 900)

	assert.Equal(t, int64(3), m.TotalFirings(types.NeuronIDStart))
	// Two firings in [0, 200]: 2 spikes / 0.2 s = 10 Hz.
	assert.InDelta(t, 10.0, m.FiringRate(types.NeuronIDStart, 200, 200), 1e-12)
	assert.Zero(t, m.FiringRate(types.NeuronIDStart+1, 200, 200))

	snapshot := m.Snapshot()
	assert.Equal(t, int64(3), snapshot[types.NeuronIDStart])

	m.Reset()
	assert.Zero(t, m.TotalFirings(types.NeuronIDStart))
}

// waitFor polls a condition with a deadline.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
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

// TestPropagator_EndToEndDelivery verifies the full loop through the
// scheduler: fire, deliver into the postsynaptic window, record the
// incoming spike, and run retrograde STDP with deltaT = 0 (no change).
func TestPropagator_EndToEndDelivery(t *testing.T) {
	prop := newTestPropagator(t)
	pre, post, syn := buildSimpleCircuit(t, prop, 1.0, 3.0)

	require.NoError(t, prop.sched.Start())
	tFire := prop.sched.CurrentTimeMs() + 100

	_, err := prop.FireNeuron(pre.ID(), tFire)
	require.NoError(t, err)

	waitFor(t, 5*time.Second, "postsynaptic delivery", func() bool {
		return len(post.SpikeTimes()) == 1
	})
	assert.Equal(t, []float64{tFire + 3}, post.SpikeTimes())

	log := post.IncomingSpikes(syn.ID())
	require.Len(t, log, 1)
	assert.Equal(t, tFire+3, log[0].ArrivalTimeMs)
	assert.Equal(t, tFire, log[0].DispatchTimeMs)

	// The retrograde event saw lastFire == dispatch, so the weight holds.
	waitFor(t, 5*time.Second, "retrograde processing", func() bool {
		return prop.sched.CurrentTimeMs() > tFire+5
	})
	assert.Equal(t, 1.0, syn.Weight())
}
