/*
=================================================================================
NETWORK PROPAGATOR - FIRING, DELIVERY, AND PLASTICITY GLUE
=================================================================================

The propagator composes the scheduler, the registries, and the neuron core
into the engine's two primary runtime operations:

1. FORWARD FIRING: FireNeuron resolves neuron -> axon -> outbound synapses
   and schedules one forward action potential per synapse per temporal
   signature offset, plus one retrograde action potential per synapse. The
   signature turns a single firing into a temporally spread volley, giving
   every postsynaptic window a rich time-coded input instead of a single
   impulse; that volley is what the similarity readout recognizes.

2. RETROGRADE PLASTICITY: when a retrograde event reaches its synapse, the
   propagator compares the most recent firing time of the neuron named in
   the event (FireNeuron names the firing neuron itself there) against the
   event's dispatch time and applies the classic exponential
   STDP rule:

     deltaT > 0 (pre before post): deltaW = +aPlus  * exp(-deltaT / tauPlus)
     deltaT < 0 (post before pre): deltaW = -aMinus * exp(+deltaT / tauMinus)
     deltaT = 0: no change

   The firing time is read live at delivery, not from the value stamped at
   dispatch, so a training loop can register a postsynaptic firing decision
   after the presynaptic volley was dispatched and still have it count.

The propagator owns the dendrite delivery wiring: registering a dendrite
injects a callback that routes arriving spikes into the target neuron, so
the dendrite never holds (or outlives) the propagator itself.
=================================================================================
*/

package propagator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/SynapticNetworks/synfire/neuron"
	"github.com/SynapticNetworks/synfire/scheduler"
	"github.com/SynapticNetworks/synfire/synapse"
	"github.com/SynapticNetworks/synfire/types"
)

// Resolution failures surfaced to callers.
var (
	ErrUnknownNeuron  = errors.New("neuron is not registered")
	ErrUnknownSynapse = errors.New("synapse is not registered")
)

// Propagator glues the scheduler, the registries, and the neuron core.
type Propagator struct {
	registry *Registry
	sched    *scheduler.Scheduler
	logger   *zap.Logger
	activity *ActivityMonitor

	stdpMu sync.RWMutex
	stdp   types.STDPConfig
}

// New creates a propagator over the given scheduler with a fresh registry
// and default STDP parameters. A nil logger disables logging.
func New(sched *scheduler.Scheduler, logger *zap.Logger) *Propagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{
		registry: NewRegistry(),
		sched:    sched,
		logger:   logger,
		activity: NewActivityMonitor(),
		stdp:     types.CreateDefaultSTDPConfig(),
	}
}

// Registry exposes the propagator's graph registries.
func (p *Propagator) Registry() *Registry { return p.registry }

// Activity exposes the propagator's firing monitor.
func (p *Propagator) Activity() *ActivityMonitor { return p.activity }

// =================================================================================
// REGISTRATION
// =================================================================================

// RegisterNeuron makes a neuron addressable for firing and delivery.
func (p *Propagator) RegisterNeuron(n *neuron.Neuron) {
	p.registry.RegisterNeuron(n)
	p.logger.Debug("registered neuron", zap.Uint64("id", n.ID()))
}

// RegisterAxon makes an axon resolvable during firing.
func (p *Propagator) RegisterAxon(a *neuron.Axon) {
	p.registry.RegisterAxon(a)
	p.logger.Debug("registered axon", zap.Uint64("id", a.ID()))
}

// RegisterDendrite registers a dendrite with the registry and the
// scheduler, and injects the delivery callback that routes arriving spikes
// into the target neuron.
func (p *Propagator) RegisterDendrite(d *neuron.Dendrite) {
	d.SetDeliveryCallback(func(targetNeuronID uint64, ap types.ActionPotential) {
		p.DeliverSpikeToNeuron(targetNeuronID, ap)
	})
	p.registry.RegisterDendrite(d)
	p.sched.RegisterDendrite(d)
	p.logger.Debug("registered dendrite",
		zap.Uint64("id", d.ID()),
		zap.Uint64("target_neuron", d.TargetNeuronID()))
}

// RegisterSynapse registers a synapse with the registry (extending the
// dendrite reverse index) and with the scheduler for retrograde delivery.
func (p *Propagator) RegisterSynapse(s *synapse.Synapse) {
	p.registry.RegisterSynapse(s)
	p.sched.RegisterSynapse(&retrogradeEndpoint{syn: s, prop: p})
	p.logger.Debug("registered synapse",
		zap.Uint64("id", s.ID()),
		zap.Uint64("dendrite_id", s.DendriteID()))
}

// retrogradeEndpoint adapts a synapse into the scheduler's retrograde
// delivery interface, routing arrivals back into the propagator's STDP
// pathway.
type retrogradeEndpoint struct {
	syn  *synapse.Synapse
	prop *Propagator
}

func (e *retrogradeEndpoint) ID() uint64 { return e.syn.ID() }

func (e *retrogradeEndpoint) DeliverRetrograde(rap types.RetrogradeActionPotential) {
	e.prop.handleRetrograde(e.syn, rap)
}

// =================================================================================
// FORWARD FIRING
// =================================================================================

// FireNeuron fires a neuron at tFire: it schedules one forward action
// potential per outbound synapse per temporal signature offset (amplitude =
// the synapse's current weight) and one retrograde action potential per
// synapse at the synaptic delay. Returns the number of successfully
// scheduled events across both classes.
//
// A neuron without an axon is a valid terminal: it fires zero events and
// reports success. An unknown synapse id on the axon is logged and skipped
// without aborting the firing.
//
// Ordering note: the retrograde events are created and scheduled with the
// tFire value first, and FireSignature (which stamps the neuron's firing
// time and self-records the signature) runs last.
func (p *Propagator) FireNeuron(neuronID uint64, tFire float64) (int, error) {
	n, ok := p.registry.Neuron(neuronID)
	if !ok {
		return 0, fmt.Errorf("fire neuron %d: %w", neuronID, ErrUnknownNeuron)
	}

	axonID := n.AxonID()
	if axonID == 0 {
		p.logger.Debug("neuron has no axon", zap.Uint64("neuron_id", neuronID))
		return 0, nil
	}
	axon, ok := p.registry.Axon(axonID)
	if !ok {
		return 0, fmt.Errorf("fire neuron %d: axon %d: %w", neuronID, axonID, ErrUnknownNeuron)
	}

	signature := n.TemporalSignature()
	scheduled := 0

	for _, synapseID := range axon.SynapseIDs() {
		syn, ok := p.registry.Synapse(synapseID)
		if !ok {
			p.logger.Warn("skipping unknown synapse during firing",
				zap.Uint64("neuron_id", neuronID),
				zap.Uint64("synapse_id", synapseID))
			continue
		}

		delay := syn.DelayMs()
		amplitude := syn.Weight()

		for _, offset := range signature {
			ap := types.ActionPotential{
				SynapseID:       synapseID,
				DendriteID:      syn.DendriteID(),
				ScheduledTimeMs: tFire + delay + offset,
				Amplitude:       amplitude,
				DispatchTimeMs:  tFire,
			}
			if err := p.sched.ScheduleSpike(ap); err != nil {
				p.logger.Warn("failed to schedule forward spike",
					zap.Uint64("synapse_id", synapseID),
					zap.Float64("scheduled_ms", ap.ScheduledTimeMs),
					zap.Error(err))
				continue
			}
			scheduled++
		}

		rap := types.RetrogradeActionPotential{
			SynapseID:            synapseID,
			PostsynapticNeuronID: neuronID,
			ScheduledTimeMs:      tFire + delay,
			DispatchTimeMs:       tFire,
			LastFiringTimeMs:     tFire,
		}
		if err := p.sched.ScheduleRetrogradeSpike(rap); err != nil {
			p.logger.Warn("failed to schedule retrograde spike",
				zap.Uint64("synapse_id", synapseID),
				zap.Float64("scheduled_ms", rap.ScheduledTimeMs),
				zap.Error(err))
		} else {
			scheduled++
		}
	}

	n.FireSignature(tFire)
	p.activity.RecordFiring(neuronID, tFire)

	p.logger.Debug("neuron fired",
		zap.Uint64("neuron_id", neuronID),
		zap.Float64("t_fire_ms", tFire),
		zap.Int("events_scheduled", scheduled))
	return scheduled, nil
}

// =================================================================================
// DELIVERY
// =================================================================================

// DeliverSpikeToNeuron inserts an arriving forward spike into the target
// neuron's rolling window and records it in the per-synapse incoming log.
// Called from delivery workers via the dendrite callback. A target that
// vanished between scheduling and delivery is logged and dropped.
func (p *Propagator) DeliverSpikeToNeuron(targetNeuronID uint64, ap types.ActionPotential) bool {
	n, ok := p.registry.Neuron(targetNeuronID)
	if !ok {
		p.logger.Warn("spike dropped: target neuron vanished",
			zap.Uint64("neuron_id", targetNeuronID),
			zap.Uint64("synapse_id", ap.SynapseID))
		return false
	}

	n.InsertSpike(ap.ScheduledTimeMs)
	n.RecordIncomingSpike(ap.SynapseID, ap.ScheduledTimeMs, ap.DispatchTimeMs)
	return true
}

// handleRetrograde applies STDP for one arriving retrograde event.
//
// The timing difference is computed against the LIVE firing state of the
// neuron named in the event: deltaT = lastFireTime - dispatchTime. When
// that neuron has been unregistered, or has never fired, the offset
// stamped at dispatch is the fallback (which yields deltaT = 0 for a
// plain presynaptic firing, hence no change).
func (p *Propagator) handleRetrograde(syn *synapse.Synapse, rap types.RetrogradeActionPotential) {
	deltaT := rap.TemporalOffset()
	if n, ok := p.registry.Neuron(rap.PostsynapticNeuronID); ok {
		if last := n.LastFireTime(); !math.IsInf(last, -1) {
			deltaT = last - rap.DispatchTimeMs
		}
	}
	p.applySTDP(syn, deltaT)
}

// =================================================================================
// PLASTICITY
// =================================================================================

// SetSTDPParameters replaces the four STDP parameters in one call.
func (p *Propagator) SetSTDPParameters(aPlus, aMinus, tauPlus, tauMinus float64) {
	p.stdpMu.Lock()
	defer p.stdpMu.Unlock()
	p.stdp.APlus = aPlus
	p.stdp.AMinus = aMinus
	p.stdp.TauPlusMs = tauPlus
	p.stdp.TauMinusMs = tauMinus
	p.logger.Info("updated STDP parameters",
		zap.Float64("a_plus", aPlus), zap.Float64("a_minus", aMinus),
		zap.Float64("tau_plus", tauPlus), zap.Float64("tau_minus", tauMinus))
}

// STDPParameters returns the current plasticity configuration.
func (p *Propagator) STDPParameters() types.STDPConfig {
	p.stdpMu.RLock()
	defer p.stdpMu.RUnlock()
	return p.stdp
}

// ApplySTDP applies the STDP rule to one synapse given a timing difference
// deltaT = tPost - tPre in milliseconds.
func (p *Propagator) ApplySTDP(synapseID uint64, deltaT float64) error {
	syn, ok := p.registry.Synapse(synapseID)
	if !ok {
		return fmt.Errorf("apply STDP to synapse %d: %w", synapseID, ErrUnknownSynapse)
	}
	p.applySTDP(syn, deltaT)
	return nil
}

func (p *Propagator) applySTDP(syn *synapse.Synapse, deltaT float64) {
	p.stdpMu.RLock()
	cfg := p.stdp
	p.stdpMu.RUnlock()

	var deltaW float64
	switch {
	case deltaT > 0:
		// LTP: the presynaptic dispatch preceded the postsynaptic firing.
		deltaW = cfg.APlus * math.Exp(-deltaT/cfg.TauPlusMs)
	case deltaT < 0:
		// LTD: the postsynaptic firing preceded the dispatch.
		deltaW = -cfg.AMinus * math.Exp(deltaT/cfg.TauMinusMs)
	default:
		return
	}

	newWeight := syn.AdjustWeight(deltaW)
	p.logger.Debug("STDP update",
		zap.Uint64("synapse_id", syn.ID()),
		zap.Float64("delta_t_ms", deltaT),
		zap.Float64("delta_w", deltaW),
		zap.Float64("weight", newWeight))
}

// SendAcknowledgment applies STDP for an externally matched pre/post spike
// pair. This is the postsynaptic-led plasticity entry point used by
// training loops that track spike pairings themselves.
func (p *Propagator) SendAcknowledgment(ack types.SpikeAcknowledgment) error {
	return p.ApplySTDP(ack.SynapseID, ack.TimeDifference())
}

// ApplyRewardModulatedSTDP walks every synapse inbound to a neuron through
// the dendrite reverse index and shifts each weight by
// aPlus * (rewardFactor - 1), clamped. A reward factor above 1 strengthens,
// below 1 weakens. O(degree), not O(total synapses).
func (p *Propagator) ApplyRewardModulatedSTDP(neuronID uint64, rewardFactor float64) error {
	if _, ok := p.registry.Neuron(neuronID); !ok {
		return fmt.Errorf("reward-modulated STDP for neuron %d: %w", neuronID, ErrUnknownNeuron)
	}

	p.stdpMu.RLock()
	aPlus := p.stdp.APlus
	p.stdpMu.RUnlock()

	deltaW := aPlus * (rewardFactor - 1.0)
	updated := 0
	for _, syn := range p.registry.NeuronInboundSynapses(neuronID) {
		syn.AdjustWeight(deltaW)
		updated++
	}

	p.logger.Debug("applied reward-modulated STDP",
		zap.Uint64("neuron_id", neuronID),
		zap.Float64("reward_factor", rewardFactor),
		zap.Int("synapses_updated", updated))
	return nil
}

// =================================================================================
// READOUT AND MAINTENANCE
// =================================================================================

// LayerActivation returns, for each neuron id in order, the best similarity
// between that neuron's rolling window and its learned patterns. Unknown
// neurons contribute 0, preserving positional correspondence with the
// input.
func (p *Propagator) LayerActivation(neuronIDs []uint64) []float64 {
	activations := make([]float64, len(neuronIDs))
	for i, id := range neuronIDs {
		if n, ok := p.registry.Neuron(id); ok {
			activations[i] = n.BestSimilarity()
		} else {
			p.logger.Warn("unknown neuron in layer activation", zap.Uint64("neuron_id", id))
		}
	}
	return activations
}

// ClearAllSpikes empties the rolling window of every registered neuron.
// Training loops call this between examples.
func (p *Propagator) ClearAllSpikes() {
	p.registry.EachNeuron(func(n *neuron.Neuron) { n.ClearSpikes() })
	p.logger.Debug("cleared all spike windows")
}

// NeuronCount returns the number of registered neurons.
func (p *Propagator) NeuronCount() int { return p.registry.NeuronCount() }

// SynapseCount returns the number of registered synapses.
func (p *Propagator) SynapseCount() int { return p.registry.SynapseCount() }
