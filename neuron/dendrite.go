// neuron/dendrite.go
package neuron

import (
	"sync"

	"github.com/SynapticNetworks/synfire/types"
)

// SpikeDeliveryFunc hands an arriving action potential onward to the
// component that can resolve the target neuron. The propagator installs
// this callback when the dendrite is registered; the dendrite itself never
// holds (or extends the lifetime of) the propagator.
type SpikeDeliveryFunc func(targetNeuronID uint64, ap types.ActionPotential)

// Dendrite is the input process of a neuron. Forward spikes scheduled
// through the event ring terminate here; the dendrite forwards each arrival
// to its target neuron through the injected delivery callback.
//
// BIOLOGICAL CONTEXT:
// Dendrites are where synaptic inputs converge on a cell. In this engine
// they are deliberately thin: integration happens in the neuron's rolling
// window, and the dendrite is the addressable delivery endpoint plus the
// record of which synapses terminate on it.
type Dendrite struct {
	id             uint64
	targetNeuronID uint64

	mu         sync.RWMutex
	synapseIDs []uint64
	deliver    SpikeDeliveryFunc
}

// NewDendrite creates a dendrite attached to the given neuron.
func NewDendrite(id, targetNeuronID uint64) *Dendrite {
	return &Dendrite{
		id:             id,
		targetNeuronID: targetNeuronID,
		synapseIDs:     make([]uint64, 0, 8),
	}
}

// ID returns the dendrite identifier.
func (d *Dendrite) ID() uint64 { return d.id }

// TargetNeuronID returns the neuron this dendrite belongs to.
func (d *Dendrite) TargetNeuronID() uint64 { return d.targetNeuronID }

// AddSynapseID appends an inbound synapse. Duplicates are ignored.
func (d *Dendrite) AddSynapseID(synapseID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.synapseIDs {
		if id == synapseID {
			return
		}
	}
	d.synapseIDs = append(d.synapseIDs, synapseID)
}

// SynapseIDs returns a copy of the inbound synapse list.
func (d *Dendrite) SynapseIDs() []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]uint64, len(d.synapseIDs))
	copy(out, d.synapseIDs)
	return out
}

// SetDeliveryCallback installs the spike hand-off used by DeliverSpike.
func (d *Dendrite) SetDeliveryCallback(fn SpikeDeliveryFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliver = fn
}

// DeliverSpike receives a forward spike from the scheduler and hands it to
// the target neuron via the injected callback. A dendrite with no callback
// silently absorbs the spike; that only happens before wiring is complete.
func (d *Dendrite) DeliverSpike(ap types.ActionPotential) {
	d.mu.RLock()
	deliver := d.deliver
	d.mu.RUnlock()

	if deliver != nil {
		deliver(d.targetNeuronID, ap)
	}
}
