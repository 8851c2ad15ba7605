/*
=================================================================================
GRAPH REGISTRIES - ENTITY MAPS AND THE DENDRITE REVERSE INDEX
=================================================================================

The registry owns the four primary entity maps (neurons, axons, synapses,
dendrites) and the one derived structure the engine cannot live without:
the reverse index from dendrite id to inbound synapses. The reverse index
is what makes postsynaptic weight updates O(degree) instead of O(total
synapses); it is built incrementally at synapse registration and is never
rebuilt at runtime.

Each kind is guarded by its own lock, so lookups of one kind never
serialize against unrelated writes of another. The reverse index shares
the synapse lock, ordered after the synapse map write, which keeps
invariant I4 (every registered synapse appears in its dendrite's bucket)
observable at all times.
=================================================================================
*/

package propagator

import (
	"sync"

	"github.com/SynapticNetworks/synfire/neuron"
	"github.com/SynapticNetworks/synfire/synapse"
	"github.com/SynapticNetworks/synfire/types"
)

// Registry owns the entity maps and the dendrite reverse index.
type Registry struct {
	neuronMu sync.RWMutex
	neurons  map[uint64]*neuron.Neuron

	axonMu sync.RWMutex
	axons  map[uint64]*neuron.Axon

	dendriteMu sync.RWMutex
	dendrites  map[uint64]*neuron.Dendrite

	synapseMu sync.RWMutex
	synapses  map[uint64]*synapse.Synapse
	// dendrite id -> inbound synapses, maintained on synapse registration
	inboundIndex map[uint64][]*synapse.Synapse
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		neurons:      make(map[uint64]*neuron.Neuron),
		axons:        make(map[uint64]*neuron.Axon),
		dendrites:    make(map[uint64]*neuron.Dendrite),
		synapses:     make(map[uint64]*synapse.Synapse),
		inboundIndex: make(map[uint64][]*synapse.Synapse),
	}
}

// RegisterNeuron inserts a neuron, keyed by id. Re-registration replaces.
func (r *Registry) RegisterNeuron(n *neuron.Neuron) {
	if n == nil {
		return
	}
	r.neuronMu.Lock()
	defer r.neuronMu.Unlock()
	r.neurons[n.ID()] = n
}

// RegisterAxon inserts an axon, keyed by id.
func (r *Registry) RegisterAxon(a *neuron.Axon) {
	if a == nil {
		return
	}
	r.axonMu.Lock()
	defer r.axonMu.Unlock()
	r.axons[a.ID()] = a
}

// RegisterDendrite inserts a dendrite, keyed by id.
func (r *Registry) RegisterDendrite(d *neuron.Dendrite) {
	if d == nil {
		return
	}
	r.dendriteMu.Lock()
	defer r.dendriteMu.Unlock()
	r.dendrites[d.ID()] = d
}

// RegisterSynapse inserts a synapse and extends the reverse index bucket of
// its dendrite. Registering the same synapse twice is idempotent for the
// index as well.
func (r *Registry) RegisterSynapse(s *synapse.Synapse) {
	if s == nil {
		return
	}
	r.synapseMu.Lock()
	defer r.synapseMu.Unlock()

	if _, exists := r.synapses[s.ID()]; exists {
		r.synapses[s.ID()] = s
		return
	}
	r.synapses[s.ID()] = s
	r.inboundIndex[s.DendriteID()] = append(r.inboundIndex[s.DendriteID()], s)
}

// Neuron resolves a neuron by id. Identifiers outside the neuron range
// resolve to nothing.
func (r *Registry) Neuron(id uint64) (*neuron.Neuron, bool) {
	if types.KindOf(id) != types.KindNeuron {
		return nil, false
	}
	r.neuronMu.RLock()
	defer r.neuronMu.RUnlock()
	n, ok := r.neurons[id]
	return n, ok
}

// Axon resolves an axon by id.
func (r *Registry) Axon(id uint64) (*neuron.Axon, bool) {
	if types.KindOf(id) != types.KindAxon {
		return nil, false
	}
	r.axonMu.RLock()
	defer r.axonMu.RUnlock()
	a, ok := r.axons[id]
	return a, ok
}

// Dendrite resolves a dendrite by id.
func (r *Registry) Dendrite(id uint64) (*neuron.Dendrite, bool) {
	if types.KindOf(id) != types.KindDendrite {
		return nil, false
	}
	r.dendriteMu.RLock()
	defer r.dendriteMu.RUnlock()
	d, ok := r.dendrites[id]
	return d, ok
}

// Synapse resolves a synapse by id.
func (r *Registry) Synapse(id uint64) (*synapse.Synapse, bool) {
	if types.KindOf(id) != types.KindSynapse {
		return nil, false
	}
	r.synapseMu.RLock()
	defer r.synapseMu.RUnlock()
	s, ok := r.synapses[id]
	return s, ok
}

// DendriteInbound returns the synapses terminating on a dendrite. The
// returned slice is a copy; walking it is O(degree).
func (r *Registry) DendriteInbound(dendriteID uint64) []*synapse.Synapse {
	r.synapseMu.RLock()
	defer r.synapseMu.RUnlock()
	bucket := r.inboundIndex[dendriteID]
	out := make([]*synapse.Synapse, len(bucket))
	copy(out, bucket)
	return out
}

// NeuronInboundSynapses concatenates the inbound buckets of every dendrite
// belonging to a neuron. O(degree) in the neuron's total inbound synapse
// count; this is the walk behind reward-modulated weight updates.
func (r *Registry) NeuronInboundSynapses(neuronID uint64) []*synapse.Synapse {
	n, ok := r.Neuron(neuronID)
	if !ok {
		return nil
	}
	dendriteIDs := n.DendriteIDs()

	r.synapseMu.RLock()
	defer r.synapseMu.RUnlock()
	var out []*synapse.Synapse
	for _, dID := range dendriteIDs {
		out = append(out, r.inboundIndex[dID]...)
	}
	return out
}

// NeuronCount returns the number of registered neurons.
func (r *Registry) NeuronCount() int {
	r.neuronMu.RLock()
	defer r.neuronMu.RUnlock()
	return len(r.neurons)
}

// SynapseCount returns the number of registered synapses.
func (r *Registry) SynapseCount() int {
	r.synapseMu.RLock()
	defer r.synapseMu.RUnlock()
	return len(r.synapses)
}

// EachNeuron invokes fn for every registered neuron. The iteration works on
// a snapshot, so fn may freely call back into the registry.
func (r *Registry) EachNeuron(fn func(*neuron.Neuron)) {
	r.neuronMu.RLock()
	snapshot := make([]*neuron.Neuron, 0, len(r.neurons))
	for _, n := range r.neurons {
		snapshot = append(snapshot, n)
	}
	r.neuronMu.RUnlock()

	for _, n := range snapshot {
		fn(n)
	}
}
