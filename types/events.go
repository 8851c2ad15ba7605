// types/events.go
package types

// =================================================================================
// SPIKE EVENT STRUCTURES
// =================================================================================
//
// Two event classes travel through the scheduler's time-sliced ring. Forward
// action potentials carry amplitude from a synapse to a postsynaptic
// dendrite; retrograde action potentials travel backwards along a synapse
// carrying the timing information needed for spike-timing dependent
// plasticity. Events are plain values: a scheduled event is owned by the
// ring slot it sits in, then by the single worker that delivers it, and is
// dropped afterwards.
//
// All times are simulation milliseconds.

// ActionPotential is a forward spike scheduled for delivery to a dendrite.
//
// BIOLOGICAL CONTEXT:
// An action potential is the all-or-nothing electrical impulse that travels
// down an axon and across a synapse. Conduction and synaptic transmission
// take time, which is why the event carries a scheduled arrival time rather
// than being delivered instantaneously.
type ActionPotential struct {
	SynapseID       uint64  `json:"synapseId"`       // Synapse the spike crossed
	DendriteID      uint64  `json:"dendriteId"`      // Target dendrite
	ScheduledTimeMs float64 `json:"scheduledTimeMs"` // Arrival time at the dendrite
	Amplitude       float64 `json:"amplitude"`       // Signal strength (synaptic weight at dispatch)
	DispatchTimeMs  float64 `json:"dispatchTimeMs"`  // When the presynaptic neuron fired
}

// RetrogradeActionPotential is the event that carries STDP timing back to a
// synapse. It is created alongside the forward spikes of a firing and
// arrives at the synapse after the synaptic delay.
//
// BIOLOGICAL CONTEXT:
// Retrograde signalling (endocannabinoids, nitric oxide, BDNF) lets a
// synapse observe the correlation between pre- and postsynaptic activity.
// That correlation, expressed as a timing difference, drives long-term
// potentiation and depression.
type RetrogradeActionPotential struct {
	SynapseID            uint64  `json:"synapseId"`            // Synapse to receive the retrograde signal
	PostsynapticNeuronID uint64  `json:"postsynapticNeuronId"` // Neuron whose firing produced the signal
	ScheduledTimeMs      float64 `json:"scheduledTimeMs"`      // Arrival time at the synapse
	DispatchTimeMs       float64 `json:"dispatchTimeMs"`       // When the forward spike was dispatched
	LastFiringTimeMs     float64 `json:"lastFiringTimeMs"`     // Firing time recorded at dispatch
}

// TemporalOffset returns the timing difference recorded at dispatch,
// lastFiringTime - dispatchTime. A non-negative offset means the neuron
// fired at or after the spike was sent (potentiation side); a negative
// offset means it fired before (depression side).
//
// Delivery normally recomputes the offset against the neuron's live firing
// state; this stamped value is the fallback when the neuron is gone.
func (r RetrogradeActionPotential) TemporalOffset() float64 {
	return r.LastFiringTimeMs - r.DispatchTimeMs
}

// SpikeAcknowledgment reports a matched pre/post spike pair at a synapse.
// It is the carrier for postsynaptic-led plasticity: a consumer that
// observes a postsynaptic firing can acknowledge the presynaptic spike that
// contributed to it, and the propagator turns the acknowledgment into an
// STDP weight update.
type SpikeAcknowledgment struct {
	SynapseID       uint64  `json:"synapseId"`       // Synapse that carried the acknowledged spike
	PreSpikeTimeMs  float64 `json:"preSpikeTimeMs"`  // Dispatch time of the presynaptic spike
	PostSpikeTimeMs float64 `json:"postSpikeTimeMs"` // Firing time of the postsynaptic neuron
}

// TimeDifference returns postSpikeTime - preSpikeTime, the delta-t consumed
// by the STDP rule. Positive means pre preceded post (LTP side).
func (a SpikeAcknowledgment) TimeDifference() float64 {
	return a.PostSpikeTimeMs - a.PreSpikeTimeMs
}
