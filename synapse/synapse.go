/*
=================================================================================
SYNAPSE - THE PLASTIC CONNECTION BETWEEN AXON AND DENDRITE
=================================================================================

A synapse joins a specific presynaptic axon to a specific postsynaptic
dendrite. It carries the two quantities that shape every transmission across
it: a weight that scales signal strength and a delay that models conduction
and transmission time.

The weight is the learned state of the network. It is adjusted by the
retrograde STDP pathway and by reward-modulated updates, and it is clamped
to a fixed band after every change so that neither runaway potentiation nor
complete silencing beyond zero can occur.

Reference:
- Kandel, E. R., et al. (2013). Principles of Neural Science, 5th ed.
- Gerstner, W., & Kistler, W. M. (2002). Spiking Neuron Models.
=================================================================================
*/

package synapse

import (
	"sync"
)

// Weight clamp band. LTP saturates at roughly 2-3x baseline in most
// experimental preparations; the engine clamps at 2.0 and lets depression
// drive a weight all the way to silence.
const (
	WEIGHT_FLOOR   = 0.0
	WEIGHT_CEILING = 2.0
)

// DEFAULT_DELAY_MS is the minimum biologically meaningful transmission
// delay, used when a caller supplies a non-positive delay.
const DEFAULT_DELAY_MS = 1.0

// Synapse is the connection between one axon and one dendrite.
// Weight reads and writes are thread-safe; the identifier and endpoint ids
// are immutable after construction.
type Synapse struct {
	id         uint64
	axonID     uint64 // presynaptic axon
	dendriteID uint64 // postsynaptic dendrite

	mu     sync.RWMutex
	weight float64
	delay  float64 // transmission delay in milliseconds
}

// New creates a synapse connecting axonID to dendriteID. The initial weight
// is clamped into the legal band; a non-positive delay is replaced by
// DEFAULT_DELAY_MS.
func New(id, axonID, dendriteID uint64, weight, delayMs float64) *Synapse {
	if delayMs <= 0 {
		delayMs = DEFAULT_DELAY_MS
	}
	return &Synapse{
		id:         id,
		axonID:     axonID,
		dendriteID: dendriteID,
		weight:     clampWeight(weight),
		delay:      delayMs,
	}
}

// ID returns the synapse identifier.
func (s *Synapse) ID() uint64 { return s.id }

// AxonID returns the presynaptic axon identifier.
func (s *Synapse) AxonID() uint64 { return s.axonID }

// DendriteID returns the postsynaptic dendrite identifier.
func (s *Synapse) DendriteID() uint64 { return s.dendriteID }

// Weight returns the current synaptic weight.
func (s *Synapse) Weight() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weight
}

// SetWeight replaces the weight, clamped to [WEIGHT_FLOOR, WEIGHT_CEILING].
func (s *Synapse) SetWeight(w float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weight = clampWeight(w)
}

// AdjustWeight adds delta to the weight under the clamp and returns the
// resulting weight. This is the single write path used by plasticity, so
// concurrent updates to the same synapse serialize here.
func (s *Synapse) AdjustWeight(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weight = clampWeight(s.weight + delta)
	return s.weight
}

// DelayMs returns the transmission delay in milliseconds.
func (s *Synapse) DelayMs() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delay
}

// SetDelayMs replaces the transmission delay. Non-positive values are
// ignored; a synapse always takes time to transmit.
func (s *Synapse) SetDelayMs(delayMs float64) {
	if delayMs <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = delayMs
}

func clampWeight(w float64) float64 {
	if w < WEIGHT_FLOOR {
		return WEIGHT_FLOOR
	}
	if w > WEIGHT_CEILING {
		return WEIGHT_CEILING
	}
	return w
}
