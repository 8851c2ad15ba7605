// neuron/serialization.go
//
// JSON persistence for neurons, axons, and dendrites. Every object carries
// an exact "type" discriminator; decoding rejects a mismatch so a corrupted
// or miskeyed datastore entry can never masquerade as another kind.
package neuron

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/SynapticNetworks/synfire/types"
)

type neuronJSON struct {
	Type                 string                 `json:"type"`
	ID                   uint64                 `json:"id"`
	AxonID               uint64                 `json:"axonId"`
	DendriteIDs          []uint64               `json:"dendriteIds"`
	WindowSizeMs         float64                `json:"windowSizeMs"`
	SimilarityThreshold  float64                `json:"similarityThreshold"`
	MaxReferencePatterns int                    `json:"maxReferencePatterns"`
	Metric               types.SimilarityMetric `json:"metric"`
	HistogramBins        int                    `json:"histogramBins"`
	TemporalSignature    []float64              `json:"temporalSignature"`
	ReferencePatterns    [][]float64            `json:"referencePatterns"`
	LastFireTimeMs       *float64               `json:"lastFireTimeMs,omitempty"` // omitted while -Inf
	Position             *types.Position3D      `json:"position,omitempty"`
}

// TypeName returns the serialized type discriminator.
func (n *Neuron) TypeName() string { return types.KindNeuron.String() }

// ToJSON serializes the neuron's durable state: configuration, topology,
// signature, and learned patterns. The rolling window and the incoming log
// are transient runtime state and are not persisted.
func (n *Neuron) ToJSON() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	j := neuronJSON{
		Type:                 n.TypeName(),
		ID:                   n.id,
		AxonID:               n.axonID,
		DendriteIDs:          append([]uint64{}, n.dendriteIDs...),
		WindowSizeMs:         n.windowSizeMs,
		SimilarityThreshold:  n.similarityThreshold,
		MaxReferencePatterns: n.maxReferencePatterns,
		Metric:               n.metric,
		HistogramBins:        n.histogramBins,
		TemporalSignature:    append([]float64{}, n.temporalSignature...),
		ReferencePatterns:    make([][]float64, 0, len(n.referencePatterns)),
	}
	for _, p := range n.referencePatterns {
		j.ReferencePatterns = append(j.ReferencePatterns, append([]float64{}, p...))
	}
	if !math.IsInf(n.lastFireTimeMs, -1) {
		t := n.lastFireTimeMs
		j.LastFireTimeMs = &t
	}
	return json.Marshal(j)
}

// NeuronFromJSON reconstructs a neuron from its serialized form.
func NeuronFromJSON(data []byte) (*Neuron, error) {
	var j neuronJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("neuron: decode: %w", err)
	}
	if j.Type != types.KindNeuron.String() {
		return nil, fmt.Errorf("neuron: type mismatch: expected %q, got %q",
			types.KindNeuron.String(), j.Type)
	}

	n := NewNeuron(j.ID, types.NeuronConfig{
		WindowSizeMs:         j.WindowSizeMs,
		SimilarityThreshold:  j.SimilarityThreshold,
		MaxReferencePatterns: j.MaxReferencePatterns,
		Metric:               j.Metric,
		HistogramBins:        j.HistogramBins,
	})
	n.axonID = j.AxonID
	n.dendriteIDs = append(n.dendriteIDs, j.DendriteIDs...)
	if len(j.TemporalSignature) > 0 {
		if err := n.SetTemporalSignature(j.TemporalSignature); err != nil {
			return nil, fmt.Errorf("neuron %d: %w", j.ID, err)
		}
	}
	for _, p := range j.ReferencePatterns {
		n.referencePatterns = append(n.referencePatterns, append([]float64{}, p...))
	}
	if j.LastFireTimeMs != nil {
		n.lastFireTimeMs = *j.LastFireTimeMs
	}
	return n, nil
}

type axonJSON struct {
	Type           string            `json:"type"`
	ID             uint64            `json:"id"`
	SourceNeuronID uint64            `json:"sourceNeuronId"`
	SynapseIDs     []uint64          `json:"synapseIds"`
	Position       *types.Position3D `json:"position,omitempty"`
}

// TypeName returns the serialized type discriminator.
func (a *Axon) TypeName() string { return types.KindAxon.String() }

// ToJSON serializes the axon.
func (a *Axon) ToJSON() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return json.Marshal(axonJSON{
		Type:           a.TypeName(),
		ID:             a.id,
		SourceNeuronID: a.sourceNeuronID,
		SynapseIDs:     append([]uint64{}, a.synapseIDs...),
	})
}

// AxonFromJSON reconstructs an axon from its serialized form.
func AxonFromJSON(data []byte) (*Axon, error) {
	var j axonJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("axon: decode: %w", err)
	}
	if j.Type != types.KindAxon.String() {
		return nil, fmt.Errorf("axon: type mismatch: expected %q, got %q",
			types.KindAxon.String(), j.Type)
	}
	a := NewAxon(j.ID, j.SourceNeuronID)
	a.synapseIDs = append(a.synapseIDs, j.SynapseIDs...)
	return a, nil
}

type dendriteJSON struct {
	Type           string            `json:"type"`
	ID             uint64            `json:"id"`
	TargetNeuronID uint64            `json:"targetNeuronId"`
	SynapseIDs     []uint64          `json:"synapseIds"`
	Position       *types.Position3D `json:"position,omitempty"`
}

// TypeName returns the serialized type discriminator.
func (d *Dendrite) TypeName() string { return types.KindDendrite.String() }

// ToJSON serializes the dendrite. The delivery callback is runtime wiring
// and is re-injected on registration, never persisted.
func (d *Dendrite) ToJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.Marshal(dendriteJSON{
		Type:           d.TypeName(),
		ID:             d.id,
		TargetNeuronID: d.targetNeuronID,
		SynapseIDs:     append([]uint64{}, d.synapseIDs...),
	})
}

// DendriteFromJSON reconstructs a dendrite from its serialized form.
func DendriteFromJSON(data []byte) (*Dendrite, error) {
	var j dendriteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("dendrite: decode: %w", err)
	}
	if j.Type != types.KindDendrite.String() {
		return nil, fmt.Errorf("dendrite: type mismatch: expected %q, got %q",
			types.KindDendrite.String(), j.Type)
	}
	d := NewDendrite(j.ID, j.TargetNeuronID)
	d.synapseIDs = append(d.synapseIDs, j.SynapseIDs...)
	return d, nil
}
