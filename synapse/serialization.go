// synapse/serialization.go
package synapse

import (
	"encoding/json"
	"fmt"

	"github.com/SynapticNetworks/synfire/types"
)

// synapseJSON is the wire layout of a synapse in the datastore.
type synapseJSON struct {
	Type       string            `json:"type"`
	ID         uint64            `json:"id"`
	AxonID     uint64            `json:"axonId"`
	DendriteID uint64            `json:"dendriteId"`
	Weight     float64           `json:"weight"`
	Delay      float64           `json:"delay"`
	Position   *types.Position3D `json:"position,omitempty"`
}

// TypeName returns the serialized type discriminator.
func (s *Synapse) TypeName() string { return types.KindSynapse.String() }

// ToJSON serializes the synapse for the datastore.
func (s *Synapse) ToJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(synapseJSON{
		Type:       s.TypeName(),
		ID:         s.id,
		AxonID:     s.axonID,
		DendriteID: s.dendriteID,
		Weight:     s.weight,
		Delay:      s.delay,
	})
}

// FromJSON reconstructs a synapse from its serialized form. A mismatched
// type discriminator is rejected.
func FromJSON(data []byte) (*Synapse, error) {
	var j synapseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("synapse: decode: %w", err)
	}
	if j.Type != types.KindSynapse.String() {
		return nil, fmt.Errorf("synapse: type mismatch: expected %q, got %q",
			types.KindSynapse.String(), j.Type)
	}
	return New(j.ID, j.AxonID, j.DendriteID, j.Weight, j.Delay), nil
}
