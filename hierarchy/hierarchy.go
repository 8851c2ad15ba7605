/*
=================================================================================
HIERARCHICAL STRUCTURES - BRAIN THROUGH CLUSTER
=================================================================================

The anatomical containers of the network: Brain > Hemisphere > Lobe >
Region > Nucleus > Column > Layer > Cluster > (neurons). Each level stores
the identifiers of its children rather than the child objects themselves,
which keeps the containers cheap and lets the datastore load any level
independently.

These types carry no runtime behaviour. Their entire contract is structural:
hold child ids, serialize faithfully, and validate cleanly. Spike traffic
never touches them.
=================================================================================
*/

package hierarchy

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/SynapticNetworks/synfire/types"
)

// Container is the shared implementation of every hierarchical level. The
// kind determines both the identifier range and the JSON key under which
// the child ids serialize.
type Container struct {
	kind types.ObjectKind
	id   uint64

	mu       sync.RWMutex
	name     string
	position *types.Position3D
	childIDs []uint64
}

// Typed levels of the hierarchy. Each embeds the shared container by
// pointer so the guarded state is never copied.
type (
	Brain      struct{ *Container }
	Hemisphere struct{ *Container }
	Lobe       struct{ *Container }
	Region     struct{ *Container }
	Nucleus    struct{ *Container }
	Column     struct{ *Container }
	Layer      struct{ *Container }
	Cluster    struct{ *Container }
)

func newContainer(kind types.ObjectKind, id uint64, name string) *Container {
	return &Container{kind: kind, id: id, name: name, childIDs: make([]uint64, 0, 4)}
}

// NewBrain creates a brain, the top-level container. Children: hemispheres.
func NewBrain(id uint64, name string) *Brain {
	return &Brain{newContainer(types.KindBrain, id, name)}
}

// NewHemisphere creates a hemisphere. Children: lobes.
func NewHemisphere(id uint64, name string) *Hemisphere {
	return &Hemisphere{newContainer(types.KindHemisphere, id, name)}
}

// NewLobe creates a lobe. Children: regions.
func NewLobe(id uint64, name string) *Lobe {
	return &Lobe{newContainer(types.KindLobe, id, name)}
}

// NewRegion creates a region. Children: nuclei.
func NewRegion(id uint64, name string) *Region {
	return &Region{newContainer(types.KindRegion, id, name)}
}

// NewNucleus creates a nucleus. Children: columns.
func NewNucleus(id uint64, name string) *Nucleus {
	return &Nucleus{newContainer(types.KindNucleus, id, name)}
}

// NewColumn creates a column. Children: layers.
func NewColumn(id uint64, name string) *Column {
	return &Column{newContainer(types.KindColumn, id, name)}
}

// NewLayer creates a layer. Children: clusters.
func NewLayer(id uint64, name string) *Layer {
	return &Layer{newContainer(types.KindLayer, id, name)}
}

// NewCluster creates a cluster, the leaf container. Children: neurons.
func NewCluster(id uint64, name string) *Cluster {
	return &Cluster{newContainer(types.KindCluster, id, name)}
}

// ID returns the container's identifier.
func (c *Container) ID() uint64 { return c.id }

// Kind returns the container's hierarchy level.
func (c *Container) Kind() types.ObjectKind { return c.kind }

// TypeName returns the serialized type discriminator.
func (c *Container) TypeName() string { return c.kind.String() }

// Name returns the human-readable name, empty if unnamed.
func (c *Container) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// SetName replaces the human-readable name.
func (c *Container) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

// Position returns the optional spatial position.
func (c *Container) Position() (types.Position3D, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.position == nil {
		return types.Position3D{}, false
	}
	return *c.position, true
}

// SetPosition attaches a spatial position. Positions are descriptive only.
func (c *Container) SetPosition(pos types.Position3D) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = &pos
}

// ClearPosition removes the spatial position.
func (c *Container) ClearPosition() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = nil
}

// AddChild appends a child identifier.
func (c *Container) AddChild(childID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.childIDs = append(c.childIDs, childID)
}

// RemoveChild removes every occurrence of a child identifier, reporting
// whether anything was removed.
func (c *Container) RemoveChild(childID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.childIDs[:0]
	removed := false
	for _, id := range c.childIDs {
		if id == childID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	c.childIDs = kept
	return removed
}

// ChildIDs returns a copy of the child identifier list.
func (c *Container) ChildIDs() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint64, len(c.childIDs))
	copy(out, c.childIDs)
	return out
}

// ChildAt returns the child identifier at an index, 0 when out of range.
func (c *Container) ChildAt(index int) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.childIDs) {
		return 0
	}
	return c.childIDs[index]
}

// Size returns the number of children.
func (c *Container) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.childIDs)
}

// Clear removes all children.
func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.childIDs = c.childIDs[:0]
}

// =================================================================================
// CONTAINMENT RULES
// =================================================================================

// ChildKind returns the hierarchy level contained by a given level, with
// clusters bottoming out at neurons. Non-container kinds return
// KindUnknown.
func ChildKind(kind types.ObjectKind) types.ObjectKind {
	switch kind {
	case types.KindBrain:
		return types.KindHemisphere
	case types.KindHemisphere:
		return types.KindLobe
	case types.KindLobe:
		return types.KindRegion
	case types.KindRegion:
		return types.KindNucleus
	case types.KindNucleus:
		return types.KindColumn
	case types.KindColumn:
		return types.KindLayer
	case types.KindLayer:
		return types.KindCluster
	case types.KindCluster:
		return types.KindNeuron
	default:
		return types.KindUnknown
	}
}

// childJSONKey is the serialized array key per level, matching the
// established wire format.
func childJSONKey(kind types.ObjectKind) string {
	switch kind {
	case types.KindBrain:
		return "hemisphereIds"
	case types.KindHemisphere:
		return "lobeIds"
	case types.KindLobe:
		return "regionIds"
	case types.KindRegion:
		return "nucleusIds"
	case types.KindNucleus:
		return "columnIds"
	case types.KindColumn:
		return "layerIds"
	case types.KindLayer:
		return "clusterIds"
	case types.KindCluster:
		return "neuronIds"
	default:
		return "childIds"
	}
}

// =================================================================================
// SERIALIZATION
// =================================================================================

// ToJSON serializes the container with its level-specific child key.
func (c *Container) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc := map[string]interface{}{
		"type":                 c.kind.String(),
		"id":                   c.id,
		"name":                 c.name,
		childJSONKey(c.kind):   append([]uint64{}, c.childIDs...),
	}
	if c.position != nil {
		doc["position"] = *c.position
	}
	return json.Marshal(doc)
}

// FromJSON reconstructs a container of the expected kind. A mismatched
// type discriminator is rejected.
func FromJSON(kind types.ObjectKind, data []byte) (*Container, error) {
	var doc struct {
		Type     string            `json:"type"`
		ID       uint64            `json:"id"`
		Name     string            `json:"name"`
		Position *types.Position3D `json:"position"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", kind, err)
	}
	if doc.Type != kind.String() {
		return nil, fmt.Errorf("%s: type mismatch: expected %q, got %q",
			kind, kind.String(), doc.Type)
	}

	var children map[string]json.RawMessage
	if err := json.Unmarshal(data, &children); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", kind, err)
	}
	c := newContainer(kind, doc.ID, doc.Name)
	c.position = doc.Position
	if raw, ok := children[childJSONKey(kind)]; ok {
		if err := json.Unmarshal(raw, &c.childIDs); err != nil {
			return nil, fmt.Errorf("%s: decode child ids: %w", kind, err)
		}
	}
	return c, nil
}

// Typed deserialization wrappers, one per level.

func BrainFromJSON(data []byte) (*Brain, error) {
	c, err := FromJSON(types.KindBrain, data)
	if err != nil {
		return nil, err
	}
	return &Brain{c}, nil
}

func HemisphereFromJSON(data []byte) (*Hemisphere, error) {
	c, err := FromJSON(types.KindHemisphere, data)
	if err != nil {
		return nil, err
	}
	return &Hemisphere{c}, nil
}

func LobeFromJSON(data []byte) (*Lobe, error) {
	c, err := FromJSON(types.KindLobe, data)
	if err != nil {
		return nil, err
	}
	return &Lobe{c}, nil
}

func RegionFromJSON(data []byte) (*Region, error) {
	c, err := FromJSON(types.KindRegion, data)
	if err != nil {
		return nil, err
	}
	return &Region{c}, nil
}

func NucleusFromJSON(data []byte) (*Nucleus, error) {
	c, err := FromJSON(types.KindNucleus, data)
	if err != nil {
		return nil, err
	}
	return &Nucleus{c}, nil
}

func ColumnFromJSON(data []byte) (*Column, error) {
	c, err := FromJSON(types.KindColumn, data)
	if err != nil {
		return nil, err
	}
	return &Column{c}, nil
}

func LayerFromJSON(data []byte) (*Layer, error) {
	c, err := FromJSON(types.KindLayer, data)
	if err != nil {
		return nil, err
	}
	return &Layer{c}, nil
}

func ClusterFromJSON(data []byte) (*Cluster, error) {
	c, err := FromJSON(types.KindCluster, data)
	if err != nil {
		return nil, err
	}
	return &Cluster{c}, nil
}
