package hierarchy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SynapticNetworks/synfire/types"
)

// TestHierarchy_ChildBookkeeping verifies the container contract: ordered
// children, indexed access, removal, clearing.
func TestHierarchy_ChildBookkeeping(t *testing.T) {
	b := NewBrain(types.BrainIDStart, "test brain")
	assert.Equal(t, types.BrainIDStart, b.ID())
	assert.Equal(t, types.KindBrain, b.Kind())
	assert.Equal(t, "test brain", b.Name())
	assert.Zero(t, b.Size())

	h1 := types.HemisphereIDStart
	h2 := types.HemisphereIDStart + 1
	b.AddChild(h1)
	b.AddChild(h2)
	assert.Equal(t, 2, b.Size())
	assert.Equal(t, h1, b.ChildAt(0))
	assert.Equal(t, h2, b.ChildAt(1))
	assert.Zero(t, b.ChildAt(2), "out-of-range index reads 0")
	assert.Zero(t, b.ChildAt(-1))

	assert.True(t, b.RemoveChild(h1))
	assert.False(t, b.RemoveChild(h1), "second removal finds nothing")
	assert.Equal(t, []uint64{h2}, b.ChildIDs())

	b.Clear()
	assert.Zero(t, b.Size())
}

// TestHierarchy_ContainmentChain verifies the full Brain -> ... -> Neuron
// descent rule used by the validator.
func TestHierarchy_ContainmentChain(t *testing.T) {
	chain := []types.ObjectKind{
		types.KindBrain, types.KindHemisphere, types.KindLobe, types.KindRegion,
		types.KindNucleus, types.KindColumn, types.KindLayer, types.KindCluster,
		types.KindNeuron,
	}
	for i := 0; i < len(chain)-1; i++ {
		assert.Equal(t, chain[i+1], ChildKind(chain[i]))
	}
	assert.Equal(t, types.KindUnknown, ChildKind(types.KindNeuron))
	assert.Equal(t, types.KindUnknown, ChildKind(types.KindSynapse))
}

// TestHierarchy_JSONRoundTrip verifies R1 across every level, including
// the level-specific child array key and the optional position.
func TestHierarchy_JSONRoundTrip(t *testing.T) {
	cases := []struct {
		container interface {
			ID() uint64
			Kind() types.ObjectKind
			AddChild(uint64)
			ChildIDs() []uint64
			SetPosition(types.Position3D)
			ToJSON() ([]byte, error)
		}
		childKey string
		childID  uint64
	}{
		{NewBrain(types.BrainIDStart, "b"), "hemisphereIds", types.HemisphereIDStart},
		{NewHemisphere(types.HemisphereIDStart, "h"), "lobeIds", types.LobeIDStart},
		{NewLobe(types.LobeIDStart, "l"), "regionIds", types.RegionIDStart},
		{NewRegion(types.RegionIDStart, "r"), "nucleusIds", types.NucleusIDStart},
		{NewNucleus(types.NucleusIDStart, "n"), "columnIds", types.ColumnIDStart},
		{NewColumn(types.ColumnIDStart, "c"), "layerIds", types.LayerIDStart},
		{NewLayer(types.LayerIDStart, "la"), "clusterIds", types.ClusterIDStart},
		{NewCluster(types.ClusterIDStart, "cl"), "neuronIds", types.NeuronIDStart},
	}

	for _, tc := range cases {
		tc.container.AddChild(tc.childID)
		tc.container.SetPosition(types.Position3D{X: 1, Y: 2, Z: 3})

		data, err := tc.container.ToJSON()
		require.NoError(t, err)

		// The wire format uses the level-specific child key.
		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &doc))
		assert.Contains(t, doc, tc.childKey, "kind %s", tc.container.Kind())
		assert.Contains(t, doc, "position")

		restored, err := FromJSON(tc.container.Kind(), data)
		require.NoError(t, err)
		assert.Equal(t, tc.container.ID(), restored.ID())
		assert.Equal(t, tc.container.ChildIDs(), restored.ChildIDs())
		pos, ok := restored.Position()
		require.True(t, ok)
		assert.Equal(t, types.Position3D{X: 1, Y: 2, Z: 3}, pos)
	}
}

// TestHierarchy_PositionOptional verifies that an unset position is omitted
// from the wire form and round-trips as absent.
func TestHierarchy_PositionOptional(t *testing.T) {
	c := NewCluster(types.ClusterIDStart, "")
	data, err := c.ToJSON()
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.NotContains(t, doc, "position")

	restored, err := ClusterFromJSON(data)
	require.NoError(t, err)
	_, ok := restored.Position()
	assert.False(t, ok)
}

// TestHierarchy_TypeMismatchRejected verifies the discriminator check on
// every typed decoder.
func TestHierarchy_TypeMismatchRejected(t *testing.T) {
	brain := NewBrain(types.BrainIDStart, "b")
	data, err := brain.ToJSON()
	require.NoError(t, err)

	_, err = ClusterFromJSON(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type mismatch")
}
