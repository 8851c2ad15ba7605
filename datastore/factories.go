// datastore/factories.go
//
// Typed accessors and the standard deserialization factories, one per
// object kind.
package datastore

import (
	"github.com/SynapticNetworks/synfire/hierarchy"
	"github.com/SynapticNetworks/synfire/neuron"
	"github.com/SynapticNetworks/synfire/synapse"
	"github.com/SynapticNetworks/synfire/types"
)

// RegisterStandardFactories installs the deserialization callback for all
// twelve object kinds. Call once after Open, before the first Get.
func RegisterStandardFactories(d *Datastore) {
	d.RegisterFactory(types.KindNeuron.String(), func(data []byte) (NeuralObject, error) {
		return neuron.NeuronFromJSON(data)
	})
	d.RegisterFactory(types.KindAxon.String(), func(data []byte) (NeuralObject, error) {
		return neuron.AxonFromJSON(data)
	})
	d.RegisterFactory(types.KindDendrite.String(), func(data []byte) (NeuralObject, error) {
		return neuron.DendriteFromJSON(data)
	})
	d.RegisterFactory(types.KindSynapse.String(), func(data []byte) (NeuralObject, error) {
		return synapse.FromJSON(data)
	})
	d.RegisterFactory(types.KindCluster.String(), func(data []byte) (NeuralObject, error) {
		return hierarchy.ClusterFromJSON(data)
	})
	d.RegisterFactory(types.KindLayer.String(), func(data []byte) (NeuralObject, error) {
		return hierarchy.LayerFromJSON(data)
	})
	d.RegisterFactory(types.KindColumn.String(), func(data []byte) (NeuralObject, error) {
		return hierarchy.ColumnFromJSON(data)
	})
	d.RegisterFactory(types.KindNucleus.String(), func(data []byte) (NeuralObject, error) {
		return hierarchy.NucleusFromJSON(data)
	})
	d.RegisterFactory(types.KindRegion.String(), func(data []byte) (NeuralObject, error) {
		return hierarchy.RegionFromJSON(data)
	})
	d.RegisterFactory(types.KindLobe.String(), func(data []byte) (NeuralObject, error) {
		return hierarchy.LobeFromJSON(data)
	})
	d.RegisterFactory(types.KindHemisphere.String(), func(data []byte) (NeuralObject, error) {
		return hierarchy.HemisphereFromJSON(data)
	})
	d.RegisterFactory(types.KindBrain.String(), func(data []byte) (NeuralObject, error) {
		return hierarchy.BrainFromJSON(data)
	})
}

// GetNeuron resolves and type-asserts a neuron. A present object of another
// kind reports (nil, false).
func (d *Datastore) GetNeuron(id uint64) (*neuron.Neuron, bool) {
	obj, ok := d.Get(id)
	if !ok {
		return nil, false
	}
	n, ok := obj.(*neuron.Neuron)
	return n, ok
}

// GetAxon resolves and type-asserts an axon.
func (d *Datastore) GetAxon(id uint64) (*neuron.Axon, bool) {
	obj, ok := d.Get(id)
	if !ok {
		return nil, false
	}
	a, ok := obj.(*neuron.Axon)
	return a, ok
}

// GetDendrite resolves and type-asserts a dendrite.
func (d *Datastore) GetDendrite(id uint64) (*neuron.Dendrite, bool) {
	obj, ok := d.Get(id)
	if !ok {
		return nil, false
	}
	den, ok := obj.(*neuron.Dendrite)
	return den, ok
}

// GetSynapse resolves and type-asserts a synapse.
func (d *Datastore) GetSynapse(id uint64) (*synapse.Synapse, bool) {
	obj, ok := d.Get(id)
	if !ok {
		return nil, false
	}
	s, ok := obj.(*synapse.Synapse)
	return s, ok
}

// GetCluster resolves and type-asserts a cluster.
func (d *Datastore) GetCluster(id uint64) (*hierarchy.Cluster, bool) {
	obj, ok := d.Get(id)
	if !ok {
		return nil, false
	}
	c, ok := obj.(*hierarchy.Cluster)
	return c, ok
}
