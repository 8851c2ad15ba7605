/*
=================================================================================
TEMPORAL PATTERN NEURON - ROLLING WINDOW AND REFERENCE PATTERN LIBRARY
=================================================================================

OVERVIEW:
This neuron recognizes temporal spike patterns rather than integrating a
membrane potential. It keeps a rolling window of recent spike times, a
library of previously learned reference patterns, and a fixed temporal
signature that it emits on every firing. Its activation readout is the best
similarity between the current window and any learned pattern.

KEY DESIGN POINTS:

1. ROLLING WINDOW: insertSpike appends a spike time and discards everything
   older than windowSizeMs behind the newest spike. The window is the sole
   input to the similarity computation.

2. TEMPORAL SIGNATURE: every neuron carries a sorted, zero-based offset
   sequence that the propagator emits through every outbound synapse on
   every firing. A signature of {0, 2, 5} turns one firing into three
   temporally spread spikes per synapse, giving postsynaptic windows a rich
   time-coded input instead of a single impulse.

3. PATTERN LIBRARY: learnCurrentPattern snapshots the window (shifted to a
   zero origin), stores it as a reference pattern, and refreshes the
   signature so subsequent firings propagate the learned timing. The
   library is bounded; the oldest pattern is evicted at capacity.

4. EXTERNAL FIRING DECISIONS: the neuron never decides to fire on its own.
   Training and inference loops query BestSimilarity (or layer activations)
   and call the propagator's FireNeuron; the neuron only provides
   FireSignature as dispatch-time bookkeeping.

THREAD SAFETY:
One mutex guards the window, the pattern library, the incoming spike log,
and the last firing time together. Concurrent InsertSpike and
BestSimilarity on the same neuron serialize, which is required for a
consistent readout while delivery workers are writing.
=================================================================================
*/

package neuron

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/SynapticNetworks/synfire/types"
)

// IncomingSpike is one entry of the per-synapse incoming spike log:
// when a spike arrived and when its presynaptic neuron dispatched it.
// The log serves diagnostics and postsynaptic-led plasticity.
type IncomingSpike struct {
	ArrivalTimeMs  float64 `json:"arrivalTimeMs"`
	DispatchTimeMs float64 `json:"dispatchTimeMs"`
}

// Neuron is the core processing unit of the engine.
type Neuron struct {
	id uint64

	mu sync.Mutex

	// Connectivity (ids only; objects live in the registries)
	axonID      uint64 // 0 means no axon (terminal neuron)
	dendriteIDs []uint64

	// Configuration
	windowSizeMs         float64
	similarityThreshold  float64
	maxReferencePatterns int
	metric               types.SimilarityMetric
	histogramBins        int

	// Temporal state
	spikes            []float64                  // rolling window, non-decreasing
	referencePatterns [][]float64                // zero-based learned patterns
	temporalSignature []float64                  // zero-based offsets emitted on firing
	incomingLog       map[uint64][]IncomingSpike // keyed by synapse id
	lastFireTimeMs    float64                    // -Inf until the first firing
}

// NewNeuron creates a neuron from a configuration. An invalid configuration
// falls back to the defaults, matching the forgiving construction style of
// the rest of the engine. The temporal signature starts as the single
// offset {0} until a pattern is learned.
func NewNeuron(id uint64, cfg types.NeuronConfig) *Neuron {
	if !cfg.IsValid() {
		cfg = types.CreateDefaultNeuronConfig()
	}
	return &Neuron{
		id:                   id,
		windowSizeMs:         cfg.WindowSizeMs,
		similarityThreshold:  cfg.SimilarityThreshold,
		maxReferencePatterns: cfg.MaxReferencePatterns,
		metric:               cfg.Metric,
		histogramBins:        cfg.HistogramBins,
		spikes:               make([]float64, 0, 32),
		referencePatterns:    make([][]float64, 0, cfg.MaxReferencePatterns),
		temporalSignature:    []float64{0},
		incomingLog:          make(map[uint64][]IncomingSpike),
		lastFireTimeMs:       math.Inf(-1),
	}
}

// ID returns the neuron identifier.
func (n *Neuron) ID() uint64 { return n.id }

// =================================================================================
// CONNECTIVITY
// =================================================================================

// AxonID returns the neuron's axon identifier, 0 if it has none.
func (n *Neuron) AxonID() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.axonID
}

// SetAxonID attaches the neuron's single axon.
func (n *Neuron) SetAxonID(axonID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.axonID = axonID
}

// DendriteIDs returns a copy of the neuron's dendrite identifiers.
func (n *Neuron) DendriteIDs() []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]uint64, len(n.dendriteIDs))
	copy(out, n.dendriteIDs)
	return out
}

// AddDendriteID appends a dendrite. Duplicates are ignored.
func (n *Neuron) AddDendriteID(dendriteID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range n.dendriteIDs {
		if id == dendriteID {
			return
		}
	}
	n.dendriteIDs = append(n.dendriteIDs, dendriteID)
}

// =================================================================================
// ROLLING WINDOW
// =================================================================================

// InsertSpike records a spike at time tMs and slides the window: every
// spike older than windowSizeMs behind the newest retained spike is
// discarded. Out-of-order arrivals within one scheduler slot are sorted
// into place so the window stays non-decreasing.
func (n *Neuron) InsertSpike(tMs float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.insertSpikeLocked(tMs)
}

func (n *Neuron) insertSpikeLocked(tMs float64) {
	// Sorted insert; arrivals are almost always in order, so this is a
	// constant-time append in the common case.
	i := len(n.spikes)
	for i > 0 && n.spikes[i-1] > tMs {
		i--
	}
	n.spikes = append(n.spikes, 0)
	copy(n.spikes[i+1:], n.spikes[i:])
	n.spikes[i] = tMs

	n.trimWindowLocked()
}

// trimWindowLocked drops spikes older than the retention horizon anchored
// at the newest spike.
func (n *Neuron) trimWindowLocked() {
	if len(n.spikes) == 0 {
		return
	}
	horizon := n.spikes[len(n.spikes)-1] - n.windowSizeMs
	cut := 0
	for cut < len(n.spikes) && n.spikes[cut] < horizon {
		cut++
	}
	if cut > 0 {
		n.spikes = append(n.spikes[:0], n.spikes[cut:]...)
	}
}

// ClearSpikes empties the rolling window and the incoming spike log.
// Training loops call this between examples.
func (n *Neuron) ClearSpikes() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.spikes = n.spikes[:0]
	n.incomingLog = make(map[uint64][]IncomingSpike)
}

// SpikeTimes returns a copy of the rolling window.
func (n *Neuron) SpikeTimes() []float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]float64, len(n.spikes))
	copy(out, n.spikes)
	return out
}

// =================================================================================
// TEMPORAL SIGNATURE AND PATTERN LIBRARY
// =================================================================================

// TemporalSignature returns a copy of the neuron's emission signature.
func (n *Neuron) TemporalSignature() []float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]float64, len(n.temporalSignature))
	copy(out, n.temporalSignature)
	return out
}

// SetTemporalSignature replaces the emission signature. The signature must
// be non-empty, start at offset 0, and be strictly increasing.
func (n *Neuron) SetTemporalSignature(offsets []float64) error {
	if err := validateSignature(offsets); err != nil {
		return err
	}
	sig := make([]float64, len(offsets))
	copy(sig, offsets)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.temporalSignature = sig
	return nil
}

func validateSignature(offsets []float64) error {
	if len(offsets) == 0 {
		return fmt.Errorf("temporal signature must have at least one offset")
	}
	if offsets[0] != 0 {
		return fmt.Errorf("temporal signature must start at offset 0, got %.3f", offsets[0])
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			return fmt.Errorf("temporal signature must be strictly increasing at index %d", i)
		}
	}
	return nil
}

// LearnCurrentPattern snapshots the rolling window as a new reference
// pattern. The snapshot is shifted so its earliest spike sits at offset 0.
// At capacity the oldest pattern is evicted. The temporal signature is
// refreshed from the learned pattern so that subsequent firings propagate
// the learned timing.
//
// Returns the stored pattern, or nil when the window is empty (nothing to
// learn).
func (n *Neuron) LearnCurrentPattern() []float64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.spikes) == 0 {
		return nil
	}

	origin := n.spikes[0]
	pattern := make([]float64, len(n.spikes))
	for i, t := range n.spikes {
		pattern[i] = t - origin
	}
	// The window is non-decreasing but may hold coincident spikes; the
	// signature needs strictly increasing offsets, so deduplicate here.
	pattern = dedupeSorted(pattern)

	if len(n.referencePatterns) >= n.maxReferencePatterns {
		// Oldest-out replacement.
		n.referencePatterns = append(n.referencePatterns[:0], n.referencePatterns[1:]...)
	}
	stored := make([]float64, len(pattern))
	copy(stored, pattern)
	n.referencePatterns = append(n.referencePatterns, stored)

	sig := make([]float64, len(pattern))
	copy(sig, pattern)
	n.temporalSignature = sig

	out := make([]float64, len(pattern))
	copy(out, pattern)
	return out
}

// dedupeSorted collapses equal adjacent values in a sorted slice.
func dedupeSorted(v []float64) []float64 {
	if len(v) < 2 {
		return v
	}
	out := v[:1]
	for _, x := range v[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

// ReferencePatterns returns a deep copy of the pattern library.
func (n *Neuron) ReferencePatterns() [][]float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]float64, len(n.referencePatterns))
	for i, p := range n.referencePatterns {
		cp := make([]float64, len(p))
		copy(cp, p)
		out[i] = cp
	}
	return out
}

// ReferencePatternCount returns the number of learned patterns.
func (n *Neuron) ReferencePatternCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.referencePatterns)
}

// =================================================================================
// SIMILARITY READOUT
// =================================================================================

// BestSimilarity compares the current rolling window against every learned
// reference pattern under the neuron's similarity metric and returns the
// best score in [0, 1]. An empty library or an empty window scores 0.
func (n *Neuron) BestSimilarity() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.referencePatterns) == 0 || len(n.spikes) == 0 {
		return 0
	}

	// Zero-base the window so it is comparable to the stored patterns.
	origin := n.spikes[0]
	current := make([]float64, len(n.spikes))
	for i, t := range n.spikes {
		current[i] = t - origin
	}
	currentHist := BinSpikes(current, n.windowSizeMs, n.histogramBins)

	best := 0.0
	for _, pattern := range n.referencePatterns {
		patternHist := BinSpikes(pattern, n.windowSizeMs, n.histogramBins)
		if sim := Similarity(n.metric, currentHist, patternHist); sim > best {
			best = sim
		}
	}
	return best
}

// SimilarityThreshold returns the firing-decision threshold consulted by
// consumers. The neuron itself never acts on it.
func (n *Neuron) SimilarityThreshold() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.similarityThreshold
}

// WindowSizeMs returns the retention horizon of the rolling window.
func (n *Neuron) WindowSizeMs() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.windowSizeMs
}

// MaxReferencePatterns returns the capacity of the pattern library.
func (n *Neuron) MaxReferencePatterns() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.maxReferencePatterns
}

// Metric returns the neuron's similarity strategy.
func (n *Neuron) Metric() types.SimilarityMetric {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.metric
}

// =================================================================================
// FIRING BOOKKEEPING
// =================================================================================

// FireSignature records a firing at tMs: it stamps the last firing time and
// inserts the temporal signature offsets into the rolling window as a
// self-record of the emitted pattern. The propagator calls this after
// scheduling the firing's events; consumers do not call it directly.
func (n *Neuron) FireSignature(tMs float64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.lastFireTimeMs = tMs
	for _, offset := range n.temporalSignature {
		n.insertSpikeLocked(tMs + offset)
	}
}

// LastFireTime returns the most recent firing time, -Inf if the neuron has
// never fired.
func (n *Neuron) LastFireTime() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastFireTimeMs
}

// SetLastFireTime overrides the firing timestamp without emitting the
// signature. Supervised training loops use this to register an externally
// decided postsynaptic firing before the retrograde pathway reads it.
func (n *Neuron) SetLastFireTime(tMs float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastFireTimeMs = tMs
}

// =================================================================================
// INCOMING SPIKE LOG
// =================================================================================

// RecordIncomingSpike appends an (arrival, dispatch) pair to the
// per-synapse log. Entries older than the window horizon behind the newest
// arrival on the same synapse are pruned, keeping the log bounded by
// activity within the window.
func (n *Neuron) RecordIncomingSpike(synapseID uint64, arrivalMs, dispatchMs float64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	log := append(n.incomingLog[synapseID], IncomingSpike{
		ArrivalTimeMs:  arrivalMs,
		DispatchTimeMs: dispatchMs,
	})
	sort.Slice(log, func(i, j int) bool { return log[i].ArrivalTimeMs < log[j].ArrivalTimeMs })

	horizon := log[len(log)-1].ArrivalTimeMs - n.windowSizeMs
	cut := 0
	for cut < len(log) && log[cut].ArrivalTimeMs < horizon {
		cut++
	}
	n.incomingLog[synapseID] = log[cut:]
}

// IncomingSpikes returns a copy of the log for one synapse.
func (n *Neuron) IncomingSpikes(synapseID uint64) []IncomingSpike {
	n.mu.Lock()
	defer n.mu.Unlock()
	log := n.incomingLog[synapseID]
	out := make([]IncomingSpike, len(log))
	copy(out, log)
	return out
}
