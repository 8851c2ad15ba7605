/*
=================================================================================
NETWORK VALIDATOR - STRUCTURAL INTEGRITY CHECKS
=================================================================================

The validator walks a network as persisted in the datastore and reports
structural problems: dangling identifier references, children of the wrong
kind, hierarchy gaps, illegal synaptic values, and per-neuron resource
limits. It reports, it never throws: every finding becomes an issue with a
severity, and the caller decides what a failed validation means.

Severity ladder:
- Info:     observations that need no action
- Warning:  suspicious but functional (an empty container, say)
- Error:    broken references that will misroute or drop traffic
- Critical: the network cannot be meaningfully used from this root
=================================================================================
*/

package validator

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/SynapticNetworks/synfire/datastore"
	"github.com/SynapticNetworks/synfire/hierarchy"
	"github.com/SynapticNetworks/synfire/synapse"
	"github.com/SynapticNetworks/synfire/types"
)

// Severity grades a validation finding.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the conventional upper-case severity label.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// IssueType categorizes a validation finding.
type IssueType int

const (
	IssueMissingID IssueType = iota
	IssueTypeMismatch
	IssueDanglingReference
	IssueInvalidValue
	IssueLimitExceeded
	IssueEmptyContainer
)

// Issue is one validation finding.
type Issue struct {
	Severity   Severity
	Type       IssueType
	Message    string
	ObjectID   uint64
	ObjectType string
	Context    string
}

// Result aggregates the findings of one validation run.
type Result struct {
	IsValid       bool
	Issues        []Issue
	CriticalCount int
	ErrorCount    int
	WarningCount  int
	InfoCount     int
	ObjectsVisited int
}

func newResult() *Result {
	return &Result{IsValid: true}
}

// Add records a finding and updates the counts. Errors and criticals mark
// the result invalid.
func (r *Result) Add(issue Issue) {
	r.Issues = append(r.Issues, issue)
	switch issue.Severity {
	case SeverityCritical:
		r.CriticalCount++
		r.IsValid = false
	case SeverityError:
		r.ErrorCount++
		r.IsValid = false
	case SeverityWarning:
		r.WarningCount++
	case SeverityInfo:
		r.InfoCount++
	}
}

// Summary renders a one-line digest of the result.
func (r *Result) Summary() string {
	status := "PASSED"
	if !r.IsValid {
		status = "FAILED"
	}
	return fmt.Sprintf("Validation %s: %d critical, %d errors, %d warnings, %d info",
		status, r.CriticalCount, r.ErrorCount, r.WarningCount, r.InfoCount)
}

// DetailedReport renders every finding, one line each.
func (r *Result) DetailedReport() string {
	var b strings.Builder
	b.WriteString("=== Validation Report ===\n")
	fmt.Fprintf(&b, "Status: %s\n", map[bool]string{true: "PASSED", false: "FAILED"}[r.IsValid])
	fmt.Fprintf(&b, "Critical: %d\nErrors: %d\nWarnings: %d\nInfo: %d\n",
		r.CriticalCount, r.ErrorCount, r.WarningCount, r.InfoCount)
	if len(r.Issues) > 0 {
		b.WriteString("\n=== Issues ===\n")
		for _, issue := range r.Issues {
			fmt.Fprintf(&b, "[%s] ", issue.Severity)
			if issue.ObjectID != 0 {
				fmt.Fprintf(&b, "%s %d: ", issue.ObjectType, issue.ObjectID)
			}
			b.WriteString(issue.Message)
			if issue.Context != "" {
				fmt.Fprintf(&b, " (%s)", issue.Context)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// container is the view of a hierarchy level the validator needs.
type container interface {
	ID() uint64
	Kind() types.ObjectKind
	ChildIDs() []uint64
}

// Validator checks network structure as persisted in a datastore.
type Validator struct {
	cfg    types.ValidationConfig
	ds     *datastore.Datastore
	logger *zap.Logger
}

// New creates a validator over a datastore. A nil logger disables logging.
func New(cfg types.ValidationConfig, ds *datastore.Datastore, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{cfg: cfg, ds: ds, logger: logger}
}

// =================================================================================
// ENTRY POINTS
// =================================================================================

// ValidateNetwork validates the structure reachable from a root object.
// The root may be any hierarchy level or a bare neuron.
func (v *Validator) ValidateNetwork(rootID uint64) *Result {
	result := newResult()

	obj, ok := v.ds.Get(rootID)
	if !ok {
		result.Add(Issue{
			Severity:   SeverityCritical,
			Type:       IssueMissingID,
			Message:    "root object does not exist",
			ObjectID:   rootID,
			ObjectType: types.KindOf(rootID).String(),
			Context:    "cannot validate network without root object",
		})
		return result
	}

	switch types.KindOf(rootID) {
	case types.KindNeuron:
		v.validateNeuron(rootID, result)
	case types.KindSynapse:
		v.validateSynapse(rootID, result)
	default:
		if c, isContainer := obj.(container); isContainer && v.cfg.CheckHierarchy {
			v.validateHierarchyRecursive(c, result, make(map[uint64]bool))
		}
	}

	v.logger.Info("network validation complete", zap.String("summary", result.Summary()))
	return result
}

// ValidateHierarchy validates one container level and everything below it.
func (v *Validator) ValidateHierarchy(structureID uint64) *Result {
	return v.ValidateNetwork(structureID)
}

// ValidateNeuron validates a single neuron and its direct references.
func (v *Validator) ValidateNeuron(neuronID uint64) *Result {
	result := newResult()
	v.validateNeuron(neuronID, result)
	return result
}

// ValidateSynapse validates a single synapse's endpoints and values.
func (v *Validator) ValidateSynapse(synapseID uint64) *Result {
	result := newResult()
	v.validateSynapse(synapseID, result)
	return result
}

// =================================================================================
// RECURSIVE WALKS
// =================================================================================

func (v *Validator) validateHierarchyRecursive(c container, result *Result, seen map[uint64]bool) {
	if seen[c.ID()] {
		return
	}
	seen[c.ID()] = true
	result.ObjectsVisited++

	expectedChild := hierarchy.ChildKind(c.Kind())
	children := c.ChildIDs()
	if len(children) == 0 {
		result.Add(Issue{
			Severity:   SeverityWarning,
			Type:       IssueEmptyContainer,
			Message:    "container has no children",
			ObjectID:   c.ID(),
			ObjectType: c.Kind().String(),
		})
		return
	}

	for _, childID := range children {
		if kind := types.KindOf(childID); kind != expectedChild {
			result.Add(Issue{
				Severity:   SeverityError,
				Type:       IssueTypeMismatch,
				Message:    fmt.Sprintf("child %d is a %s, expected %s", childID, kind, expectedChild),
				ObjectID:   c.ID(),
				ObjectType: c.Kind().String(),
			})
			continue
		}

		if expectedChild == types.KindNeuron {
			v.validateNeuron(childID, result)
			continue
		}

		childObj, ok := v.ds.Get(childID)
		if !ok {
			result.Add(Issue{
				Severity:   SeverityError,
				Type:       IssueDanglingReference,
				Message:    fmt.Sprintf("child %s %d does not exist", expectedChild, childID),
				ObjectID:   c.ID(),
				ObjectType: c.Kind().String(),
			})
			continue
		}
		childContainer, isContainer := childObj.(container)
		if !isContainer {
			result.Add(Issue{
				Severity:   SeverityError,
				Type:       IssueTypeMismatch,
				Message:    fmt.Sprintf("child %d deserialized as a non-container", childID),
				ObjectID:   c.ID(),
				ObjectType: c.Kind().String(),
			})
			continue
		}
		v.validateHierarchyRecursive(childContainer, result, seen)
	}
}

func (v *Validator) validateNeuron(neuronID uint64, result *Result) {
	result.ObjectsVisited++

	n, ok := v.ds.GetNeuron(neuronID)
	if !ok {
		result.Add(Issue{
			Severity:   SeverityError,
			Type:       IssueMissingID,
			Message:    "neuron does not exist",
			ObjectID:   neuronID,
			ObjectType: types.KindNeuron.String(),
		})
		return
	}

	if !v.cfg.CheckConnectivity {
		return
	}

	if axonID := n.AxonID(); axonID != 0 {
		if types.KindOf(axonID) != types.KindAxon {
			result.Add(Issue{
				Severity:   SeverityError,
				Type:       IssueTypeMismatch,
				Message:    fmt.Sprintf("axon reference %d is not in the axon range", axonID),
				ObjectID:   neuronID,
				ObjectType: types.KindNeuron.String(),
			})
		} else if axon, ok := v.ds.GetAxon(axonID); !ok {
			result.Add(Issue{
				Severity:   SeverityError,
				Type:       IssueDanglingReference,
				Message:    fmt.Sprintf("axon %d does not exist", axonID),
				ObjectID:   neuronID,
				ObjectType: types.KindNeuron.String(),
			})
		} else {
			if v.cfg.CheckResourceLimits && axon.SynapseCount() > v.cfg.MaxSynapsesPerAxon {
				result.Add(Issue{
					Severity:   SeverityWarning,
					Type:       IssueLimitExceeded,
					Message:    fmt.Sprintf("axon %d carries %d synapses, limit %d", axonID, axon.SynapseCount(), v.cfg.MaxSynapsesPerAxon),
					ObjectID:   neuronID,
					ObjectType: types.KindNeuron.String(),
				})
			}
			for _, synapseID := range axon.SynapseIDs() {
				v.validateSynapse(synapseID, result)
			}
		}
	}

	dendriteIDs := n.DendriteIDs()
	if v.cfg.CheckResourceLimits && len(dendriteIDs) > v.cfg.MaxDendritesPerNeuron {
		result.Add(Issue{
			Severity:   SeverityWarning,
			Type:       IssueLimitExceeded,
			Message:    fmt.Sprintf("neuron has %d dendrites, limit %d", len(dendriteIDs), v.cfg.MaxDendritesPerNeuron),
			ObjectID:   neuronID,
			ObjectType: types.KindNeuron.String(),
		})
	}
	for _, dendriteID := range dendriteIDs {
		if types.KindOf(dendriteID) != types.KindDendrite {
			result.Add(Issue{
				Severity:   SeverityError,
				Type:       IssueTypeMismatch,
				Message:    fmt.Sprintf("dendrite reference %d is not in the dendrite range", dendriteID),
				ObjectID:   neuronID,
				ObjectType: types.KindNeuron.String(),
			})
			continue
		}
		if _, ok := v.ds.GetDendrite(dendriteID); !ok {
			result.Add(Issue{
				Severity:   SeverityError,
				Type:       IssueDanglingReference,
				Message:    fmt.Sprintf("dendrite %d does not exist", dendriteID),
				ObjectID:   neuronID,
				ObjectType: types.KindNeuron.String(),
			})
		}
	}
}

func (v *Validator) validateSynapse(synapseID uint64, result *Result) {
	result.ObjectsVisited++

	s, ok := v.ds.GetSynapse(synapseID)
	if !ok {
		result.Add(Issue{
			Severity:   SeverityError,
			Type:       IssueMissingID,
			Message:    "synapse does not exist",
			ObjectID:   synapseID,
			ObjectType: types.KindSynapse.String(),
		})
		return
	}

	if types.KindOf(s.AxonID()) != types.KindAxon {
		result.Add(Issue{
			Severity:   SeverityError,
			Type:       IssueTypeMismatch,
			Message:    fmt.Sprintf("axon reference %d is not in the axon range", s.AxonID()),
			ObjectID:   synapseID,
			ObjectType: types.KindSynapse.String(),
		})
	}
	if types.KindOf(s.DendriteID()) != types.KindDendrite {
		result.Add(Issue{
			Severity:   SeverityError,
			Type:       IssueTypeMismatch,
			Message:    fmt.Sprintf("dendrite reference %d is not in the dendrite range", s.DendriteID()),
			ObjectID:   synapseID,
			ObjectType: types.KindSynapse.String(),
		})
	} else if _, ok := v.ds.GetDendrite(s.DendriteID()); !ok {
		result.Add(Issue{
			Severity:   SeverityError,
			Type:       IssueDanglingReference,
			Message:    fmt.Sprintf("dendrite %d does not exist", s.DendriteID()),
			ObjectID:   synapseID,
			ObjectType: types.KindSynapse.String(),
		})
	}

	if w := s.Weight(); w < synapse.WEIGHT_FLOOR || w > synapse.WEIGHT_CEILING {
		result.Add(Issue{
			Severity:   SeverityError,
			Type:       IssueInvalidValue,
			Message:    fmt.Sprintf("weight %.4f outside [%.1f, %.1f]", w, synapse.WEIGHT_FLOOR, synapse.WEIGHT_CEILING),
			ObjectID:   synapseID,
			ObjectType: types.KindSynapse.String(),
		})
	}
	if s.DelayMs() <= 0 {
		result.Add(Issue{
			Severity:   SeverityError,
			Type:       IssueInvalidValue,
			Message:    fmt.Sprintf("delay %.4f must be positive", s.DelayMs()),
			ObjectID:   synapseID,
			ObjectType: types.KindSynapse.String(),
		})
	}
}
