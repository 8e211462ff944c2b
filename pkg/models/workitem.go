package models

import "time"

// SpecializationKind identifies the broad discipline a work item requires.
type SpecializationKind string

const (
	// SpecDevelopment indicates software implementation work.
	SpecDevelopment SpecializationKind = "development"
	// SpecTesting indicates test authoring or verification work.
	SpecTesting SpecializationKind = "testing"
	// SpecUXDesign indicates user-experience or interface design work.
	SpecUXDesign SpecializationKind = "ux_design"
	// SpecProjectManagement indicates planning and coordination work.
	SpecProjectManagement SpecializationKind = "project_management"
)

// Valid returns true if the kind is a known value.
func (k SpecializationKind) Valid() bool {
	switch k {
	case SpecDevelopment, SpecTesting, SpecUXDesign, SpecProjectManagement:
		return true
	default:
		return false
	}
}

// Specialization describes what a work item requires or an agent offers.
// Tags narrow the kind: languages for development, test types for testing,
// design areas for UX, skills for project management.
type Specialization struct {
	// Kind is the discipline.
	Kind SpecializationKind `json:"kind" yaml:"kind"`
	// Tags are the sub-specializations within the kind.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Matches returns true if the other specialization shares the kind and,
// when both carry tags, at least one tag.
func (s Specialization) Matches(other Specialization) bool {
	if s.Kind != other.Kind {
		return false
	}
	if len(s.Tags) == 0 || len(other.Tags) == 0 {
		return true
	}
	for _, a := range s.Tags {
		for _, b := range other.Tags {
			if a == b {
				return true
			}
		}
	}
	return false
}

// Priority represents the urgency of a work item.
type Priority string

const (
	// PriorityLow indicates work that can wait.
	PriorityLow Priority = "low"
	// PriorityMedium is the default priority.
	PriorityMedium Priority = "medium"
	// PriorityHigh indicates important work.
	PriorityHigh Priority = "high"
	// PriorityCritical indicates urgent work that preempts everything else.
	PriorityCritical Priority = "critical"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Weight returns a numeric ordering for sorting, higher is more urgent.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// WorkItem is one unit of decomposed instruction work.
// It is immutable once created by the instruction parser.
type WorkItem struct {
	// ID is the unique identifier for this work item.
	ID string `json:"id"`
	// Title is the short description of the work item.
	Title string `json:"title"`
	// Description is the full instruction fragment this item came from.
	Description string `json:"description,omitempty"`
	// Required is the specialization this item needs.
	Required Specialization `json:"required"`
	// EstimatedDuration is the keyword-derived duration estimate.
	EstimatedDuration time.Duration `json:"estimated_duration"`
	// Priority is the urgency derived from the instruction text.
	Priority Priority `json:"priority"`
	// DependsOn lists work item IDs that must complete before this one.
	DependsOn []string `json:"depends_on,omitempty"`
}

// InstructionBreakdown is the result of decomposing one operator instruction.
// It is read-only after creation.
type InstructionBreakdown struct {
	// ID is the unique identifier for this breakdown.
	ID string `json:"id"`
	// Instruction is the original instruction text.
	Instruction string `json:"instruction"`
	// Items are the work items derived from the instruction, in order.
	Items []WorkItem `json:"items"`
	// Complexity is an aggregate score in [0,1].
	Complexity float64 `json:"complexity"`
	// RequiredKinds is the set of distinct specialization kinds required.
	RequiredKinds []SpecializationKind `json:"required_kinds"`
}

// Empty returns true if no work items were derived from the instruction.
func (b *InstructionBreakdown) Empty() bool {
	return len(b.Items) == 0
}
