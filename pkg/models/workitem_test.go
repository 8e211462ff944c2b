package models

import "testing"

func TestSpecializationKindValid(t *testing.T) {
	valid := []SpecializationKind{SpecDevelopment, SpecTesting, SpecUXDesign, SpecProjectManagement}
	for _, k := range valid {
		if !k.Valid() {
			t.Errorf("expected %q to be valid", k)
		}
	}

	if SpecializationKind("devops").Valid() {
		t.Error("expected unknown kind to be invalid")
	}
}

func TestSpecializationMatches(t *testing.T) {
	tests := []struct {
		name string
		a    Specialization
		b    Specialization
		want bool
	}{
		{
			name: "different kinds never match",
			a:    Specialization{Kind: SpecDevelopment, Tags: []string{"go"}},
			b:    Specialization{Kind: SpecTesting, Tags: []string{"go"}},
			want: false,
		},
		{
			name: "shared tag matches",
			a:    Specialization{Kind: SpecDevelopment, Tags: []string{"go", "rust"}},
			b:    Specialization{Kind: SpecDevelopment, Tags: []string{"python", "go"}},
			want: true,
		},
		{
			name: "disjoint tags do not match",
			a:    Specialization{Kind: SpecDevelopment, Tags: []string{"go"}},
			b:    Specialization{Kind: SpecDevelopment, Tags: []string{"python"}},
			want: false,
		},
		{
			name: "untagged side matches any tags",
			a:    Specialization{Kind: SpecTesting},
			b:    Specialization{Kind: SpecTesting, Tags: []string{"integration"}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Matches(tt.b); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPriorityWeightOrdering(t *testing.T) {
	if PriorityCritical.Weight() <= PriorityHigh.Weight() {
		t.Error("critical should outweigh high")
	}
	if PriorityHigh.Weight() <= PriorityMedium.Weight() {
		t.Error("high should outweigh medium")
	}
	if PriorityMedium.Weight() <= PriorityLow.Weight() {
		t.Error("medium should outweigh low")
	}
}

func TestPriorityValid(t *testing.T) {
	if !PriorityMedium.Valid() {
		t.Error("expected medium to be valid")
	}
	if Priority("blocker").Valid() {
		t.Error("expected unknown priority to be invalid")
	}
}

func TestBreakdownEmpty(t *testing.T) {
	b := &InstructionBreakdown{Instruction: "   "}
	if !b.Empty() {
		t.Error("breakdown without items should be empty")
	}

	b.Items = []WorkItem{{ID: "w1", Title: "do a thing"}}
	if b.Empty() {
		t.Error("breakdown with items should not be empty")
	}
}
