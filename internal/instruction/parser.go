// Package instruction decomposes free-form operator instructions into
// discrete work items using keyword heuristics.
package instruction

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crewfoundry/foreman/pkg/models"
)

// Base duration estimates per specialization kind.
const (
	baseDevelopment       = 4 * time.Hour
	baseTesting           = 2 * time.Hour
	baseUXDesign          = 3 * time.Hour
	baseProjectManagement = 1 * time.Hour
)

// sentenceSplit matches sentence terminators and newlines.
var sentenceSplit = regexp.MustCompile(`[.!?\n]+`)

// Parse decomposes an instruction into an InstructionBreakdown.
// It is a pure function of the input text: an empty or whitespace-only
// instruction yields an empty breakdown, never an error. The caller decides
// whether an empty breakdown is fatal.
func Parse(text string) *models.InstructionBreakdown {
	breakdown := &models.InstructionBreakdown{
		ID:          uuid.New().String()[:8],
		Instruction: text,
	}

	fragments := sentenceSplit.Split(text, -1)

	seenKinds := make(map[models.SpecializationKind]bool)
	var totalHours float64

	for _, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}

		lower := strings.ToLower(fragment)
		required := detectSpecialization(lower)
		duration := estimateDuration(required.Kind, lower)

		item := models.WorkItem{
			ID:                uuid.New().String()[:8],
			Title:             itemTitle(fragment),
			Description:       fragment,
			Required:          required,
			EstimatedDuration: duration,
			Priority:          detectPriority(lower),
		}

		breakdown.Items = append(breakdown.Items, item)
		totalHours += duration.Hours()

		if !seenKinds[required.Kind] {
			seenKinds[required.Kind] = true
			breakdown.RequiredKinds = append(breakdown.RequiredKinds, required.Kind)
		}
	}

	breakdown.Complexity = complexityScore(len(breakdown.Items), totalHours, strings.ToLower(text))

	return breakdown
}

// detectSpecialization matches a lowercased fragment against the keyword
// groups. Development is the fallback when nothing matches.
func detectSpecialization(lower string) models.Specialization {
	kind := models.SpecDevelopment

	switch {
	case containsAny(lower, DefaultSpecializationKeywords.Testing):
		kind = models.SpecTesting
	case containsAny(lower, DefaultSpecializationKeywords.UXDesign):
		kind = models.SpecUXDesign
	case containsAny(lower, DefaultSpecializationKeywords.ProjectManagement):
		kind = models.SpecProjectManagement
	case containsAny(lower, DefaultSpecializationKeywords.Development):
		kind = models.SpecDevelopment
	}

	return models.Specialization{
		Kind: kind,
		Tags: detectTags(kind, lower),
	}
}

// detectTags collects sub-specialization tags present in the fragment.
func detectTags(kind models.SpecializationKind, lower string) []string {
	var tags []string
	for _, tag := range tagKeywords[kind] {
		if strings.Contains(lower, tag) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// wordSplit extracts letter runs for whole-word priority checks.
var wordSplit = regexp.MustCompile(`[a-z]+`)

// detectPriority maps urgency language onto a priority, defaulting to Medium.
// Single-word keywords match whole words only, so "lower" or "highlight"
// never trigger; multi-word phrases keep substring matching.
func detectPriority(lower string) models.Priority {
	words := make(map[string]bool)
	for _, w := range wordSplit.FindAllString(lower, -1) {
		words[w] = true
	}

	for _, group := range priorityKeywords {
		for _, kw := range group.words {
			if strings.ContainsAny(kw, " -") {
				if strings.Contains(lower, kw) {
					return group.priority
				}
			} else if words[kw] {
				return group.priority
			}
		}
	}
	return models.PriorityMedium
}

// estimateDuration returns the specialization-dependent base estimate,
// doubled for complex language and halved for simple language.
func estimateDuration(kind models.SpecializationKind, lower string) time.Duration {
	var base time.Duration
	switch kind {
	case models.SpecTesting:
		base = baseTesting
	case models.SpecUXDesign:
		base = baseUXDesign
	case models.SpecProjectManagement:
		base = baseProjectManagement
	default:
		base = baseDevelopment
	}

	if containsAny(lower, complexityUp) {
		return base * 2
	}
	if containsAny(lower, complexityDown) {
		return base / 2
	}
	return base
}

// complexityScore computes the aggregate breakdown complexity, clamped to [0,1].
// Item count and total estimated hours both contribute; systemic-integration
// language adds a flat bump.
func complexityScore(itemCount int, totalHours float64, lowerText string) float64 {
	score := 0.3*float64(itemCount) + 0.1*totalHours
	if containsAny(lowerText, integrationKeywords) {
		score += 0.5
	}
	return math.Min(1.0, math.Max(0.0, score))
}

// itemTitle derives a short title from an instruction fragment.
func itemTitle(fragment string) string {
	const maxTitle = 72
	if len(fragment) <= maxTitle {
		return fragment
	}
	cut := strings.LastIndex(fragment[:maxTitle], " ")
	if cut <= 0 {
		cut = maxTitle
	}
	return fragment[:cut] + "..."
}

// containsAny reports whether any of the keywords occurs in s.
func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
