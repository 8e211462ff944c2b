// Package match scores agent capability profiles against work items.
// Scoring is pure: committing an assignment (and the load mutation that
// comes with it) is the caller's job.
package match

import (
	"fmt"
	"time"

	"github.com/crewfoundry/foreman/pkg/models"
)

// Scoring weights. Specialization fit dominates, then available headroom,
// then track record, then how long the agent has sat unassigned.
const (
	weightSpecialization = 0.4
	weightLoad           = 0.3
	weightSuccess        = 0.2
	weightAvailability   = 0.1
)

// specializationMismatch is the floor score for an agent without the required
// specialization. Never zero: an unmatched agent stays eligible as a fallback.
const specializationMismatch = 0.3

// MinScore is the eligibility threshold. Agents scoring at or below it are
// excluded from selection.
const MinScore = 0.5

// Result is the outcome of one matching call. Transient; not persisted.
type Result struct {
	// Profile is the chosen agent's profile, nil when no agent qualified.
	Profile *models.AgentCapabilityProfile
	// Score is the winning weighted score.
	Score float64
	// Rationale is a short human-readable justification.
	Rationale string
}

// Matched returns true if an agent was selected.
func (r *Result) Matched() bool {
	return r.Profile != nil
}

// FindBestAgent scores every profile against the work item and returns the
// highest scorer above MinScore. Profiles must be in registration order;
// ties keep the earlier profile. IDs in exclude are skipped entirely, which
// the reassignment path uses to avoid handing work back to a stalled agent.
func FindBestAgent(profiles []models.AgentCapabilityProfile, item models.WorkItem, exclude map[string]bool) Result {
	best := Result{}

	for i := range profiles {
		p := &profiles[i]
		if exclude[p.ID] {
			continue
		}

		score, rationale := Score(p, item)
		if score <= MinScore {
			continue
		}
		if score > best.Score {
			best = Result{Profile: p, Score: score, Rationale: rationale}
		}
	}

	return best
}

// Score computes the weighted score for one profile against a work item,
// along with a short justification.
func Score(p *models.AgentCapabilityProfile, item models.WorkItem) (float64, string) {
	spec := specializationMismatch
	specNote := "fallback specialization"
	if p.HasSpecialization(item.Required) {
		spec = 1.0
		specNote = fmt.Sprintf("matches %s", item.Required.Kind)
	}

	load := loadScore(p)
	avail := availabilityScore(p, time.Now())

	total := weightSpecialization*spec +
		weightLoad*load +
		weightSuccess*p.SuccessRate +
		weightAvailability*avail

	rationale := fmt.Sprintf("%s; load %.0f%%; success %.0f%%",
		specNote, p.CurrentLoad/nonZero(p.LoadCapacity)*100, p.SuccessRate*100)

	return total, rationale
}

// loadScore is the fraction of capacity still free, floored at zero when the
// agent is at or over capacity.
func loadScore(p *models.AgentCapabilityProfile) float64 {
	if p.LoadCapacity <= 0 {
		return 0
	}
	return p.AvailableCapacity() / p.LoadCapacity
}

// availabilityScore rewards agents that have waited longest since their last
// assignment, saturating at 24 hours. Never-assigned agents score full marks.
func availabilityScore(p *models.AgentCapabilityProfile, now time.Time) float64 {
	if p.LastAssignedAt.IsZero() {
		return 1.0
	}
	hours := now.Sub(p.LastAssignedAt).Hours()
	if hours >= 24 {
		return 1.0
	}
	if hours < 0 {
		return 0
	}
	return hours / 24
}

func nonZero(f float64) float64 {
	if f == 0 {
		return 1
	}
	return f
}
