package coordinator

import (
	"sort"
	"time"

	"github.com/crewfoundry/foreman/pkg/models"
)

// orderByPriority sorts assignments most urgent first, keeping the
// original order among equals.
func orderByPriority(items []Assignment) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Item.Priority.Weight() > items[j].Item.Priority.Weight()
	})
}

// StalledItem is a flagged work item with the reason it was flagged.
type StalledItem struct {
	// ItemID is the flagged work item.
	ItemID string
	// AgentID is the agent the item was assigned to.
	AgentID string
	// Reason is a short human-readable explanation.
	Reason string
}

// ScanForStalledWork inspects in-progress assignments against their
// agents' live records. An item is flagged when its agent reached a
// Failed or Terminated state while the item is still in progress, or
// when a running agent has shown no output progress for longer than
// the stall window. Read-only: records are copied out of the registry,
// never mutated here.
func (c *Coordinator) ScanForStalledWork() []StalledItem {
	stallWindow := c.cfg.Monitor.StallWindow
	now := time.Now()

	c.mu.Lock()
	inProgress := make([]Assignment, 0)
	for _, a := range c.assignments {
		if a.Status == StatusInProgress && a.AgentID != "" {
			inProgress = append(inProgress, *a)
		}
	}
	c.mu.Unlock()

	var flagged []StalledItem
	for _, a := range inProgress {
		record, err := c.reg.Record(a.AgentID)
		if err != nil {
			debugLog("scan: record for %s: %v", a.AgentID, err)
			continue
		}
		// The record may already belong to a newer execution; only
		// judge it while it still concerns this item.
		if record.WorkItemID != a.Item.ID {
			continue
		}

		if record.State == models.StateFailed || record.State == models.StateTerminated {
			flagged = append(flagged, StalledItem{
				ItemID:  a.Item.ID,
				AgentID: a.AgentID,
				Reason:  "agent " + string(record.State) + " while item in progress",
			})
			continue
		}

		if record.State == models.StateRunning {
			progress := record.LastOutputAt
			if progress.IsZero() {
				progress = record.StartedAt
			}
			if !progress.IsZero() && now.Sub(progress) > stallWindow {
				flagged = append(flagged, StalledItem{
					ItemID:  a.Item.ID,
					AgentID: a.AgentID,
					Reason:  "no progress for " + now.Sub(progress).Truncate(time.Second).String(),
				})
			}
		}
	}

	return flagged
}

// StartMonitor launches the reassignment monitor on its configured scan
// cadence. The loop exits when the coordinator is stopped.
func (c *Coordinator) StartMonitor() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.cfg.Monitor.ScanInterval)
		defer ticker.Stop()

		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				c.scanOnce()
			}
		}
	}()
}

// scanOnce runs one monitor cycle: reassign stalled work, then retry
// unassigned and rework items.
func (c *Coordinator) scanOnce() {
	for _, stalled := range c.ScanForStalledWork() {
		c.reassign(stalled)
	}
	c.retryParked()
}

// reassign hands a stalled item back to the matcher, excluding the
// stalled agent, with the emergency overshoot tolerance in effect.
func (c *Coordinator) reassign(stalled StalledItem) {
	c.mu.Lock()
	a, ok := c.assignments[stalled.ItemID]
	if !ok || a.Status != StatusInProgress || a.AgentID != stalled.AgentID {
		c.mu.Unlock()
		return
	}
	item := a.Item
	a.Status = StatusUnassigned
	a.UpdatedAt = time.Now()
	c.mu.Unlock()

	debugLog("reassigning item %s away from %s: %s", stalled.ItemID, stalled.AgentID, stalled.Reason)

	// Make sure the stalled process is actually gone before the item
	// runs somewhere else.
	if c.exec.Terminate(stalled.AgentID) {
		c.emitter.Emit(Event{
			Type:       EventAgentTerminated,
			AgentID:    stalled.AgentID,
			WorkItemID: stalled.ItemID,
			Message:    stalled.Reason,
		})
	}

	if !c.claim(item.ID, StatusUnassigned) {
		return
	}

	c.emitter.Emit(Event{
		Type:       EventItemReassigned,
		AgentID:    stalled.AgentID,
		WorkItemID: item.ID,
		Message:    stalled.Reason,
	})

	exclude := map[string]bool{stalled.AgentID: true}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.assignAndExecute(c.ctx, item, exclude, true); err != nil {
			debugLog("reassign item %s: %v", item.ID, err)
		}
	}()
}

// retryParked re-runs items parked as unassigned or rework, most urgent
// first. Items are claimed before launching so concurrent cycles never
// double-execute.
func (c *Coordinator) retryParked() {
	c.mu.Lock()
	var retry []Assignment
	for _, a := range c.assignments {
		if a.Status == StatusUnassigned || a.Status == StatusRework {
			retry = append(retry, *a)
		}
	}
	c.mu.Unlock()

	orderByPriority(retry)

	for _, a := range retry {
		if blocked, _ := c.blockedOn(a.Item); blocked {
			continue
		}
		if !c.claim(a.Item.ID, a.Status) {
			continue
		}

		item := a.Item
		exclude := map[string]bool{}
		if a.Status == StatusRework && a.AgentID != "" {
			// Rework goes to a different agent when one qualifies;
			// the previous agent stays eligible as a fallback via
			// normal matching once excluded matching finds nothing.
			exclude[a.AgentID] = true
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if _, err := c.assignAndExecute(c.ctx, item, exclude, false); err != nil {
				debugLog("retry item %s: %v", item.ID, err)
			}
		}()
	}
}
