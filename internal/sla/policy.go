package sla

import (
	"fmt"
	"sort"
	"time"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

// EscalationAction names what happens when a step fires.
type EscalationAction string

const (
	ActionNotifyOwner      EscalationAction = "notify_owner"
	ActionNotifyEscalation EscalationAction = "notify_escalation"
)

// EscalationStep fires once when elapsed/resolution reaches Threshold.
type EscalationStep struct {
	Threshold float64          `yaml:"threshold" json:"threshold"`
	Action    EscalationAction `yaml:"action" json:"action"`
}

// Policy holds the budgets for one priority.
type Policy struct {
	Response    time.Duration
	Resolution  time.Duration
	Escalations []EscalationStep
}

// Table maps priorities to their policies.
type Table map[domain.TicketPriority]Policy

// DefaultTable returns the stock policy table.
func DefaultTable() Table {
	steps := func() []EscalationStep {
		return []EscalationStep{
			{Threshold: 1.0, Action: ActionNotifyOwner},
			{Threshold: 1.5, Action: ActionNotifyEscalation},
		}
	}
	return Table{
		domain.TicketPriorityCritical: {Response: time.Hour, Resolution: 4 * time.Hour, Escalations: steps()},
		domain.TicketPriorityHigh:     {Response: 2 * time.Hour, Resolution: 8 * time.Hour, Escalations: steps()},
		domain.TicketPriorityNormal:   {Response: 8 * time.Hour, Resolution: 36 * time.Hour, Escalations: steps()},
		domain.TicketPriorityLow:      {Response: 24 * time.Hour, Resolution: 72 * time.Hour, Escalations: steps()},
	}
}

// Validate sorts escalation steps and rejects non-positive budgets.
func (t Table) Validate() error {
	for p, policy := range t {
		if policy.Resolution <= 0 || policy.Response < 0 {
			return apperrors.NewValidationError(fmt.Sprintf("invalid budgets for priority %q", p), nil)
		}
		for _, step := range policy.Escalations {
			if step.Threshold <= 0 {
				return apperrors.NewValidationError(fmt.Sprintf("invalid escalation threshold for priority %q", p), nil)
			}
		}
		sort.SliceStable(policy.Escalations, func(i, j int) bool {
			return policy.Escalations[i].Threshold < policy.Escalations[j].Threshold
		})
		t[p] = policy
	}
	return nil
}

// Lookup returns the policy for p.
func (t Table) Lookup(p domain.TicketPriority) (Policy, error) {
	policy, ok := t[p]
	if !ok {
		return Policy{}, apperrors.NewValidationError(fmt.Sprintf("unknown priority %q", p), map[string]any{"priority": string(p)})
	}
	return policy, nil
}

// DueSet is the pair of deadlines derived from a clock start.
type DueSet struct {
	ResponseDue   time.Time
	ResolutionDue time.Time
}

// Deadlines derives response and resolution deadlines from start.
func Deadlines(cal *Calendar, policy Policy, start time.Time) DueSet {
	return DueSet{
		ResponseDue:   cal.Add(start, policy.Response),
		ResolutionDue: cal.Add(start, policy.Resolution),
	}
}

// Ratio is elapsed business time over the resolution budget.
func Ratio(elapsed time.Duration, policy Policy) float64 {
	if policy.Resolution <= 0 {
		return 0
	}
	return float64(elapsed) / float64(policy.Resolution)
}

// DueSteps returns the steps at index >= fired whose threshold is reached.
func DueSteps(policy Policy, fired int, ratio float64) []EscalationStep {
	var out []EscalationStep
	for i, step := range policy.Escalations {
		if i < fired {
			continue
		}
		if step.Threshold <= ratio {
			out = append(out, step)
		}
	}
	return out
}
