// Package lifecycle decides group state transitions. It performs no I/O:
// callers hand in a snapshot and the current time and get back a Decision.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/Gopher0727/Ephemera/internal/models"
)

// DefaultExpiringFraction is the share of lifetime left below which an
// active group with an absolute expiry is flagged as expiring.
const DefaultExpiringFraction = 0.10

// MaxInactivityThresholdDays bounds inactivity_threshold_days accepted at
// group creation.
const MaxInactivityThresholdDays = 36500

const day = 24 * time.Hour

type DecisionKind int

const (
	KindNoChange DecisionKind = iota
	KindTransition
)

// Decision is the evaluator's verdict: either NoChange or a transition to a
// target status. Reason is only set when the target is Archived.
type Decision struct {
	Kind   DecisionKind
	To     models.GroupStatus
	Reason models.ArchiveReason
}

func NoChange() Decision {
	return Decision{Kind: KindNoChange}
}

func TransitionTo(to models.GroupStatus, reason models.ArchiveReason) Decision {
	return Decision{Kind: KindTransition, To: to, Reason: reason}
}

func (d Decision) IsTransition() bool { return d.Kind == KindTransition }

func (d Decision) String() string {
	if !d.IsTransition() {
		return "no_change"
	}
	if d.Reason == models.ReasonNone {
		return fmt.Sprintf("-> %s", d.To)
	}
	return fmt.Sprintf("-> %s (%s)", d.To, d.Reason)
}

// Evaluator holds the tunables of the decision function.
type Evaluator struct {
	ExpiringFraction float64
}

// NewEvaluator returns an evaluator; a non-positive fraction falls back to the default.
func NewEvaluator(expiringFraction float64) Evaluator {
	if expiringFraction <= 0 || expiringFraction >= 1 {
		expiringFraction = DefaultExpiringFraction
	}
	return Evaluator{ExpiringFraction: expiringFraction}
}

// Evaluate applies the default evaluator.
func Evaluate(g models.Group, now time.Time) Decision {
	return NewEvaluator(DefaultExpiringFraction).Evaluate(g, now)
}

// Evaluate decides the next state for g at now. Triggers are checked in
// priority order and the first match wins, so a group is archived for exactly
// one reason: absolute expiry, then inactivity, then message limit. Only when
// none fires does the expiring-soon check run.
func (e Evaluator) Evaluate(g models.Group, now time.Time) Decision {
	if !g.Status.Live() {
		return NoChange()
	}
	p := g.Policy

	if p.AbsoluteExpiry != nil && !now.Before(*p.AbsoluteExpiry) {
		return TransitionTo(models.StatusArchived, models.ReasonTimeExpired)
	}
	if p.InactivityThresholdDays != nil {
		// Whole idle days are compared so a large threshold cannot overflow
		// a Duration.
		if now.Sub(g.LastActivityAt)/day >= time.Duration(*p.InactivityThresholdDays) {
			return TransitionTo(models.StatusArchived, models.ReasonInactive)
		}
	}
	if p.MessageLimit != nil && g.MessageCount >= *p.MessageLimit {
		return TransitionTo(models.StatusArchived, models.ReasonMessageLimit)
	}
	if g.Status == models.StatusActive {
		if remaining, ok := LifetimeRemaining(g, now); ok && remaining < e.ExpiringFraction {
			return TransitionTo(models.StatusExpiring, models.ReasonNone)
		}
	}
	return NoChange()
}

// LifetimeRemaining returns 1 - elapsed/lifetime clamped to [0, 1]. ok is
// false when the group has no absolute expiry. A zero or negative lifetime
// counts as fully consumed.
func LifetimeRemaining(g models.Group, now time.Time) (remaining float64, ok bool) {
	if g.Policy.AbsoluteExpiry == nil {
		return 0, false
	}
	lifetime := g.Policy.AbsoluteExpiry.Sub(g.CreatedAt)
	if lifetime <= 0 {
		return 0, true
	}
	// (expiry-now)/lifetime == 1 - elapsed/lifetime, without the rounding
	// error of subtracting from 1.
	remaining = float64(g.Policy.AbsoluteExpiry.Sub(now)) / float64(lifetime)
	switch {
	case remaining < 0:
		remaining = 0
	case remaining > 1:
		remaining = 1
	}
	return remaining, true
}
