package admissibility

import (
	"fmt"
	"math"
	"sort"

	"TAMObserver/internal/domain/models"
	"TAMObserver/internal/domain/service"
)

const (
	confinementThreshold = 0.5
	clearingMagnitude    = 1.0
	persistenceFloor     = 2.0
	headroomExhaustion   = 0.0
	reversionThreshold   = 0.75
)

// Rule identifies which transition rule produced a Transition.
type Rule int

const (
	RuleHold Rule = iota
	RuleInvalidated
	RuleLoosened
	RuleCleared
	RuleRecovered
	RuleHeadroomSpent
	RuleReentry
	RuleReverted
	RuleVetoed
	RuleAbsorbed
)

var ruleNames = map[Rule]string{
	RuleHold:          "hold",
	RuleInvalidated:   "invalidated",
	RuleLoosened:      "loosened",
	RuleCleared:       "cleared",
	RuleRecovered:     "recovered",
	RuleHeadroomSpent: "headroom_spent",
	RuleReentry:       "reentry",
	RuleReverted:      "reverted",
	RuleVetoed:        "vetoed",
	RuleAbsorbed:      "absorbed",
}

func (r Rule) String() string { return ruleNames[r] }

// Transition is the classifier's decision for one bar.
type Transition struct {
	From   models.AdmissibilityState
	To     models.AdmissibilityState
	Rule   Rule
	Reason string // invalidation or veto reason
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool { return t.From != t.To }

// Classifier applies the ordered transition rules. It holds no per-stream
// state; the caller passes the previous state in.
type Classifier struct {
	filter service.RegimeFilter
}

func NewClassifier(filter service.RegimeFilter) *Classifier {
	return &Classifier{filter: filter}
}

// Next evaluates the rules in priority order for one bar. diagErr is the
// diagnostic engine's error for this bar, if any.
func (c *Classifier) Next(prev models.AdmissibilityState, bar models.Bar, diag models.DiagnosticVector, diagErr error) Transition {
	t := Transition{From: prev, To: prev, Rule: RuleHold}

	if prev == models.StateInvalidated {
		t.Rule = RuleAbsorbed
		return t
	}

	if reason := invalidationReason(bar, diag, diagErr); reason != "" {
		t.To, t.Rule, t.Reason = models.StateInvalidated, RuleInvalidated, reason
		return t
	}

	compression := diag[models.DiagBasinCompression]
	slope := math.Abs(diag[models.DiagEscapeSlope])
	confined := compression >= confinementThreshold

	switch prev {
	case models.StateBasin:
		// A bar that loosens confinement and clears m_req at once is not
		// tension; it stays BASIN.
		if !confined && slope < clearingMagnitude {
			t.To, t.Rule = models.StateTension, RuleLoosened
		}
	case models.StateTension:
		switch {
		case slope >= clearingMagnitude && diag[models.DiagPersistence] > persistenceFloor:
			if reason, vetoed := c.veto(bar, diag); vetoed {
				t.Rule, t.Reason = RuleVetoed, reason
				return t
			}
			t.To, t.Rule = models.StateEscape, RuleCleared
		case confined:
			t.To, t.Rule = models.StateBasin, RuleRecovered
		}
	case models.StateEscape:
		switch {
		case diag[models.DiagExcursionHeadroom] <= headroomExhaustion:
			t.To, t.Rule = models.StateExhausted, RuleHeadroomSpent
		case diag[models.DiagReentryRisk] > reversionThreshold:
			t.To, t.Rule = models.StateExhausted, RuleReentry
		}
	case models.StateExhausted:
		if confined {
			t.To, t.Rule = models.StateBasin, RuleReverted
		}
	}
	return t
}

func (c *Classifier) veto(bar models.Bar, diag models.DiagnosticVector) (string, bool) {
	if c.filter == nil {
		return "", false
	}
	return c.filter.Veto(bar, diag)
}

func invalidationReason(bar models.Bar, diag models.DiagnosticVector, diagErr error) string {
	if bar.High == bar.Low && bar.Volume > 0 {
		return "degenerate_range: high equals low with non-zero volume"
	}
	if diagErr != nil {
		return fmt.Sprintf("diagnostics_failed: %v", diagErr)
	}
	names := make([]string, 0, len(diag))
	for name := range diag {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := diag[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Sprintf("out_of_domain: %s=%v", name, v)
		}
	}
	return ""
}
