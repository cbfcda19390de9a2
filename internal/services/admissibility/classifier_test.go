package admissibility

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"TAMObserver/internal/domain/models"
)

var okBar = models.Bar{Timestamp: "t", Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}

func vec(compression, slope, persistence, headroom, reentry float64) models.DiagnosticVector {
	return models.DiagnosticVector{
		models.DiagBasinCompression:  compression,
		models.DiagEscapeSlope:       slope,
		models.DiagPersistence:       persistence,
		models.DiagExcursionHeadroom: headroom,
		models.DiagReentryRisk:       reentry,
	}
}

type stubFilter struct {
	vetoed bool
	calls  int
}

func (f *stubFilter) Veto(models.Bar, models.DiagnosticVector) (string, bool) {
	f.calls++
	return "regime volatile", f.vetoed
}

func TestClassifier_RuleTable(t *testing.T) {
	c := NewClassifier(nil)
	cases := []struct {
		name string
		prev models.AdmissibilityState
		diag models.DiagnosticVector
		to   models.AdmissibilityState
		rule Rule
	}{
		{"basin holds when confined", models.StateBasin, vec(0.9, 0, 0, 1, 0.9), models.StateBasin, RuleHold},
		{"basin loosens", models.StateBasin, vec(0.3, 0.4, 2, 0.9, 0.3), models.StateTension, RuleLoosened},
		{"basin holds when a bar loosens and clears together", models.StateBasin, vec(0.1, 1.5, 1, 0.6, 0.1), models.StateBasin, RuleHold},
		{"basin holds on a downward clear", models.StateBasin, vec(0.1, -1.0, 1, 0.7, 0.1), models.StateBasin, RuleHold},
		{"tension clears", models.StateTension, vec(0.2, 1.0, 3, 0.75, 0.2), models.StateEscape, RuleCleared},
		{"tension clears downward", models.StateTension, vec(0.2, -1.2, 4, 0.7, 0.2), models.StateEscape, RuleCleared},
		{"tension needs persistence above floor", models.StateTension, vec(0.2, 1.3, 2, 0.7, 0.2), models.StateTension, RuleHold},
		{"tension recovers", models.StateTension, vec(0.5, 0.2, 1, 0.95, 0.5), models.StateBasin, RuleRecovered},
		{"escape holds", models.StateEscape, vec(0.1, 1.4, 5, 0.6, 0.1), models.StateEscape, RuleHold},
		{"escape spends headroom", models.StateEscape, vec(0.1, 4.2, 9, 0, 0.1), models.StateExhausted, RuleHeadroomSpent},
		{"escape reenters", models.StateEscape, vec(0.2, 0.3, 1, 0.9, 0.8), models.StateExhausted, RuleReentry},
		{"headroom wins over reentry", models.StateEscape, vec(0.2, 4, 1, 0, 0.9), models.StateExhausted, RuleHeadroomSpent},
		{"exhausted holds while loose", models.StateExhausted, vec(0.2, 0, 0, 1, 0.2), models.StateExhausted, RuleHold},
		{"exhausted reverts", models.StateExhausted, vec(0.7, 0, 0, 1, 0.7), models.StateBasin, RuleReverted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Next(tc.prev, okBar, tc.diag, nil)
			assert.Equal(t, tc.prev, got.From)
			assert.Equal(t, tc.to, got.To)
			assert.Equal(t, tc.rule, got.Rule)
		})
	}
}

func TestClassifier_Invalidation(t *testing.T) {
	c := NewClassifier(nil)
	healthy := vec(0.9, 0, 0, 1, 0.9)

	degenerate := models.Bar{Timestamp: "t", Open: 5, High: 5, Low: 5, Close: 5, Volume: 1}
	for _, prev := range []models.AdmissibilityState{models.StateBasin, models.StateTension, models.StateEscape, models.StateExhausted} {
		got := c.Next(prev, degenerate, healthy, nil)
		assert.Equal(t, models.StateInvalidated, got.To, prev)
		assert.Equal(t, RuleInvalidated, got.Rule)
		assert.Contains(t, got.Reason, "degenerate_range")
	}

	idle := degenerate
	idle.Volume = 0
	assert.Equal(t, models.StateBasin, c.Next(models.StateBasin, idle, healthy, nil).To)

	got := c.Next(models.StateBasin, okBar, models.DiagnosticVector{}, errors.New("boom"))
	assert.Equal(t, models.StateInvalidated, got.To)
	assert.Contains(t, got.Reason, "boom")

	got = c.Next(models.StateEscape, okBar, vec(math.NaN(), 1, 1, 1, 1), nil)
	assert.Equal(t, models.StateInvalidated, got.To)
	assert.Contains(t, got.Reason, models.DiagBasinCompression)

	got = c.Next(models.StateInvalidated, okBar, healthy, nil)
	assert.Equal(t, models.StateInvalidated, got.To)
	assert.Equal(t, RuleAbsorbed, got.Rule)
	assert.False(t, got.Changed())
}

func TestClassifier_RegimeVeto(t *testing.T) {
	filter := &stubFilter{vetoed: true}
	c := NewClassifier(filter)

	clearing := vec(0.2, 1.1, 3, 0.7, 0.2)
	got := c.Next(models.StateTension, okBar, clearing, nil)
	assert.Equal(t, models.StateTension, got.To)
	assert.Equal(t, RuleVetoed, got.Rule)
	assert.Equal(t, "regime volatile", got.Reason)
	assert.Equal(t, models.ModeRegimeVeto, Attribute(got, clearing))

	c.Next(models.StateBasin, okBar, vec(0.2, 0.1, 0, 1, 0.2), nil)
	assert.Equal(t, 1, filter.calls, "the filter is consulted only on would-be escapes")

	filter.vetoed = false
	assert.Equal(t, models.StateEscape, c.Next(models.StateTension, okBar, clearing, nil).To)
}

func TestAttribute(t *testing.T) {
	confined := vec(0.9, 0, 0, 1, 0.9)
	loose := vec(0.2, 0.5, 2, 0.9, 0.2)

	assert.Equal(t, models.ModeFrictionLethal, Attribute(Transition{From: models.StateBasin, To: models.StateBasin, Rule: RuleHold}, confined))
	assert.Equal(t, models.ModeUnknown, Attribute(Transition{From: models.StateBasin, To: models.StateTension, Rule: RuleLoosened}, loose))
	assert.Equal(t, models.ModeFrictionLethal, Attribute(Transition{From: models.StateTension, To: models.StateBasin, Rule: RuleRecovered}, confined))
	assert.Equal(t, models.ModeExcursionHeadroom, Attribute(Transition{From: models.StateEscape, To: models.StateExhausted, Rule: RuleHeadroomSpent}, loose))
	assert.Equal(t, models.ModeReentryConstraint, Attribute(Transition{From: models.StateEscape, To: models.StateExhausted, Rule: RuleReentry}, loose))
	assert.Equal(t, models.ModeStructureInvalidated, Attribute(Transition{From: models.StateEscape, To: models.StateInvalidated, Rule: RuleInvalidated}, loose))
	assert.Equal(t, models.ModeStructureInvalidated, Attribute(Transition{From: models.StateInvalidated, To: models.StateInvalidated, Rule: RuleAbsorbed}, loose))
	assert.Equal(t, models.ModeUnknown, Attribute(Transition{From: models.StateEscape, To: models.StateEscape, Rule: RuleHold}, loose))
}

func TestBoundaryAndInvalidationFields(t *testing.T) {
	moved := Transition{From: models.StateTension, To: models.StateEscape, Rule: RuleCleared}
	assert.Equal(t, "TENSION->ESCAPE", BoundaryEvent(moved))
	assert.Empty(t, InvalidationReason(moved))

	held := Transition{From: models.StateEscape, To: models.StateEscape}
	assert.Empty(t, BoundaryEvent(held))

	broken := Transition{From: models.StateBasin, To: models.StateInvalidated, Rule: RuleInvalidated, Reason: "x"}
	assert.Equal(t, "BASIN->INVALIDATED", BoundaryEvent(broken))
	assert.Equal(t, "x", InvalidationReason(broken))
}
