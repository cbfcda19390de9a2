package admissibility

import (
	"TAMObserver/internal/domain/models"
)

// Attribute picks the single mode that explains t.
func Attribute(t Transition, diag models.DiagnosticVector) models.DominantMode {
	switch t.Rule {
	case RuleInvalidated, RuleAbsorbed:
		return models.ModeStructureInvalidated
	case RuleVetoed:
		return models.ModeRegimeVeto
	case RuleHeadroomSpent:
		return models.ModeExcursionHeadroom
	case RuleReentry:
		return models.ModeReentryConstraint
	case RuleRecovered, RuleReverted:
		return models.ModeFrictionLethal
	}
	if t.To == models.StateBasin && diag[models.DiagBasinCompression] >= confinementThreshold {
		return models.ModeFrictionLethal
	}
	return models.ModeUnknown
}

// BoundaryEvent renders a state change as "FROM->TO"; empty when unchanged.
func BoundaryEvent(t Transition) string {
	if !t.Changed() {
		return ""
	}
	return t.From.String() + "->" + t.To.String()
}

// InvalidationReason is set only on the transition into INVALIDATED.
func InvalidationReason(t Transition) string {
	if t.Rule != RuleInvalidated {
		return ""
	}
	return t.Reason
}
