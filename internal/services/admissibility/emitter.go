package admissibility

import "TAMObserver/internal/domain/models"

// Emit assembles the record for one bar. diag is copied.
func Emit(bar models.Bar, c models.ExecutionConstraints, t Transition, diag models.DiagnosticVector) models.ObservationRecord {
	return models.ObservationRecord{
		Timestamp:          bar.Timestamp,
		State:              t.To,
		DominantMode:       Attribute(t, diag),
		FrictionFloor:      c.FrictionFloor,
		MinMove:            c.MinMove,
		MReq:               c.MReq(),
		Diagnostics:        diag.Clone(),
		BoundaryEvent:      BoundaryEvent(t),
		InvalidationReason: InvalidationReason(t),
	}
}
