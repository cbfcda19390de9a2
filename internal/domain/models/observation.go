package models

import (
	"encoding/json"
	"time"
)

// AdmissibilityState is the regime label assigned to a bar.
type AdmissibilityState string

const (
	StateBasin       AdmissibilityState = "BASIN"
	StateTension     AdmissibilityState = "TENSION"
	StateEscape      AdmissibilityState = "ESCAPE"
	StateExhausted   AdmissibilityState = "EXHAUSTED"
	StateInvalidated AdmissibilityState = "INVALIDATED"
)

func (s AdmissibilityState) String() string { return string(s) }

// DominantMode names the signal that drove a record's label.
type DominantMode string

const (
	ModeFrictionLethal       DominantMode = "FRICTION_LETHAL"
	ModeExcursionHeadroom    DominantMode = "EXCURSION_HEADROOM"
	ModeReentryConstraint    DominantMode = "REENTRY_CONSTRAINT"
	ModeRegimeVeto           DominantMode = "REGIME_VETO"
	ModeStructureInvalidated DominantMode = "STRUCTURE_INVALIDATED"
	ModeUnknown              DominantMode = "UNKNOWN"
)

func (m DominantMode) String() string { return string(m) }

// Named diagnostic entries. Engines may add more.
const (
	DiagBasinCompression  = "basin_compression"
	DiagEscapeSlope       = "escape_slope"
	DiagPersistence       = "persistence"
	DiagExcursionHeadroom = "excursion_headroom"
	DiagReentryRisk       = "reentry_risk"
	DiagWindowFillRatio   = "window_fill_ratio"
)

// DiagnosticVector maps diagnostic names to values for one bar.
type DiagnosticVector map[string]float64

// Clone returns an independent copy.
func (d DiagnosticVector) Clone() DiagnosticVector {
	out := make(DiagnosticVector, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ObservationRecord is the immutable output for one observed bar.
type ObservationRecord struct {
	Timestamp          string             `json:"timestamp"`
	State              AdmissibilityState `json:"state"`
	DominantMode       DominantMode       `json:"dominant_mode"`
	FrictionFloor      float64            `json:"friction_floor"`
	MinMove            float64            `json:"min_move"`
	MReq               float64            `json:"m_req"`
	Diagnostics        DiagnosticVector   `json:"diagnostics"`
	BoundaryEvent      string             `json:"boundary_event,omitempty"`
	InvalidationReason string             `json:"invalidation_reason,omitempty"`
}

// Admissible reports whether the bar sits in an escape regime.
func (r ObservationRecord) Admissible() bool { return r.State == StateEscape }

// MarshalJSON adds the derived admissible flag.
func (r ObservationRecord) MarshalJSON() ([]byte, error) {
	type plain ObservationRecord
	return json.Marshal(struct {
		plain
		Admissible bool `json:"admissible"`
	}{plain(r), r.Admissible()})
}

// UnmarshalJSON ignores the derived admissible flag.
func (r *ObservationRecord) UnmarshalJSON(data []byte) error {
	type plain ObservationRecord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = ObservationRecord(p)
	return nil
}

// StreamObservation is a record tagged with the stream and session that
// produced it. This is what the service persists and publishes.
type StreamObservation struct {
	Symbol        string            `json:"symbol"`
	SessionID     string            `json:"session_id"`
	Seq           uint64            `json:"seq"`
	EngineVersion string            `json:"engine_version"`
	ObservedAt    time.Time         `json:"observed_at"`
	Record        ObservationRecord `json:"record"`
}

// StreamStatus summarizes a live stream.
type StreamStatus struct {
	Symbol        string             `json:"symbol"`
	SessionID     string             `json:"session_id"`
	State         AdmissibilityState `json:"state"`
	Observed      uint64             `json:"observed"`
	FrictionFloor float64            `json:"friction_floor"`
	MinMove       float64            `json:"min_move"`
	MReq          float64            `json:"m_req"`
}
