package service

import (
	"context"

	"TAMObserver/internal/domain/models"
)

// DiagnosticEngine turns a window snapshot into a diagnostic vector. The last
// element of window is the bar being observed. Implementations must be pure:
// the same window and constraints always give the same vector.
type DiagnosticEngine interface {
	Version() string
	Compute(window []models.Bar, c models.ExecutionConstraints) (models.DiagnosticVector, error)
}

// RegimeFilter may block an escape the diagnostics would otherwise allow.
// It is consulted synchronously on the observation path and must not block.
type RegimeFilter interface {
	Veto(bar models.Bar, diag models.DiagnosticVector) (reason string, vetoed bool)
}

// RegimeDetector detects market regimes based on returns time series.
type RegimeDetector interface {
	Detect(ctx context.Context, symbol string, returns []float64) (models.Regime, error)
}
