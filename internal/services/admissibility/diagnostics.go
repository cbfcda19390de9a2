package admissibility

import (
	"errors"
	"fmt"
	"math"

	"TAMObserver/internal/domain/models"
)

// DefaultEngineVersion identifies the formulas below. Values are not
// comparable across versions.
const DefaultEngineVersion = "tam-diag/1"

const (
	// recentSpan is the minimum number of bars the excursion is measured over.
	recentSpan = 16
	// exhaustionMultiple places the expected end of an escape at this many
	// m_req from the leg origin.
	exhaustionMultiple = 4.0
	// minRequiredMove keeps slope finite when both constraints are zero.
	minRequiredMove = 1e-9
)

// ErrOutOfDomain is returned when the window cannot be measured, e.g. a
// reference close of zero.
var ErrOutOfDomain = errors.New("diagnostic out of domain")

// DefaultEngine is the built-in diagnostic engine.
//
// Displacement is measured along the current leg: the run of closes moving in
// one direction that ends at the latest bar (unchanged closes neither extend
// nor break the count). Confinement is measured over the leg or the last
// recentSpan bars, whichever reaches further back.
type DefaultEngine struct{}

func (DefaultEngine) Version() string { return DefaultEngineVersion }

func (DefaultEngine) Compute(window []models.Bar, c models.ExecutionConstraints) (models.DiagnosticVector, error) {
	n := len(window)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty window", ErrOutOfDomain)
	}
	last := window[n-1]

	l := currentLeg(window)
	origin := window[l.start].Close
	if origin <= 0 {
		return nil, fmt.Errorf("%w: leg origin close %v", ErrOutOfDomain, origin)
	}
	move := (last.Close - origin) / origin

	spanStart := min(l.start, max(n-recentSpan, 0))
	anchor := window[spanStart].Close
	if anchor <= 0 {
		return nil, fmt.Errorf("%w: span anchor close %v", ErrOutOfDomain, anchor)
	}
	span := window[spanStart:]

	excursion := spanExcursion(span) / anchor
	compression := compressionOf(excursion, c.FrictionFloor)

	mReq := max(c.MReq(), minRequiredMove)
	slope := move / mReq
	headroom := max(0, 1-math.Abs(move)/(exhaustionMultiple*mReq))

	retrace := spanRetrace(span)
	reentry := 1 - (1-retrace)*(1-compression)

	return models.DiagnosticVector{
		models.DiagBasinCompression:  compression,
		models.DiagEscapeSlope:       slope,
		models.DiagPersistence:       float64(l.steps),
		models.DiagExcursionHeadroom: headroom,
		models.DiagReentryRisk:       reentry,
		"excursion":                  excursion,
		"move":                       move,
	}, nil
}

type leg struct {
	start     int // index of the bar whose close the leg starts from
	steps     int // directional close-to-close steps
	direction int
}

func currentLeg(bars []models.Bar) leg {
	l := leg{start: len(bars) - 1}
	for i := len(bars) - 1; i > 0; i-- {
		d := sign(bars[i].Close - bars[i-1].Close)
		if d != 0 {
			if l.direction == 0 {
				l.direction = d
			}
			if d != l.direction {
				break
			}
			l.steps++
		}
		l.start = i - 1
	}
	return l
}

// spanExcursion is the price range reached after the span's first close,
// including that close.
func spanExcursion(span []models.Bar) float64 {
	hi, lo := span[0].Close, span[0].Close
	for _, b := range span[1:] {
		hi = max(hi, b.High)
		lo = min(lo, b.Low)
	}
	return hi - lo
}

// compressionOf maps an excursion to (0, 1]: 1 when nothing moved, 0.5 when
// the excursion equals the round-trip friction, falling towards 0 beyond it.
func compressionOf(excursion, frictionFloor float64) float64 {
	band := 2 * frictionFloor
	if band == 0 {
		if excursion == 0 {
			return 1
		}
		return 0
	}
	r := excursion / band
	return 1 / (1 + r*r)
}

// spanRetrace is the fraction of the dominant close-to-close swing in span
// that the latest close has given back, clamped to [0, 1].
func spanRetrace(span []models.Bar) float64 {
	anchor := span[0].Close
	hi, lo := anchor, anchor
	for _, b := range span[1:] {
		hi = max(hi, b.Close)
		lo = min(lo, b.Close)
	}
	last := span[len(span)-1].Close
	up, down := hi-anchor, anchor-lo

	var r float64
	switch {
	case up == 0 && down == 0:
		return 0
	case up >= down:
		r = (hi - last) / up
	default:
		r = (last - lo) / down
	}
	return min(max(r, 0), 1)
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
