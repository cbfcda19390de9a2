package admissibility

import (
	"errors"
	"iter"
	"slices"

	"TAMObserver/internal/domain/models"
)

// Observer creates classification sessions that share one set of execution
// constraints. It holds no per-stream state and may be shared.
type Observer struct {
	constraints models.ExecutionConstraints
	opts        options
}

// New validates the constraints and returns an Observer. Invalid inputs give
// a *models.ConfigurationError.
func New(frictionFloor, minMove float64, opts ...Option) (*Observer, error) {
	c, err := models.NewExecutionConstraints(frictionFloor, minMove)
	if err != nil {
		return nil, err
	}
	return NewObserver(c, opts...), nil
}

func NewObserver(c models.ExecutionConstraints, opts ...Option) *Observer {
	return &Observer{constraints: c, opts: buildOptions(opts)}
}

func (o *Observer) Constraints() models.ExecutionConstraints { return o.constraints }

// NewSession starts a fresh stream in BASIN with an empty window.
func (o *Observer) NewSession() *Session {
	return newSession(o.constraints, o.opts)
}

// Observe runs bars through a fresh session, yielding one result per input
// bar as it is pulled. Invalid bars yield a zero record and the validation
// error; the stream continues. Breaking out of the loop abandons the session.
func (o *Observer) Observe(bars iter.Seq[models.Bar]) iter.Seq2[models.ObservationRecord, error] {
	return func(yield func(models.ObservationRecord, error) bool) {
		s := o.NewSession()
		for bar := range bars {
			if !yield(s.Observe(bar)) {
				return
			}
		}
	}
}

// ObserveBatch classifies bars eagerly in a fresh session. It returns the
// records of all valid bars in order, and the joined validation errors of
// the rejected ones.
func (o *Observer) ObserveBatch(bars []models.Bar) ([]models.ObservationRecord, error) {
	records := make([]models.ObservationRecord, 0, len(bars))
	var errs []error
	for rec, err := range o.Observe(slices.Values(bars)) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errors.Join(errs...)
}
