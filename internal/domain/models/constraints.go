package models

import "math"

// ExecutionConstraints describes the cost of trading a stream: the friction
// paid per side and the smallest move worth taking. MReq is fixed at
// construction.
type ExecutionConstraints struct {
	FrictionFloor float64
	MinMove       float64
	mReq          float64
}

// NewExecutionConstraints validates the inputs and derives the required move
// m_req = min_move + 2*friction_floor.
func NewExecutionConstraints(frictionFloor, minMove float64) (ExecutionConstraints, error) {
	if err := checkConstraint("friction_floor", frictionFloor); err != nil {
		return ExecutionConstraints{}, err
	}
	if err := checkConstraint("min_move", minMove); err != nil {
		return ExecutionConstraints{}, err
	}
	return ExecutionConstraints{
		FrictionFloor: frictionFloor,
		MinMove:       minMove,
		mReq:          minMove + 2*frictionFloor,
	}, nil
}

// MustExecutionConstraints panics on invalid input. Intended for tests and
// compile-time constants.
func MustExecutionConstraints(frictionFloor, minMove float64) ExecutionConstraints {
	c, err := NewExecutionConstraints(frictionFloor, minMove)
	if err != nil {
		panic(err)
	}
	return c
}

// MReq returns the minimum price move that clears execution cost.
func (c ExecutionConstraints) MReq() float64 { return c.mReq }

func checkConstraint(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ConfigurationError{Field: name, Value: v, Reason: "must be finite"}
	}
	if v < 0 {
		return &ConfigurationError{Field: name, Value: v, Reason: "must be non-negative"}
	}
	return nil
}
