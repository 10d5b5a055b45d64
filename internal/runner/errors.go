package runner

import (
	"errors"
	"fmt"
)

var (
	ErrDiverged       = errors.New("numeric divergence")
	ErrNotInitialized = errors.New("runner not initialized")
	ErrFinished       = errors.New("run already finished; reset before running again")
	ErrDuplicateName  = errors.New("analyzer already registered")
)

// DivergenceError reports the first non-finite value produced by a run.
type DivergenceError struct {
	Step     int
	Time     float64
	Variable string
	Value    float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("numeric divergence at step %d (t=%g): %s = %g", e.Step, e.Time, e.Variable, e.Value)
}

// Is makes every *DivergenceError match ErrDiverged.
func (e *DivergenceError) Is(target error) bool {
	return target == ErrDiverged
}
