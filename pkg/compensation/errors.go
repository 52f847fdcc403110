package compensation

import "errors"

// ErrStepPanicked wraps a panic recovered from a compensation step.
var ErrStepPanicked = errors.New("compensation: step panicked")
