package ddm

import "errors"

// Precondition violations. These are never recovered inside the engine; a
// caller seeing one of them must not use any partial result.
var (
	ErrInvalidStep     = errors.New("invalid step size")
	ErrInvalidBarriers = errors.New("invalid barriers")
	ErrInvalidChoice   = errors.New("invalid choice")
	ErrInvalidParams   = errors.New("invalid parameters")
	ErrInvalidTrial    = errors.New("invalid trial")
)
