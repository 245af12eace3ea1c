package dispatchjobs

import "errors"

var (
	ErrMissingDependency = errors.New("dispatchjobs: missing dependency")
	ErrInvalidConfig     = errors.New("dispatchjobs: invalid config")
)
