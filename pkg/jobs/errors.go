package jobs

import "errors"

var (
	ErrJobAlreadyRegistered = errors.New("jobs: job already registered")
	ErrJobNotFound          = errors.New("jobs: job not found")
	ErrInvalidJob           = errors.New("jobs: job requires a name, a schedule and a function")
	ErrNoJobs               = errors.New("jobs: no jobs registered")
	ErrJobInFlight          = errors.New("jobs: previous run still in flight")
	ErrLockNotAcquired      = errors.New("jobs: lock held by another process")
)
