package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when a job or the scheduler is misconfigured
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrJobNotFound is returned when a job is not registered
	ErrJobNotFound = errors.New("job not found")
)
