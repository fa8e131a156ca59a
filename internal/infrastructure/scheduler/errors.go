package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrAlreadyRunning is returned when a sweeper is started twice
	ErrAlreadyRunning = errors.New("sweeper already running")
)
