package types

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOwnershipLost     = errors.New("job ownership lost")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidCron       = errors.New("invalid cron expression")
)
