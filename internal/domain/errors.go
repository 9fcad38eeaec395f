package domain

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrJobFinished = errors.New("job already finished")
)
