package sockthread

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a previous goroutine has not exited.
	ErrAlreadyRunning = errors.New("sockthread: worker already running")

	// ErrNilCallback is returned by Start when no callback is supplied.
	ErrNilCallback = errors.New("sockthread: nil callback")
)
