package worker

import (
	stderrors "errors"
	"fmt"

	"github.com/mu-semtech/delta-notifier/errors"
)

// Sentinel errors for worker pool operations. ErrQueueFull, ErrPoolNotStarted
// and ErrPoolAlreadyStarted match the corresponding errors package sentinels
// under errors.Is.
var (
	ErrPoolNotStarted     = fmt.Errorf("worker pool: %w", errors.ErrNotStarted)
	ErrPoolStopped        = fmt.Errorf("worker pool: %w", errors.ErrShuttingDown)
	ErrPoolAlreadyStarted = fmt.Errorf("worker pool: %w", errors.ErrAlreadyStarted)
	ErrQueueFull          = fmt.Errorf("worker pool: %w", errors.ErrQueueFull)
	ErrNilProcessor       = stderrors.New("processor function cannot be nil")
	ErrStopTimeout        = stderrors.New("timeout waiting for workers to stop")
)
