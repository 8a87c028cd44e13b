package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrFeedStale          = errors.New("price feed stale")
	ErrSnapshotIncomplete = errors.New("snapshot incomplete")
	ErrInvariantViolation = errors.New("risk invariant violation")
	ErrFillTimeout        = errors.New("fill confirmation timeout")
	ErrFillRejected       = errors.New("order rejected by venue")
	ErrExitFailure        = errors.New("exit order failed")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrInvalidTransition  = errors.New("invalid position transition")
	ErrLockHeld           = errors.New("lock already held")
)
