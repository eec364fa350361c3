package types

import "errors"

// Sentinel errors for qbt-rules operations.
var (
	// ErrAuthentication indicates the managed application rejected our
	// credentials. Fatal for the run.
	ErrAuthentication = errors.New("qbittorrent authentication failed")

	// ErrConnection indicates the managed application is unreachable.
	// Fatal for the run; the host decides whether to retry as a new job.
	ErrConnection = errors.New("cannot reach qbittorrent")

	// ErrJobNotFound indicates a queue lookup for an unknown job ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotCancellable indicates a cancel request for a job that
	// already left the pending state.
	ErrJobNotCancellable = errors.New("job is not pending")

	// ErrQueueEmpty indicates a dequeue attempt found no pending job.
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrInvalidHash indicates a torrent hash that is not 40 hex chars.
	ErrInvalidHash = errors.New("invalid torrent hash")
)
