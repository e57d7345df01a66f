package stream

import (
	"context"
	"errors"
)

// Sentinel errors for adapter failures. Callers match with errors.Is; the
// orchestration layer never retries these itself.
var (
	ErrStartFailed = errors.New("failed to start stream process")
	ErrStopFailed  = errors.New("failed to stop stream process")
)

// Descriptor describes the push process to create for a session.
type Descriptor struct {
	SessionID  string
	SourcePath string
	SourceName string
	IngestURL  string
}

// ProcessHandle identifies a running push process. ServiceName is opaque to
// callers; PID is informational.
type ProcessHandle struct {
	ServiceName string
	PID         int
}

// Adapter creates and destroys broadcast push processes. Implementations must
// bound every call with a timeout so a hung external call cannot stall the
// scheduler. Supervision and crash-restart of a created process are the
// platform's responsibility, not the adapter's.
type Adapter interface {
	Create(ctx context.Context, desc Descriptor) (ProcessHandle, error)
	Destroy(ctx context.Context, serviceName string) error
	IsRunning(ctx context.Context, serviceName string) (bool, error)
}
