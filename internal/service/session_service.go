package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rsilveira/streamcast/internal/model"
	"github.com/rsilveira/streamcast/internal/stream"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrConflict reports that a session is not in the state required for the
// requested transition. It marks a benign race, not a failure: another caller
// already performed the transition, or it was never applicable.
var ErrConflict = errors.New("session is not in the required state")

// SessionStore is the subset of session persistence the state machine needs.
// ClaimStart and ClaimStop are conditional updates that only apply when the
// stored status still matches the expected prior state.
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*model.Session, error)
	List(ctx context.Context, status *model.SessionStatus) ([]model.Session, error)
	ClaimStart(ctx context.Context, id primitive.ObjectID) (bool, error)
	ReleaseStart(ctx context.Context, id primitive.ObjectID) error
	RecordProcess(ctx context.Context, id primitive.ObjectID, serviceName string, pid int, startedAt time.Time) error
	ClaimStop(ctx context.Context, id primitive.ObjectID, endedAt time.Time) (bool, error)
	RestoreActive(ctx context.Context, id primitive.ObjectID, serviceName string, pid int) error
	Update(ctx context.Context, id primitive.ObjectID, streamKey, platform string) (*model.Session, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// SessionService owns the inactive⇄active session state machine. Transitions
// on the same session are linearized by the store-level conditional update,
// never by an in-process lock; unrelated sessions transition concurrently.
type SessionService struct {
	store   SessionStore
	adapter stream.Adapter
}

// NewSessionService creates a new session service
func NewSessionService(store SessionStore, adapter stream.Adapter) *SessionService {
	return &SessionService{
		store:   store,
		adapter: adapter,
	}
}

// Start transitions a session from inactive to active and creates its push
// process. When the session is not inactive, or another caller wins the
// conditional update, it returns ErrConflict. When process creation fails the
// claim is released and the session is left unchanged.
func (s *SessionService) Start(ctx context.Context, id primitive.ObjectID) (*model.Session, error) {
	session, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if session.Status != model.StatusInactive {
		return nil, ErrConflict
	}

	claimed, err := s.store.ClaimStart(ctx, id)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Another concurrent start already transitioned the session
		return nil, ErrConflict
	}

	handle, err := s.adapter.Create(ctx, stream.Descriptor{
		SessionID:  id.Hex(),
		SourcePath: session.SourcePath,
		SourceName: session.SourceName,
		IngestURL:  stream.IngestURL(session.Platform, session.StreamKey),
	})
	if err != nil {
		if releaseErr := s.store.ReleaseStart(ctx, id); releaseErr != nil {
			slog.Error("Failed to release start claim after process failure",
				"session_id", id.Hex(),
				"error", releaseErr,
			)
		}
		return nil, err
	}

	startedAt := time.Now().UTC()
	if err := s.store.RecordProcess(ctx, id, handle.ServiceName, handle.PID, startedAt); err != nil {
		// The push process is running but the handle could not be persisted;
		// surface the persistence error rather than guessing at state.
		return nil, fmt.Errorf("process started but handle not persisted: %w", err)
	}

	session.Status = model.StatusActive
	session.ServiceName = handle.ServiceName
	session.PID = handle.PID
	session.StartTime = startedAt

	slog.Info("Session started",
		"session_id", id.Hex(),
		"service_name", handle.ServiceName,
		"pid", handle.PID,
	)

	return session, nil
}

// Stop transitions a session from active to inactive and destroys its push
// process. Non-active sessions yield ErrConflict. When process destruction
// fails the prior active state is restored.
func (s *SessionService) Stop(ctx context.Context, id primitive.ObjectID) (*model.Session, error) {
	session, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if session.Status != model.StatusActive || !session.HasHandle() {
		return nil, ErrConflict
	}

	endedAt := time.Now().UTC()
	claimed, err := s.store.ClaimStop(ctx, id, endedAt)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrConflict
	}

	if err := s.adapter.Destroy(ctx, session.ServiceName); err != nil {
		if restoreErr := s.store.RestoreActive(ctx, id, session.ServiceName, session.PID); restoreErr != nil {
			slog.Error("Failed to restore active session after stop failure",
				"session_id", id.Hex(),
				"error", restoreErr,
			)
		}
		return nil, err
	}

	serviceName := session.ServiceName
	session.Status = model.StatusInactive
	session.ServiceName = ""
	session.PID = 0
	session.EndTime = endedAt

	slog.Info("Session stopped",
		"session_id", id.Hex(),
		"service_name", serviceName,
	)

	return session, nil
}

// IsRunning probes the adapter for the session's process liveness.
func (s *SessionService) IsRunning(ctx context.Context, session *model.Session) (bool, error) {
	if !session.HasHandle() {
		return false, nil
	}
	return s.adapter.IsRunning(ctx, session.ServiceName)
}

// Create creates a new inactive session.
func (s *SessionService) Create(ctx context.Context, session *model.Session) error {
	session.Status = model.StatusInactive
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return s.store.Create(ctx, session)
}

// GetByID retrieves a session by its hex ID.
func (s *SessionService) GetByID(ctx context.Context, id string) (*model.Session, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid ID format: %w", err)
	}

	return s.store.GetByID(ctx, objID)
}

// List retrieves sessions, optionally filtered by status.
func (s *SessionService) List(ctx context.Context, status *model.SessionStatus) ([]model.Session, error) {
	return s.store.List(ctx, status)
}

// Update updates the destination fields of an inactive session.
func (s *SessionService) Update(ctx context.Context, id string, streamKey, platform string) (*model.Session, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid ID format: %w", err)
	}

	session, err := s.store.GetByID(ctx, objID)
	if err != nil {
		return nil, err
	}
	if session.Status == model.StatusActive {
		return nil, ErrConflict
	}

	return s.store.Update(ctx, objID, streamKey, platform)
}

// Delete deletes an inactive session. Schedules referencing it are removed by
// the schedule service's cascade.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid ID format: %w", err)
	}

	session, err := s.store.GetByID(ctx, objID)
	if err != nil {
		return err
	}
	if session.Status == model.StatusActive {
		return ErrConflict
	}

	return s.store.Delete(ctx, objID)
}
