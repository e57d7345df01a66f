package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rsilveira/streamcast/internal/model"
	"github.com/rsilveira/streamcast/internal/notifier"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrSessionUnavailable reports that the referenced session does not exist or
// is not inactive, so a schedule cannot be attached to it.
var ErrSessionUnavailable = errors.New("session not found or not inactive")

// ScheduleStore is the subset of schedule persistence the management service needs.
type ScheduleStore interface {
	Create(ctx context.Context, schedule *model.Schedule) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*model.Schedule, error)
	ListActive(ctx context.Context) ([]model.Schedule, error)
	Update(ctx context.Context, id primitive.ObjectID, start, end time.Time, timezone string, nextRun time.Time) (*model.Schedule, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) ([]primitive.ObjectID, error)
}

// SessionReader looks up sessions when validating schedule references.
type SessionReader interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*model.Session, error)
}

// TriggerRegistry registers and cancels live calendar triggers for schedules.
type TriggerRegistry interface {
	Register(schedule *model.Schedule) error
	Cancel(scheduleID string)
}

// CreateScheduleRequest carries schedule creation input. Datetimes are
// wall-clock strings interpreted in Timezone unless they carry an offset.
type CreateScheduleRequest struct {
	SessionID     string `json:"session_id"`
	ScheduleType  string `json:"schedule_type"`
	StartDatetime string `json:"start_datetime"`
	EndDatetime   string `json:"end_datetime"`
	Timezone      string `json:"timezone,omitempty"`
}

// UpdateScheduleRequest carries schedule update input.
type UpdateScheduleRequest struct {
	StartDatetime string `json:"start_datetime"`
	EndDatetime   string `json:"end_datetime"`
	Timezone      string `json:"timezone,omitempty"`
}

// ScheduleService manages schedule records and keeps the trigger registry in
// sync with them.
type ScheduleService struct {
	store           ScheduleStore
	sessions        SessionReader
	registry        TriggerRegistry
	events          notifier.Notifier
	defaultTimezone string
}

// NewScheduleService creates a new schedule service
func NewScheduleService(
	store ScheduleStore,
	sessions SessionReader,
	registry TriggerRegistry,
	events notifier.Notifier,
	defaultTimezone string,
) *ScheduleService {
	return &ScheduleService{
		store:           store,
		sessions:        sessions,
		registry:        registry,
		events:          events,
		defaultTimezone: defaultTimezone,
	}
}

// Create validates, persists and registers a new schedule.
func (s *ScheduleService) Create(ctx context.Context, req CreateScheduleRequest) (*model.Schedule, error) {
	sessionID, err := primitive.ObjectIDFromHex(req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session ID format: %w", err)
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionUnavailable
	}
	if session.Status != model.StatusInactive {
		return nil, ErrSessionUnavailable
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = s.defaultTimezone
	}

	start, end, err := parseRange(req.StartDatetime, req.EndDatetime, timezone)
	if err != nil {
		return nil, err
	}

	schedule := &model.Schedule{
		SessionID:     sessionID,
		ScheduleType:  model.ScheduleType(req.ScheduleType),
		StartDatetime: start,
		EndDatetime:   end,
		Timezone:      timezone,
		IsActive:      true,
	}
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if err := s.store.Create(ctx, schedule); err != nil {
		return nil, err
	}

	if err := s.registry.Register(schedule); err != nil {
		return nil, fmt.Errorf("failed to register schedule triggers: %w", err)
	}

	s.events.Publish(notifier.NewEvent(notifier.EventScheduleCreated, scheduleData(schedule)))

	slog.Info("Schedule created",
		"schedule_id", schedule.ID.Hex(),
		"session_id", schedule.SessionID.Hex(),
		"schedule_type", schedule.ScheduleType,
		"next_run", schedule.NextRun.Format(time.RFC3339),
	)

	return schedule, nil
}

// GetByID retrieves a schedule by its hex ID.
func (s *ScheduleService) GetByID(ctx context.Context, id string) (*model.Schedule, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid ID format: %w", err)
	}

	return s.store.GetByID(ctx, objID)
}

// List retrieves all active schedules ordered by next run.
func (s *ScheduleService) List(ctx context.Context) ([]model.Schedule, error) {
	return s.store.ListActive(ctx)
}

// Update replaces a schedule's timing fields, cancelling and re-registering
// its trigger pair.
func (s *ScheduleService) Update(ctx context.Context, id string, req UpdateScheduleRequest) (*model.Schedule, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid ID format: %w", err)
	}

	existing, err := s.store.GetByID(ctx, objID)
	if err != nil {
		return nil, err
	}

	s.registry.Cancel(id)

	timezone := req.Timezone
	if timezone == "" {
		timezone = s.defaultTimezone
	}

	start, end, err := parseRange(req.StartDatetime, req.EndDatetime, timezone)
	if err != nil {
		return nil, err
	}

	next := model.Schedule{
		SessionID:     existing.SessionID,
		ScheduleType:  existing.ScheduleType,
		StartDatetime: start,
		EndDatetime:   end,
		Timezone:      timezone,
		IsActive:      existing.IsActive,
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	updated, err := s.store.Update(ctx, objID, start, end, timezone, next.NextRun)
	if err != nil {
		return nil, err
	}

	if updated.IsActive {
		if err := s.registry.Register(updated); err != nil {
			return nil, fmt.Errorf("failed to register schedule triggers: %w", err)
		}
	}

	s.events.Publish(notifier.NewEvent(notifier.EventScheduleUpdated, scheduleData(updated)))

	return updated, nil
}

// Delete cancels a schedule's triggers and removes its record.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid ID format: %w", err)
	}

	if _, err := s.store.GetByID(ctx, objID); err != nil {
		return err
	}

	s.registry.Cancel(id)

	if err := s.store.Delete(ctx, objID); err != nil {
		return err
	}

	s.events.Publish(notifier.NewEvent(notifier.EventScheduleDeleted, map[string]interface{}{"id": id}))

	return nil
}

// DeleteBySession removes every schedule referencing the session and cancels
// their live triggers. Called when the owning session is destroyed.
func (s *ScheduleService) DeleteBySession(ctx context.Context, sessionID string) error {
	objID, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session ID format: %w", err)
	}

	ids, err := s.store.DeleteBySession(ctx, objID)
	if err != nil {
		return err
	}

	for _, id := range ids {
		s.registry.Cancel(id.Hex())
	}

	if len(ids) > 0 {
		slog.Info("Cascaded schedule deletion",
			"session_id", sessionID,
			"count", len(ids),
		)
	}

	return nil
}

func parseRange(startValue, endValue, timezone string) (time.Time, time.Time, error) {
	start, err := model.ParseLocalDatetime(startValue, timezone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start datetime: %w", err)
	}
	end, err := model.ParseLocalDatetime(endValue, timezone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end datetime: %w", err)
	}
	return start, end, nil
}

func scheduleData(schedule *model.Schedule) map[string]interface{} {
	return map[string]interface{}{
		"id":             schedule.ID.Hex(),
		"session_id":     schedule.SessionID.Hex(),
		"schedule_type":  schedule.ScheduleType,
		"start_datetime": schedule.StartDatetime.Format(time.RFC3339),
		"end_datetime":   schedule.EndDatetime.Format(time.RFC3339),
		"timezone":       schedule.Timezone,
		"is_active":      schedule.IsActive,
		"next_run":       schedule.NextRun.Format(time.RFC3339),
	}
}
