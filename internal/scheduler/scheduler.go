package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rsilveira/streamcast/internal/database"
	"github.com/rsilveira/streamcast/internal/model"
	"github.com/rsilveira/streamcast/internal/notifier"
	"github.com/rsilveira/streamcast/internal/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScheduleStore is the subset of schedule persistence the scheduler needs.
type ScheduleStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*model.Schedule, error)
	ListPending(ctx context.Context, now time.Time) ([]model.Schedule, error)
	FindDueForRecovery(ctx context.Context, from, to time.Time) ([]model.Schedule, error)
	UpdateLastRun(ctx context.Context, id primitive.ObjectID, lastRun time.Time) error
	UpdateNextRun(ctx context.Context, id primitive.ObjectID, nextRun time.Time) error
	Deactivate(ctx context.Context, id primitive.ObjectID) error
}

// SessionController performs session state transitions on behalf of firings.
type SessionController interface {
	Start(ctx context.Context, id primitive.ObjectID) (*model.Session, error)
	Stop(ctx context.Context, id primitive.ObjectID) (*model.Session, error)
}

// triggerPair holds the live start and stop triggers of one schedule. Either
// side may be nil when its fire time already passed at registration.
type triggerPair struct {
	start *calendarTrigger
	stop  *calendarTrigger
}

func (p *triggerPair) cancel() {
	if p.start != nil {
		p.start.Stop()
	}
	if p.stop != nil {
		p.stop.Stop()
	}
}

// Scheduler owns the in-memory trigger registry: one trigger pair per active
// schedule, keyed by schedule ID. The registry is rebuilt from the store on
// startup and is otherwise kept in sync by Register and Cancel.
type Scheduler struct {
	store     ScheduleStore
	sessions  SessionController
	events    notifier.Notifier
	opTimeout time.Duration

	mu       sync.Mutex
	triggers map[string]*triggerPair
}

// New creates a scheduler with an empty trigger registry.
func New(store ScheduleStore, sessions SessionController, events notifier.Notifier, opTimeout time.Duration) *Scheduler {
	if opTimeout <= 0 {
		opTimeout = 30 * time.Second
	}
	return &Scheduler{
		store:     store,
		sessions:  sessions,
		events:    events,
		opTimeout: opTimeout,
		triggers:  make(map[string]*triggerPair),
	}
}

// Init rebuilds the trigger registry from persisted schedules whose next run
// is still in the future. Runs already missed are left to the recovery sweep.
func (s *Scheduler) Init(ctx context.Context) error {
	schedules, err := s.store.ListPending(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to load pending schedules: %w", err)
	}

	registered := 0
	for i := range schedules {
		if err := s.Register(&schedules[i]); err != nil {
			slog.Error("Failed to register schedule on startup",
				"schedule_id", schedules[i].ID.Hex(),
				"error", err,
			)
			continue
		}
		registered++
	}

	slog.Info("Scheduler initialized", "schedules", registered)
	return nil
}

// Register arms the trigger pair for a schedule, replacing any pair already
// registered under the same ID. A trigger whose fire time has passed is not
// armed; the start side of such a schedule is picked up by the recovery sweep.
// Fails only when the schedule's timezone cannot be resolved.
func (s *Scheduler) Register(schedule *model.Schedule) error {
	loc, err := schedule.Location()
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", schedule.Timezone, err)
	}

	id := schedule.ID.Hex()
	now := time.Now().UTC()
	pair := &triggerPair{}

	if schedule.NextRun.After(now) {
		pair.start, err = newCalendarTrigger(schedule.NextRun, loc, func() {
			s.fireStart(id)
		})
		if err != nil {
			return err
		}
	}

	if stopAt := schedule.NextStopRun(now); stopAt.After(now) {
		pair.stop, err = newCalendarTrigger(stopAt, loc, func() {
			s.fireStop(id)
		})
		if err != nil {
			pair.cancel()
			return err
		}
	}

	s.mu.Lock()
	if old, ok := s.triggers[id]; ok {
		old.cancel()
	}
	s.triggers[id] = pair
	s.mu.Unlock()

	slog.Debug("Schedule triggers registered",
		"schedule_id", id,
		"schedule_type", schedule.ScheduleType,
		"next_run", schedule.NextRun.Format(time.RFC3339),
	)

	return nil
}

// Cancel disarms and removes the trigger pair for a schedule. Unknown IDs are
// a no-op.
func (s *Scheduler) Cancel(scheduleID string) {
	s.mu.Lock()
	pair, ok := s.triggers[scheduleID]
	if ok {
		delete(s.triggers, scheduleID)
	}
	s.mu.Unlock()

	if ok {
		pair.cancel()
		slog.Debug("Schedule triggers cancelled", "schedule_id", scheduleID)
	}
}

// Shutdown disarms every registered trigger.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for id, pair := range s.triggers {
		pair.cancel()
		delete(s.triggers, id)
	}
	s.mu.Unlock()

	slog.Info("Scheduler shut down")
}

// registeredCount reports the number of live trigger pairs.
func (s *Scheduler) registeredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

// fireStart executes a start firing: re-validate the schedule against the
// store, start the session, then advance the schedule. Daily schedules get a
// fresh trigger pair one day out; one-time schedules are deactivated while
// their stop trigger stays armed.
func (s *Scheduler) fireStart(scheduleID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	objID, err := primitive.ObjectIDFromHex(scheduleID)
	if err != nil {
		slog.Error("Invalid schedule ID in start trigger", "schedule_id", scheduleID)
		return
	}

	schedule, err := s.store.GetByID(ctx, objID)
	if err != nil {
		if errors.Is(err, database.ErrScheduleNotFound) {
			slog.Debug("Schedule deleted before start firing", "schedule_id", scheduleID)
		} else {
			slog.Error("Failed to load schedule for start firing", "schedule_id", scheduleID, "error", err)
		}
		return
	}
	if !schedule.IsActive {
		slog.Debug("Schedule no longer active, skipping start firing", "schedule_id", scheduleID)
		return
	}

	slog.Info("Executing scheduled start",
		"schedule_id", scheduleID,
		"session_id", schedule.SessionID.Hex(),
		"schedule_type", schedule.ScheduleType,
	)

	if _, err := s.sessions.Start(ctx, schedule.SessionID); err != nil {
		if errors.Is(err, service.ErrConflict) {
			slog.Info("Session not available for scheduled start",
				"schedule_id", scheduleID,
				"session_id", schedule.SessionID.Hex(),
			)
			return
		}
		slog.Error("Scheduled start failed",
			"schedule_id", scheduleID,
			"session_id", schedule.SessionID.Hex(),
			"error", err,
		)
		s.events.Publish(notifier.FailureEvent(schedule.SessionID.Hex(), err.Error()))
		return
	}

	now := time.Now().UTC()
	if err := s.store.UpdateLastRun(ctx, objID, now); err != nil {
		slog.Error("Failed to record last run", "schedule_id", scheduleID, "error", err)
	}

	switch schedule.ScheduleType {
	case model.ScheduleDaily:
		nextRun := schedule.NextRun.Add(model.Day)
		if err := s.store.UpdateNextRun(ctx, objID, nextRun); err != nil {
			slog.Error("Failed to advance next run", "schedule_id", scheduleID, "error", err)
		} else {
			schedule.NextRun = nextRun
			if err := s.Register(schedule); err != nil {
				slog.Error("Failed to re-register daily schedule", "schedule_id", scheduleID, "error", err)
			}
		}
	case model.ScheduleOneTime:
		// The stop trigger stays armed so the session is still stopped at the
		// scheduled end.
		if err := s.store.Deactivate(ctx, objID); err != nil {
			slog.Error("Failed to deactivate one-time schedule", "schedule_id", scheduleID, "error", err)
		}
	}

	s.events.Publish(notifier.SessionEvent(notifier.EventScheduledSessionStarted, schedule.SessionID.Hex()))
}

// fireStop executes a stop firing. A session that is not active with a live
// process handle is skipped silently: it either never started or was stopped
// manually.
func (s *Scheduler) fireStop(scheduleID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	objID, err := primitive.ObjectIDFromHex(scheduleID)
	if err != nil {
		slog.Error("Invalid schedule ID in stop trigger", "schedule_id", scheduleID)
		return
	}

	schedule, err := s.store.GetByID(ctx, objID)
	if err != nil {
		if errors.Is(err, database.ErrScheduleNotFound) {
			slog.Debug("Schedule deleted before stop firing", "schedule_id", scheduleID)
		} else {
			slog.Error("Failed to load schedule for stop firing", "schedule_id", scheduleID, "error", err)
		}
		return
	}

	slog.Info("Executing scheduled stop",
		"schedule_id", scheduleID,
		"session_id", schedule.SessionID.Hex(),
	)

	if _, err := s.sessions.Stop(ctx, schedule.SessionID); err != nil {
		if errors.Is(err, service.ErrConflict) {
			slog.Info("Session not active, skipping scheduled stop",
				"schedule_id", scheduleID,
				"session_id", schedule.SessionID.Hex(),
			)
			return
		}
		slog.Error("Scheduled stop failed",
			"schedule_id", scheduleID,
			"session_id", schedule.SessionID.Hex(),
			"error", err,
		)
		s.events.Publish(notifier.FailureEvent(schedule.SessionID.Hex(), err.Error()))
		return
	}

	s.events.Publish(notifier.SessionEvent(notifier.EventScheduledSessionStopped, schedule.SessionID.Hex()))
}
