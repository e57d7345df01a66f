package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rsilveira/streamcast/internal/database"
	"github.com/rsilveira/streamcast/internal/model"
	"github.com/rsilveira/streamcast/internal/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeScheduleStore struct {
	mu        sync.Mutex
	schedules map[primitive.ObjectID]*model.Schedule
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{schedules: make(map[primitive.ObjectID]*model.Schedule)}
}

func (f *fakeScheduleStore) Create(ctx context.Context, schedule *model.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if schedule.ID.IsZero() {
		schedule.ID = primitive.NewObjectID()
	}
	copied := *schedule
	f.schedules[schedule.ID] = &copied
	return nil
}

func (f *fakeScheduleStore) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	schedule, ok := f.schedules[id]
	if !ok {
		return nil, database.ErrScheduleNotFound
	}
	copied := *schedule
	return &copied, nil
}

func (f *fakeScheduleStore) ListActive(ctx context.Context) ([]model.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Schedule
	for _, s := range f.schedules {
		if s.IsActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) Update(ctx context.Context, id primitive.ObjectID, start, end time.Time, timezone string, nextRun time.Time) (*model.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	schedule, ok := f.schedules[id]
	if !ok {
		return nil, database.ErrScheduleNotFound
	}
	schedule.StartDatetime = start
	schedule.EndDatetime = end
	schedule.Timezone = timezone
	schedule.NextRun = nextRun
	copied := *schedule
	return &copied, nil
}

func (f *fakeScheduleStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[id]; !ok {
		return database.ErrScheduleNotFound
	}
	delete(f.schedules, id)
	return nil
}

func (f *fakeScheduleStore) DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) ([]primitive.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []primitive.ObjectID
	for id, s := range f.schedules {
		if s.SessionID == sessionID {
			ids = append(ids, id)
			delete(f.schedules, id)
		}
	}
	return ids, nil
}

type fakeRegistry struct {
	mu         sync.Mutex
	registered []string
	cancelled  []string
}

func (f *fakeRegistry) Register(schedule *model.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, schedule.ID.Hex())
	return nil
}

func (f *fakeRegistry) Cancel(scheduleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, scheduleID)
}

type fakeSessionReader struct {
	sessions map[primitive.ObjectID]*model.Session
}

func (f *fakeSessionReader) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Session, error) {
	session, ok := f.sessions[id]
	if !ok {
		return nil, database.ErrSessionNotFound
	}
	return session, nil
}

func scheduleFixture(t *testing.T) (*ScheduleService, *fakeScheduleStore, *fakeRegistry, primitive.ObjectID) {
	t.Helper()

	sessionID := primitive.NewObjectID()
	reader := &fakeSessionReader{
		sessions: map[primitive.ObjectID]*model.Session{
			sessionID: {ID: sessionID, Status: model.StatusInactive},
		},
	}
	store := newFakeScheduleStore()
	registry := &fakeRegistry{}
	svc := NewScheduleService(store, reader, registry, notifier.Nop{}, "UTC")
	return svc, store, registry, sessionID
}

func TestScheduleCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and registers a one-time schedule", func(t *testing.T) {
		svc, store, registry, sessionID := scheduleFixture(t)

		start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
		end := start.Add(2 * time.Hour)

		schedule, err := svc.Create(ctx, CreateScheduleRequest{
			SessionID:     sessionID.Hex(),
			ScheduleType:  "one_time",
			StartDatetime: start.Format(time.RFC3339),
			EndDatetime:   end.Format(time.RFC3339),
		})
		require.NoError(t, err)

		assert.Equal(t, model.ScheduleOneTime, schedule.ScheduleType)
		assert.True(t, schedule.IsActive)
		assert.True(t, start.Equal(schedule.NextRun))
		assert.Equal(t, "UTC", schedule.Timezone)

		stored, err := store.GetByID(ctx, schedule.ID)
		require.NoError(t, err)
		assert.True(t, start.Equal(stored.StartDatetime))

		assert.Equal(t, []string{schedule.ID.Hex()}, registry.registered)
	})

	t.Run("wall clock input honors the schedule timezone", func(t *testing.T) {
		svc, _, _, sessionID := scheduleFixture(t)

		schedule, err := svc.Create(ctx, CreateScheduleRequest{
			SessionID:     sessionID.Hex(),
			ScheduleType:  "one_time",
			StartDatetime: "2099-07-01T20:00",
			EndDatetime:   "2099-07-01T22:00",
			Timezone:      "America/New_York",
		})
		require.NoError(t, err)

		// 20:00 EDT is 00:00 UTC the next day
		want := time.Date(2099, 7, 2, 0, 0, 0, 0, time.UTC)
		assert.True(t, want.Equal(schedule.StartDatetime), "got %s", schedule.StartDatetime)
	})

	t.Run("rejects unknown session", func(t *testing.T) {
		svc, _, _, _ := scheduleFixture(t)

		_, err := svc.Create(ctx, CreateScheduleRequest{
			SessionID:     primitive.NewObjectID().Hex(),
			ScheduleType:  "one_time",
			StartDatetime: "2099-07-01T20:00",
			EndDatetime:   "2099-07-01T22:00",
		})
		assert.ErrorIs(t, err, ErrSessionUnavailable)
	})

	t.Run("rejects active session", func(t *testing.T) {
		sessionID := primitive.NewObjectID()
		reader := &fakeSessionReader{
			sessions: map[primitive.ObjectID]*model.Session{
				sessionID: {ID: sessionID, Status: model.StatusActive},
			},
		}
		svc := NewScheduleService(newFakeScheduleStore(), reader, &fakeRegistry{}, notifier.Nop{}, "UTC")

		_, err := svc.Create(ctx, CreateScheduleRequest{
			SessionID:     sessionID.Hex(),
			ScheduleType:  "one_time",
			StartDatetime: "2099-07-01T20:00",
			EndDatetime:   "2099-07-01T22:00",
		})
		assert.ErrorIs(t, err, ErrSessionUnavailable)
	})

	t.Run("rejects invalid type", func(t *testing.T) {
		svc, _, _, sessionID := scheduleFixture(t)

		_, err := svc.Create(ctx, CreateScheduleRequest{
			SessionID:     sessionID.Hex(),
			ScheduleType:  "weekly",
			StartDatetime: "2099-07-01T20:00",
			EndDatetime:   "2099-07-01T22:00",
		})
		assert.Error(t, err)
	})

	t.Run("rejects end before start", func(t *testing.T) {
		svc, _, _, sessionID := scheduleFixture(t)

		_, err := svc.Create(ctx, CreateScheduleRequest{
			SessionID:     sessionID.Hex(),
			ScheduleType:  "one_time",
			StartDatetime: "2099-07-01T22:00",
			EndDatetime:   "2099-07-01T20:00",
		})
		assert.Error(t, err)
	})
}

func TestScheduleUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _, registry, sessionID := scheduleFixture(t)

	created, err := svc.Create(ctx, CreateScheduleRequest{
		SessionID:     sessionID.Hex(),
		ScheduleType:  "daily",
		StartDatetime: "2099-07-01T20:00",
		EndDatetime:   "2099-07-01T22:00",
	})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID.Hex(), UpdateScheduleRequest{
		StartDatetime: "2099-07-01T21:00",
		EndDatetime:   "2099-07-01T23:00",
	})
	require.NoError(t, err)

	want := time.Date(2099, 7, 1, 21, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(updated.StartDatetime))
	assert.Equal(t, model.ScheduleDaily, updated.ScheduleType)

	// Old trigger pair cancelled, new one registered
	assert.Equal(t, []string{created.ID.Hex()}, registry.cancelled)
	assert.Equal(t, []string{created.ID.Hex(), created.ID.Hex()}, registry.registered)
}

func TestScheduleDelete(t *testing.T) {
	ctx := context.Background()
	svc, store, registry, sessionID := scheduleFixture(t)

	created, err := svc.Create(ctx, CreateScheduleRequest{
		SessionID:     sessionID.Hex(),
		ScheduleType:  "one_time",
		StartDatetime: "2099-07-01T20:00",
		EndDatetime:   "2099-07-01T22:00",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID.Hex()))

	_, err = store.GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, database.ErrScheduleNotFound)
	assert.Contains(t, registry.cancelled, created.ID.Hex())
}

func TestScheduleDeleteBySession(t *testing.T) {
	ctx := context.Background()
	svc, store, registry, sessionID := scheduleFixture(t)

	first, err := svc.Create(ctx, CreateScheduleRequest{
		SessionID:     sessionID.Hex(),
		ScheduleType:  "one_time",
		StartDatetime: "2099-07-01T20:00",
		EndDatetime:   "2099-07-01T22:00",
	})
	require.NoError(t, err)

	second, err := svc.Create(ctx, CreateScheduleRequest{
		SessionID:     sessionID.Hex(),
		ScheduleType:  "daily",
		StartDatetime: "2099-07-02T20:00",
		EndDatetime:   "2099-07-02T22:00",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteBySession(ctx, sessionID.Hex()))

	remaining, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	assert.Contains(t, registry.cancelled, first.ID.Hex())
	assert.Contains(t, registry.cancelled, second.ID.Hex())
}
