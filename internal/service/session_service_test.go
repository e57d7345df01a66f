package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rsilveira/streamcast/internal/database"
	"github.com/rsilveira/streamcast/internal/model"
	"github.com/rsilveira/streamcast/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeSessionStore mimics the conditional update semantics of the mongo
// repository: claims only succeed when the stored status matches.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[primitive.ObjectID]*model.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[primitive.ObjectID]*model.Session)}
}

func (f *fakeSessionStore) add(session *model.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	f.sessions[session.ID] = session
}

func (f *fakeSessionStore) Create(ctx context.Context, session *model.Session) error {
	f.add(session)
	return nil
}

func (f *fakeSessionStore) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, database.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) List(ctx context.Context, status *model.SessionStatus) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		if status == nil || s.Status == *status {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) ClaimStart(ctx context.Context, id primitive.ObjectID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok || session.Status != model.StatusInactive {
		return false, nil
	}
	session.Status = model.StatusActive
	return true, nil
}

func (f *fakeSessionStore) ReleaseStart(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[id]; ok {
		session.Status = model.StatusInactive
		session.ServiceName = ""
		session.PID = 0
	}
	return nil
}

func (f *fakeSessionStore) RecordProcess(ctx context.Context, id primitive.ObjectID, serviceName string, pid int, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[id]; ok {
		session.ServiceName = serviceName
		session.PID = pid
		session.StartTime = startedAt
	}
	return nil
}

func (f *fakeSessionStore) ClaimStop(ctx context.Context, id primitive.ObjectID, endedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok || session.Status != model.StatusActive {
		return false, nil
	}
	session.Status = model.StatusInactive
	session.ServiceName = ""
	session.PID = 0
	session.EndTime = endedAt
	return true, nil
}

func (f *fakeSessionStore) RestoreActive(ctx context.Context, id primitive.ObjectID, serviceName string, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[id]; ok {
		session.Status = model.StatusActive
		session.ServiceName = serviceName
		session.PID = pid
		session.EndTime = time.Time{}
	}
	return nil
}

func (f *fakeSessionStore) Update(ctx context.Context, id primitive.ObjectID, streamKey, platform string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, database.ErrSessionNotFound
	}
	session.StreamKey = streamKey
	session.Platform = platform
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return database.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

// fakeAdapter counts process operations and can be told to fail.
type fakeAdapter struct {
	mu          sync.Mutex
	creates     int
	destroys    int
	failCreate  error
	failDestroy error
}

func (f *fakeAdapter) Create(ctx context.Context, desc stream.Descriptor) (stream.ProcessHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return stream.ProcessHandle{}, f.failCreate
	}
	f.creates++
	return stream.ProcessHandle{ServiceName: "stream-" + desc.SessionID + ".service", PID: 4242}, nil
}

func (f *fakeAdapter) Destroy(ctx context.Context, serviceName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDestroy != nil {
		return f.failDestroy
	}
	f.destroys++
	return nil
}

func (f *fakeAdapter) IsRunning(ctx context.Context, serviceName string) (bool, error) {
	return false, nil
}

func (f *fakeAdapter) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func inactiveSession() *model.Session {
	return &model.Session{
		SourcePath: "/var/media/show.mp4",
		SourceName: "show.mp4",
		Platform:   "youtube",
		StreamKey:  "abcd-1234",
		Status:     model.StatusInactive,
	}
}

func TestSessionStart(t *testing.T) {
	ctx := context.Background()

	t.Run("transitions inactive session to active", func(t *testing.T) {
		store := newFakeSessionStore()
		adapter := &fakeAdapter{}
		svc := NewSessionService(store, adapter)

		session := inactiveSession()
		store.add(session)

		started, err := svc.Start(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, started.Status)
		assert.NotEmpty(t, started.ServiceName)
		assert.Equal(t, 4242, started.PID)
		assert.False(t, started.StartTime.IsZero())
		assert.Equal(t, 1, adapter.createCount())
	})

	t.Run("concurrent starts create exactly one process", func(t *testing.T) {
		store := newFakeSessionStore()
		adapter := &fakeAdapter{}
		svc := NewSessionService(store, adapter)

		session := inactiveSession()
		store.add(session)

		const callers = 16
		results := make(chan error, callers)

		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Start(ctx, session.ID)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var succeeded, conflicted int
		for err := range results {
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, ErrConflict):
				conflicted++
			}
		}

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, callers-1, conflicted)
		assert.Equal(t, 1, adapter.createCount())
	})

	t.Run("already active yields conflict", func(t *testing.T) {
		store := newFakeSessionStore()
		svc := NewSessionService(store, &fakeAdapter{})

		session := inactiveSession()
		session.Status = model.StatusActive
		session.ServiceName = "stream-x.service"
		session.PID = 1
		store.add(session)

		_, err := svc.Start(ctx, session.ID)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("process failure releases the claim", func(t *testing.T) {
		store := newFakeSessionStore()
		adapter := &fakeAdapter{failCreate: stream.ErrStartFailed}
		svc := NewSessionService(store, adapter)

		session := inactiveSession()
		store.add(session)

		_, err := svc.Start(ctx, session.ID)
		require.ErrorIs(t, err, stream.ErrStartFailed)

		current, err := store.GetByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusInactive, current.Status)
		assert.Empty(t, current.ServiceName)
		assert.Zero(t, current.PID)
	})

	t.Run("unknown session", func(t *testing.T) {
		svc := NewSessionService(newFakeSessionStore(), &fakeAdapter{})
		_, err := svc.Start(ctx, primitive.NewObjectID())
		assert.ErrorIs(t, err, database.ErrSessionNotFound)
	})
}

func TestSessionStop(t *testing.T) {
	ctx := context.Background()

	activeSession := func(store *fakeSessionStore) *model.Session {
		session := inactiveSession()
		session.Status = model.StatusActive
		session.ServiceName = "stream-live.service"
		session.PID = 777
		store.add(session)
		return session
	}

	t.Run("transitions active session to inactive", func(t *testing.T) {
		store := newFakeSessionStore()
		adapter := &fakeAdapter{}
		svc := NewSessionService(store, adapter)

		session := activeSession(store)

		stopped, err := svc.Stop(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusInactive, stopped.Status)
		assert.Empty(t, stopped.ServiceName)
		assert.Zero(t, stopped.PID)
		assert.False(t, stopped.EndTime.IsZero())
		assert.Equal(t, 1, adapter.destroys)
	})

	t.Run("inactive session yields conflict", func(t *testing.T) {
		store := newFakeSessionStore()
		svc := NewSessionService(store, &fakeAdapter{})

		session := inactiveSession()
		store.add(session)

		_, err := svc.Stop(ctx, session.ID)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("destroy failure restores active state", func(t *testing.T) {
		store := newFakeSessionStore()
		adapter := &fakeAdapter{failDestroy: stream.ErrStopFailed}
		svc := NewSessionService(store, adapter)

		session := activeSession(store)

		_, err := svc.Stop(ctx, session.ID)
		require.ErrorIs(t, err, stream.ErrStopFailed)

		current, err := store.GetByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, current.Status)
		assert.Equal(t, "stream-live.service", current.ServiceName)
		assert.Equal(t, 777, current.PID)
	})
}

func TestSessionGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("create forces inactive status", func(t *testing.T) {
		store := newFakeSessionStore()
		svc := NewSessionService(store, &fakeAdapter{})

		session := inactiveSession()
		session.Status = model.StatusActive
		require.NoError(t, svc.Create(ctx, session))
		assert.Equal(t, model.StatusInactive, session.Status)
	})

	t.Run("update rejected while active", func(t *testing.T) {
		store := newFakeSessionStore()
		svc := NewSessionService(store, &fakeAdapter{})

		session := inactiveSession()
		session.Status = model.StatusActive
		session.ServiceName = "stream-live.service"
		session.PID = 9
		store.add(session)

		_, err := svc.Update(ctx, session.ID.Hex(), "new-key", "twitch")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("delete rejected while active", func(t *testing.T) {
		store := newFakeSessionStore()
		svc := NewSessionService(store, &fakeAdapter{})

		session := inactiveSession()
		session.Status = model.StatusActive
		store.add(session)

		err := svc.Delete(ctx, session.ID.Hex())
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("delete removes inactive session", func(t *testing.T) {
		store := newFakeSessionStore()
		svc := NewSessionService(store, &fakeAdapter{})

		session := inactiveSession()
		store.add(session)

		require.NoError(t, svc.Delete(ctx, session.ID.Hex()))
		_, err := store.GetByID(ctx, session.ID)
		assert.ErrorIs(t, err, database.ErrSessionNotFound)
	})
}
