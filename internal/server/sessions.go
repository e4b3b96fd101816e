package server

import (
	"context"
	"errors"
	"sync"

	"github.com/deltran/corridorsim/internal/corridor"
	"github.com/deltran/corridorsim/internal/playback"
	"github.com/deltran/corridorsim/internal/session"
	"github.com/deltran/corridorsim/internal/types"
	"go.uber.org/zap"
)

// ErrTooManySessions is returned when the store is at capacity
var ErrTooManySessions = errors.New("session limit reached")

// liveSession pairs a session with the driver that serializes access to it.
// Every read or write of sess happens on the driver goroutine.
type liveSession struct {
	sess        *session.Session
	driver      *playback.Driver
	unsubscribe []func()
}

// with runs fn on the driver goroutine. A non-empty kind is emitted to
// observers when fn succeeds.
func (l *liveSession) with(ctx context.Context, kind playback.EventKind, fn func(s *session.Session) error) error {
	_, err := l.driver.Do(ctx, kind, func(*playback.Player) error {
		return fn(l.sess)
	})
	return err
}

// SessionStore keeps the live sessions of the server
type SessionStore struct {
	mu        sync.RWMutex
	sessions  map[string]*liveSession
	registry  *corridor.Registry
	capacity  int
	driverOpt []playback.Option
	observers []func(sessionID string) playback.Observer
	logger    *zap.Logger
}

// NewSessionStore creates a store. observers are attached to every new
// session's driver.
func NewSessionStore(registry *corridor.Registry, capacity int, logger *zap.Logger, driverOpts []playback.Option, observers ...func(sessionID string) playback.Observer) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		sessions:  make(map[string]*liveSession),
		registry:  registry,
		capacity:  capacity,
		driverOpt: driverOpts,
		observers: observers,
		logger:    logger,
	}
}

// Create starts a session and its driver
func (st *SessionStore) Create(opts session.Options) (*liveSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.capacity > 0 && len(st.sessions) >= st.capacity {
		return nil, ErrTooManySessions
	}

	if opts.Logger == nil {
		opts.Logger = st.logger
	}
	sess, err := session.New(st.registry, opts)
	if err != nil {
		return nil, err
	}

	live := &liveSession{
		sess:   sess,
		driver: playback.NewDriver(sess.Player(), st.driverOpt...),
	}
	for _, obs := range st.observers {
		live.unsubscribe = append(live.unsubscribe, live.driver.Subscribe(obs(sess.ID())))
	}
	st.sessions[sess.ID()] = live

	st.logger.Info("Session created",
		zap.String("session_id", sess.ID()),
		zap.String("corridor", sess.Corridor().ID),
		zap.String("method", string(sess.Method())),
	)
	return live, nil
}

// Get returns a live session
func (st *SessionStore) Get(id string) (*liveSession, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	live, ok := st.sessions[id]
	if !ok {
		return nil, types.NewError(types.ErrorCodeNotFound, "session not found", id)
	}
	return live, nil
}

// Delete stops a session's driver and forgets it
func (st *SessionStore) Delete(ctx context.Context, id string) error {
	st.mu.Lock()
	live, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if !ok {
		return types.NewError(types.ErrorCodeNotFound, "session not found", id)
	}
	return stop(ctx, live)
}

// Len returns the number of live sessions
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Capacity returns the session limit, 0 meaning unlimited
func (st *SessionStore) Capacity() int {
	return st.capacity
}

// CloseAll stops every driver
func (st *SessionStore) CloseAll(ctx context.Context) error {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*liveSession)
	st.mu.Unlock()

	var errs []error
	for _, live := range sessions {
		if err := stop(ctx, live); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stop(ctx context.Context, live *liveSession) error {
	for _, unsubscribe := range live.unsubscribe {
		unsubscribe()
	}
	return live.driver.Close(ctx)
}
