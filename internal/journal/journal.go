// Package journal keeps an in-memory, append-only log of playback events per
// session. Nothing is persisted; the log goes away with the process.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/deltran/corridorsim/internal/playback"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxEntries bounds the log kept for one session
const DefaultMaxEntries = 1000

// Entry is one recorded playback transition
type Entry struct {
	ID        uuid.UUID          `json:"id"`
	Seq       uint64             `json:"seq"`
	SessionID string             `json:"session_id"`
	Kind      playback.EventKind `json:"kind"`
	Cursor    int                `json:"cursor"`
	Playing   bool               `json:"playing"`
	Length    int                `json:"length"`
	Complete  bool               `json:"complete"`
	At        time.Time          `json:"at"`
}

// Journal is safe for concurrent use
type Journal struct {
	mu         sync.RWMutex
	entries    map[string][]Entry
	seq        uint64
	maxEntries int
	logger     *zap.Logger
}

// New creates a journal keeping at most maxEntries per session; older
// entries are dropped first
func New(maxEntries int, logger *zap.Logger) *Journal {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		entries:    make(map[string][]Entry),
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// Append records ev for a session and returns the entry id
func (j *Journal) Append(ctx context.Context, sessionID string, ev playback.Event) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	entry := Entry{
		ID:        uuid.New(),
		Seq:       j.seq,
		SessionID: sessionID,
		Kind:      ev.Kind,
		Cursor:    ev.Snapshot.Cursor,
		Playing:   ev.Snapshot.Playing,
		Length:    ev.Snapshot.Length,
		Complete:  ev.Snapshot.Complete,
		At:        ev.At,
	}

	log := append(j.entries[sessionID], entry)
	if len(log) > j.maxEntries {
		log = append([]Entry(nil), log[len(log)-j.maxEntries:]...)
	}
	j.entries[sessionID] = log

	j.logger.Debug("Playback event journaled",
		zap.String("session_id", sessionID),
		zap.String("kind", string(ev.Kind)),
		zap.Int("cursor", ev.Snapshot.Cursor),
		zap.Uint64("seq", entry.Seq),
	)

	return entry.ID, nil
}

// Observer returns a playback.Observer that journals every event of a driver
func (j *Journal) Observer(sessionID string) playback.Observer {
	return func(ev playback.Event) {
		if _, err := j.Append(context.Background(), sessionID, ev); err != nil {
			j.logger.Warn("Failed to journal playback event",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
}

// Events returns a copy of a session's log, oldest first
func (j *Journal) Events(sessionID string) []Entry {
	return j.Since(sessionID, 0)
}

// Since returns the entries of a session with Seq greater than seq
func (j *Journal) Since(sessionID string, seq uint64) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Entry
	for _, e := range j.entries[sessionID] {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries kept for a session
func (j *Journal) Len(sessionID string) int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries[sessionID])
}

// Drop discards a session's log
func (j *Journal) Drop(sessionID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, sessionID)
}
