// Package session holds the ephemeral clone/pairing handshake state. A
// session is created by the forking side, accepted by the receiving side,
// and finalized once the clone exists. Entries are keyed and expire on a
// TTL; nothing here is persisted.
package session

import (
	"time"

	"github.com/google/uuid"

	errs "github.com/tinychat/tinychat/internal/errors"
	"github.com/tinychat/tinychat/store/cache"
)

// Status tracks the handshake progress.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
)

// CloneSession is one in-flight fork handshake.
type CloneSession struct {
	ID             string
	CreatorID      int32
	ChatID         string
	UntilMessageID string
	NewTitle       string
	Status         Status
	CreatedTs      int64
}

// Manager stores sessions in a TTL cache so abandoned handshakes evaporate
// instead of accumulating for the process lifetime.
type Manager struct {
	sessions *cache.Cache
	ttl      time.Duration
}

// NewManager creates a session manager. ttl <= 0 defaults to 5 minutes.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		ttl: ttl,
		sessions: cache.New(cache.Config{
			DefaultTTL:      ttl,
			CleanupInterval: ttl,
			MaxItems:        1024,
		}),
	}
}

// Close stops the cache cleanup goroutine.
func (m *Manager) Close() {
	m.sessions.Close()
}

// Start opens a new handshake for forking chatID at untilMessageID.
func (m *Manager) Start(creatorID int32, chatID, untilMessageID, newTitle string) *CloneSession {
	session := &CloneSession{
		ID:             uuid.NewString(),
		CreatorID:      creatorID,
		ChatID:         chatID,
		UntilMessageID: untilMessageID,
		NewTitle:       newTitle,
		Status:         StatusPending,
		CreatedTs:      time.Now().Unix(),
	}
	m.sessions.Set(session.ID, session)
	return session
}

// Get returns a live session.
func (m *Manager) Get(id string) (*CloneSession, error) {
	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, errs.NotFound("clone session %s not found or expired", id)
	}
	return v.(*CloneSession), nil
}

// Accept moves a pending session to accepted.
func (m *Manager) Accept(id string) (*CloneSession, error) {
	session, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusPending {
		return nil, errs.InvalidState("clone session %s already %s", id, session.Status)
	}
	session.Status = StatusAccepted
	m.sessions.Set(id, session)
	return session, nil
}

// Finalize removes an accepted session and returns it so the caller can run
// the actual clone.
func (m *Manager) Finalize(id string) (*CloneSession, error) {
	session, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusAccepted {
		return nil, errs.InvalidState("clone session %s is %s, not accepted", id, session.Status)
	}
	m.sessions.Delete(id)
	return session, nil
}
