package session

import (
	"errors"
	"sync"

	"hospitalcrm.org/internal/obs"
)

// ErrInvalidToken indicates a credential that failed structural decoding.
var ErrInvalidToken = errors.New("session: invalid token")

// Session is a snapshot of the client's authentication state. A zero Session
// is the logged-out state.
type Session struct {
	Token           string
	UserID          string
	Role            Role
	Email           string
	IsAuthenticated bool
}

// Manager owns the process-wide session: the bearer token, the identity
// derived from it and the persisted snapshot mirroring both. All mutation
// goes through Initialize, Login, Logout and Invalidate; everything else gets
// a copy via Current. Expiry is checked at Initialize and whenever the API
// boundary reports a 401, never continuously.
type Manager struct {
	mu      sync.RWMutex
	store   Store
	current Session
}

// NewManager returns a logged-out manager backed by the given snapshot store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Initialize restores session state from the persisted snapshot. A missing,
// malformed or expired token yields the logged-out state; a stale token is
// purged from the store so later restarts do not re-decode it. The persisted
// snapshot always mirrors the resulting in-memory state.
func (m *Manager) Initialize() Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok, err := m.store.Load()
	if err != nil {
		obs.LogEvent(map[string]any{"event": "session_restore_failed", "error": err.Error()})
	}
	if !ok || snap.Token == "" {
		m.current = Session{}
		return m.current
	}

	payload, ok := DecodePayload(snap.Token)
	if !ok {
		m.current = Session{}
		if err := m.store.Clear(); err != nil {
			obs.LogEvent(map[string]any{"event": "session_purge_failed", "error": err.Error()})
		}
		return m.current
	}

	m.current = Session{
		Token:           snap.Token,
		UserID:          payload.UserID,
		Role:            payload.Role,
		Email:           payload.Email,
		IsAuthenticated: true,
	}
	m.persistLocked()
	return m.current
}

// Login decodes the token and, on success, stores it and derives the
// identity. On decode failure every field is cleared and ErrInvalidToken is
// returned; navigation after a successful login is the caller's concern.
func (m *Manager) Login(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload, ok := DecodePayload(token)
	if !ok {
		m.current = Session{}
		m.persistLocked()
		return ErrInvalidToken
	}
	m.current = Session{
		Token:           token,
		UserID:          payload.UserID,
		Role:            payload.Role,
		Email:           payload.Email,
		IsAuthenticated: true,
	}
	m.persistLocked()
	return nil
}

// Logout removes the persisted token and resets all in-memory fields.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Session{}
	if err := m.store.Clear(); err != nil {
		obs.LogEvent(map[string]any{"event": "session_clear_failed", "error": err.Error()})
	}
}

// Invalidate performs the logout transition on behalf of the API boundary
// when any request comes back 401. Idempotent.
func (m *Manager) Invalidate() {
	m.Logout()
}

// Current returns a copy of the session state.
func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Token implements the API boundary's token source.
func (m *Manager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.current.IsAuthenticated {
		return "", false
	}
	return m.current.Token, true
}

func (m *Manager) persistLocked() {
	snap := Snapshot{
		IsAuthenticated: m.current.IsAuthenticated,
		Role:            string(m.current.Role),
		UserID:          m.current.UserID,
		Token:           m.current.Token,
		Email:           m.current.Email,
	}
	if err := m.store.Save(snap); err != nil {
		obs.LogEvent(map[string]any{"event": "session_persist_failed", "error": err.Error()})
	}
}
