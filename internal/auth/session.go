package auth

import (
	"context"
	"errors"
	"time"
)

// SessionStore defines the persistence contract for session tokens. Tokens
// are stored by their SHA-256 digest so a leaked store never yields a
// presentable credential.
type SessionStore interface {
	Save(tokenHash string, role Role, issuedAt, expiresAt time.Time) error
	Get(tokenHash string) (SessionRecord, bool, error)
	Delete(tokenHash string) error
	PurgeExpired(now time.Time) error
}

// SessionRecord captures a session row retrieved from the backing store.
type SessionRecord struct {
	TokenHash string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionOption configures a SessionManager instance.
type SessionOption func(*SessionManager)

// WithStore injects a custom SessionStore implementation.
func WithStore(store SessionStore) SessionOption {
	return func(m *SessionManager) {
		m.store = store
	}
}

// WithTokenLength sets the token length used for newly created sessions.
func WithTokenLength(length int) SessionOption {
	return func(m *SessionManager) {
		if length > 0 {
			m.codec = NewTokenCodec(length)
		}
	}
}

// SessionManager coordinates session creation and validation against a
// backing store. A session's role is fixed at creation; changing role means
// logging in again.
type SessionManager struct {
	store SessionStore
	ttl   time.Duration
	codec TokenCodec
}

// NewSessionManager constructs a SessionManager with the provided TTL and
// options. It defaults to a 30-minute TTL and an in-memory store when none
// is supplied.
func NewSessionManager(ttl time.Duration, opts ...SessionOption) *SessionManager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	manager := &SessionManager{
		ttl:   ttl,
		codec: NewTokenCodec(0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemorySessionStore()
	}
	return manager
}

// Create issues a new opaque session token bound to the provided role.
func (m *SessionManager) Create(role Role) (string, time.Time, error) {
	if !role.Valid() {
		return "", time.Time{}, ErrInvalidRole
	}
	token, err := m.codec.Encode()
	if err != nil {
		return "", time.Time{}, err
	}
	hashed, err := m.codec.Decode(token)
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now()
	expiresAt := now.Add(m.ttl)
	if err := m.store.Save(hashed, role, now.UTC(), expiresAt.UTC()); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate checks the backing store for the provided token and returns the
// associated role when valid. Expired tokens are deleted and reported
// exactly like unknown tokens.
func (m *SessionManager) Validate(token string) (Role, bool, error) {
	if token == "" {
		return "", false, nil
	}
	hashed, err := m.codec.Decode(token)
	if err != nil {
		return "", false, nil
	}
	record, ok, err := m.store.Get(hashed)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	if time.Now().After(record.ExpiresAt) {
		_ = m.store.Delete(hashed)
		return "", false, nil
	}
	return record.Role, true, nil
}

// Revoke deletes the session token from the backing store. Revocation takes
// effect immediately for every store variant.
func (m *SessionManager) Revoke(token string) error {
	if token == "" {
		return nil
	}
	hashed, err := m.codec.Decode(token)
	if err != nil {
		return nil
	}
	return m.store.Delete(hashed)
}

// PurgeExpired removes any expired sessions from the backing store.
func (m *SessionManager) PurgeExpired() error {
	return m.store.PurgeExpired(time.Now())
}

// Ping verifies the underlying session store is reachable when it exposes a
// ping method.
func (m *SessionManager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// ErrInvalidRole is returned when attempting to create a session for an
// unknown role.
var ErrInvalidRole = errors.New("unknown role")
