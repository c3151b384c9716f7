// Package session keeps one lifecycle controller per operator session.
package session

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/lifecycle"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

const (
	defaultMaxSessions = 1000
	defaultTTL         = 30 * time.Minute
)

// Config bounds the registry.
type Config struct {
	MaxSessions int
	TTL         time.Duration
}

// Hook runs for every new controller. The returned func, if any, runs when
// the session is evicted or deleted.
type Hook func(c *lifecycle.Controller) func()

type entry struct {
	ctrl    *lifecycle.Controller
	release []func()
	closed  atomic.Bool
}

// Manager is an expiring LRU of controllers keyed by uuid. Idle sessions are
// dropped after TTL; the least recently used is dropped when full.
type Manager struct {
	sessions *expirable.LRU[string, *entry]
	schema   *intake.Schema
	svc      lifecycle.Predictor
	hooks    []Hook
	log      *logrus.Logger
}

// NewManager creates a registry whose controllers share schema and svc.
func NewManager(schema *intake.Schema, svc lifecycle.Predictor, cfg Config, logger *logrus.Logger, hooks ...Hook) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Manager{schema: schema, svc: svc, hooks: hooks, log: logger}
	m.sessions = expirable.NewLRU[string, *entry](cfg.MaxSessions, m.evicted, cfg.TTL)
	return m
}

// evicted resets the controller so a late completion is discarded, then
// releases hooks. It runs under the LRU lock: listeners must not call back
// into the Manager. An entry is closed once even if it was re-added.
func (m *Manager) evicted(id string, e *entry) {
	if e.closed.Swap(true) {
		return
	}
	e.ctrl.Reset()
	for _, release := range e.release {
		release()
	}
	m.log.WithField("session_id", id).Debug("Session closed")
}

// Create starts a new session in idle with a default record.
func (m *Manager) Create() *lifecycle.Controller {
	id := uuid.NewString()
	ctrl := lifecycle.New(m.schema, m.svc, lifecycle.WithID(id), lifecycle.WithLogger(m.log))
	e := &entry{ctrl: ctrl}
	for _, hook := range m.hooks {
		if release := hook(ctrl); release != nil {
			e.release = append(e.release, release)
		}
	}
	m.sessions.Add(id, e)
	m.log.WithField("session_id", id).Info("Session created")
	return ctrl
}

// Get returns the session and renews its TTL.
func (m *Manager) Get(id string) (*lifecycle.Controller, error) {
	e, ok := m.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return m.renew(id, e)
}

// renew re-adds e to restart its TTL. A delete or expiry between the lookup
// and the re-add has already closed e; it is taken out again rather than
// revived without its hooks.
func (m *Manager) renew(id string, e *entry) (*lifecycle.Controller, error) {
	m.sessions.Add(id, e)
	if e.closed.Load() {
		m.sessions.Remove(id)
		return nil, ErrNotFound
	}
	return e.ctrl, nil
}

// Delete closes the session.
func (m *Manager) Delete(id string) error {
	if !m.sessions.Remove(id) {
		return ErrNotFound
	}
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.sessions.Len()
}

// Close closes every session.
func (m *Manager) Close() {
	m.sessions.Purge()
}
