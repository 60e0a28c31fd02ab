package purchase

import (
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"

	"stampbuy/internal/dispense"
	"stampbuy/internal/dispenser"
	"stampbuy/internal/logging"
	"stampbuy/internal/wallet"
)

// RateSource supplies the fee rate new sessions start with.
type RateSource interface {
	RecommendedRate() (int64, bool)
}

type ManagerConfig struct {
	Wallet     wallet.Wallet
	Dispense   dispense.Client
	Fees       RateSource
	CloseDelay time.Duration
	AfterFunc  AfterFunc
	Log        slog.Logger
}

// Manager owns the open sessions.
type Manager struct {
	cfg ManagerConfig
	log slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      logging.OrDisabled(cfg.Log),
		sessions: make(map[string]*Session),
	}
}

// Open starts a session. A non-positive feeRate is replaced by the current
// recommendation when one is known.
func (m *Manager) Open(stamp string, d dispenser.Dispenser, feeRate int64) *Session {
	if feeRate <= 0 && m.cfg.Fees != nil {
		if rate, ok := m.cfg.Fees.RecommendedRate(); ok {
			feeRate = rate
		}
	}

	id := uuid.NewString()
	s := NewSession(id, stamp, d, feeRate, Config{
		Wallet:     m.cfg.Wallet,
		Dispense:   m.cfg.Dispense,
		CloseDelay: m.cfg.CloseDelay,
		AfterFunc:  m.cfg.AfterFunc,
		OnClose:    func() { m.forget(id) },
		Log:        m.log,
	})

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.Debugf("Opened purchase %s for dispenser %s", id, d.Source)
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close closes and forgets a session. It reports whether the id was open.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	return true
}

// CloseAll closes every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range open {
		s.Close()
	}
}

// Len is the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
