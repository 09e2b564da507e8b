package settlement

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zawadi/disburser/internal/domain"
	"github.com/zawadi/disburser/internal/ledger"
)

// Manager holds the live settlement sessions, keyed by session ID. Sessions
// are in-memory only: the transparency store keeps confirmed settlements,
// never session state. The manager does not serialize sessions drawing from
// the same funding source; callers needing that exclusivity must provide it
// themselves.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Controller

	registry *ledger.Registry
	recorder Recorder
	payer    string
	timeout  time.Duration
}

func NewManager(registry *ledger.Registry, recorder Recorder, payer string, timeout time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*Controller),
		registry: registry,
		recorder: recorder,
		payer:    payer,
		timeout:  timeout,
	}
}

// Create builds an idle session for the plan and registers it.
func (m *Manager) Create(plan *domain.AllocationPlan) (*Controller, error) {
	ctrl, err := NewController(plan, m.registry, m.recorder, m.payer, m.timeout)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.mu.Lock()
	m.sessions[ctrl.ID()] = ctrl
	m.mu.Unlock()
	return ctrl, nil
}

// Get returns the controller for a session ID.
func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.sessions[id]
	return ctrl, ok
}

// List returns snapshots of every known session, ordered by session ID for
// a stable listing.
func (m *Manager) List() []domain.SettlementSession {
	m.mu.Lock()
	ctrls := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		ctrls = append(ctrls, c)
	}
	m.mu.Unlock()

	snaps := make([]domain.SettlementSession, len(ctrls))
	for i, c := range ctrls {
		snaps[i] = c.Snapshot()
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}
