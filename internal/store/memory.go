package store

import (
	"context"
	"sync"
	"time"

	"github.com/auditmesh/auditmesh/internal/ledger"
)

// Memory is an in-memory, thread-safe Store implementation.
type Memory struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Entry
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{byID: make(map[string]*Entry)}
}

// Append implements Store.
func (m *Memory) Append(_ context.Context, tx *ledger.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byID[tx.TransactionID]; dup {
		return false, nil
	}
	m.byID[tx.TransactionID] = &Entry{
		Transaction: *tx,
		BlockID:     BlockIDPending,
		BlockHeight: BlockHeightUnassigned,
		CreatedAt:   time.Now().UTC(),
	}
	m.order = append(m.order, tx.TransactionID)
	return true, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, transactionID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byID[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// History implements Store.
func (m *Memory) History(_ context.Context, entityClass, entityID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, id := range m.order {
		e := m.byID[id]
		if e.EntityClass == entityClass && e.EntityID == entityID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Transactions implements Store.
func (m *Memory) Transactions(_ context.Context) ([]*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ledger.Transaction, 0, len(m.order))
	for _, id := range m.order {
		cp := m.byID[id].Transaction
		out = append(out, &cp)
	}
	return out, nil
}

// TransactionIDs implements Store.
func (m *Memory) TransactionIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.order))
	copy(out, m.order)
	return out, nil
}

// Count implements Store.
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order), nil
}
