package broker

import (
	"fmt"
	"sync"
)

// AccountRegistry holds one *Account per configured AccountDefinition,
// keyed by account ID. The Job Manager and Worker Queue executor look an
// account up by the ExpertInstance.AccountID they are acting on.
type AccountRegistry struct {
	mu       sync.RWMutex
	accounts map[int64]*Account
}

// NewAccountRegistry returns an empty registry.
func NewAccountRegistry() *AccountRegistry {
	return &AccountRegistry{accounts: make(map[int64]*Account)}
}

// Register binds an Account under its own AccountID, replacing any existing
// entry for that ID.
func (r *AccountRegistry) Register(a *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.Definition.ID] = a
}

// Get returns the Account for accountID, or an error if none is registered.
func (r *AccountRegistry) Get(accountID int64) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("no account registered for id %d", accountID)
	}
	return a, nil
}

// All returns every registered Account, in no particular order.
func (r *AccountRegistry) All() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out
}
