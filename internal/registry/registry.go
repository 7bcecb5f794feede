// Package registry holds the two single-controller account sets the engine
// classifies against: market venues and fee-exempt accounts. Both are
// mutated only through an authorization check against the controller.
package registry

import (
	"sync"

	"github.com/oranchan/Meme/internal/domain"
)

type Registry struct {
	mu         sync.RWMutex
	controller domain.Address
	markets    map[domain.Address]bool
	exempt     map[domain.Address]bool
}

// New creates a registry owned by controller.
func New(controller domain.Address) *Registry {
	return &Registry{
		controller: controller,
		markets:    make(map[domain.Address]bool),
		exempt:     make(map[domain.Address]bool),
	}
}

// Controller returns the owning authority.
func (r *Registry) Controller() domain.Address {
	return r.controller
}

// SetMarketVenue adds or removes a market venue. Controller only.
func (r *Registry) SetMarketVenue(caller, venue domain.Address, on bool) error {
	return r.set(caller, r.markets, venue, on)
}

// SetExempt adds or removes a fee-exempt account. Controller only.
func (r *Registry) SetExempt(caller, acct domain.Address, on bool) error {
	return r.set(caller, r.exempt, acct, on)
}

func (r *Registry) set(caller domain.Address, m map[domain.Address]bool, acct domain.Address, on bool) error {
	if caller != r.controller {
		return domain.ErrNotController
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if on {
		m[acct] = true
	} else {
		delete(m, acct)
	}
	return nil
}

// IsMarketVenue reports whether acct is a registered market venue.
func (r *Registry) IsMarketVenue(acct domain.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.markets[acct]
}

// IsExempt reports whether acct is registered fee-exempt.
func (r *Registry) IsExempt(acct domain.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exempt[acct]
}
