package balance

import (
	"time"

	"github.com/shopspring/decimal"
)

// SeedMemory is a test helper that builds an in-memory store holding the given
// balances at version zero.
func SeedMemory(lockTimeout time.Duration, balances ...Balance) *MemoryStore {
	store := NewMemoryStore(lockTimeout)
	for _, b := range balances {
		b.Version = 0
		store.mu.Lock()
		store.records[b.ID] = b
		if b.ID > store.nextID {
			store.nextID = b.ID
		}
		store.mu.Unlock()
	}
	return store
}

// Active is a test helper building an active balance named after its id.
func Active(id int64, amount string) Balance {
	return Balance{ID: id, Name: "benefit", Amount: decimal.RequireFromString(amount), Active: true}
}
