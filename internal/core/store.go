package core

import "fmeacore/internal/infra/persistence/memory"

// MemoryStore is the in-memory transactional store. It also backs the
// snapshotting sqlite and postgres stores.
type MemoryStore = memory.Store

// NewMemoryStore constructs an in-memory store with the given rules engine.
func NewMemoryStore(engine *RulesEngine) *MemoryStore {
	return memory.NewStore(engine)
}
