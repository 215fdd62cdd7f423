package sync

import "context"

// SyncEngineInterface is the engine surface used by the scheduler and the
// status API. It allows for mocking in tests.
type SyncEngineInterface interface {
	// Sync runs one pass for owner.
	Sync(ctx context.Context, owner string) (*SyncResult, error)

	// Status returns owner's current sync state.
	Status(owner string) SyncStatus

	// Syncing reports whether a pass is in flight for owner.
	Syncing(owner string) bool

	// LastResult returns owner's most recent non-skipped pass, or nil.
	LastResult(owner string) *SyncResult
}
