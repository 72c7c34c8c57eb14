package ports

import "context"

// LockerPort provides exclusive locks keyed by hypothesis id
type LockerPort interface {
	// Acquire blocks until the key is held or ctx is done. The returned release
	// function must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}
