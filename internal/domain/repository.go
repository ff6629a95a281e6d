package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAlreadyRunning  = errors.New("already running")
	ErrWrongContext    = errors.New("wrong context")
	ErrNoContacts      = errors.New("no contacts found")
	ErrScanFailed      = errors.New("scan failed")
	ErrTargetInvalid   = errors.New("target no longer valid")
	ErrLoadInProgress  = errors.New("already loading all contacts")
	ErrClosed          = errors.New("controller closed")
	ErrNotFound        = errors.New("not found")
	ErrInvalidSettings = errors.New("invalid settings")
)

// Scanner discovers contacts on the current page.
// Results are best effort: partial, empty, duplicated or failed.
type Scanner interface {
	Scan(ctx context.Context, target Target) ([]Contact, error)
}

// ActionExecutor performs one removal as a multi-step UI sequence.
// A failure gives no side-effect guarantee; the action may have partially run.
type ActionExecutor interface {
	Execute(ctx context.Context, target Target, contactID string, kind ActionKind) (ActionResult, error)
}

// TargetResolver returns the surface currently in use (the active tab).
type TargetResolver interface {
	Resolve(ctx context.Context) (Target, error)
}

// DiscoverySource is the scrollable data source the Bulk Loader drives.
type DiscoverySource interface {
	// Prepare locates the scrollable container. Failure aborts the load.
	Prepare(ctx context.Context) error

	// Extent returns the current scrollable extent (e.g. scrollHeight).
	Extent(ctx context.Context) (int64, error)

	// Advance triggers the primary discovery method (scroll to bottom).
	Advance(ctx context.Context) error

	// AdvanceFallback runs the alternate discovery actions for stuck sources.
	AdvanceFallback(ctx context.Context) error

	// ScanVisible returns the contacts currently materialised.
	ScanVisible(ctx context.Context) ([]Contact, error)
}

// KeyValueStore is the persistent storage contract: per-key last-write-wins, no transactions.
type KeyValueStore interface {
	// Get returns the stored value, or ok=false if the key was never written.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set overwrites the value of key.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// ProgressListener receives Bulk Loader progress events.
type ProgressListener interface {
	OnProgress(p Progress)
}

// ProgressFunc adapts a function to ProgressListener.
type ProgressFunc func(p Progress)

// OnProgress calls f(p).
func (f ProgressFunc) OnProgress(p Progress) { f(p) }

// Clock abstracts time so pacing can be tested without real waits.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// ProcessManager handles OS process lookups.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}

// KeyProvider abstracts the source of the storage encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
