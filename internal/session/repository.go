package session

import "context"

// Repository stores pending login states and live sessions. Implementations
// must be safe for concurrent use; entries past their Expiry may be dropped
// by the store at any time.
type Repository interface {
	// State operations. LoadState returns serviceerr.ErrNotFound for unknown
	// or already-consumed states.
	LoadState(ctx context.Context, stateID string) (State, error)
	StoreState(ctx context.Context, state State) error
	DeleteState(ctx context.Context, stateID string) error

	// Session operations.
	LoadSession(ctx context.Context, sessionID string) (Session, error)
	StoreSession(ctx context.Context, session Session) error
	ListSessions(ctx context.Context) ([]Session, error)
	DeleteSession(ctx context.Context, session Session) error
}
