package streak

import "context"

// Repository persists the single streak row. Get on a fresh database returns
// ErrStreakNotFound from the infra layer; callers treat that as a zero state.
type Repository interface {
	Get(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}
