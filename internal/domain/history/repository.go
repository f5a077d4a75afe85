package history

import "context"

//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

// Repository defines persistence for settled rounds and the event log.
type Repository interface {
	InsertEvent(ctx context.Context, event *EventRecord) error
	// ContiguousEventSeq is the highest seq s such that every event in
	// after+1..s is stored; after when after+1 is missing.
	ContiguousEventSeq(ctx context.Context, after int64) (int64, error)

	InsertRound(ctx context.Context, round *SettledRound) error
	GetRound(ctx context.Context, round int64) (*SettledRound, error)
	ListRounds(ctx context.Context, limit, offset int) ([]*SettledRound, error)
}
