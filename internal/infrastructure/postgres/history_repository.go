package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aman879/LotteryDaap/internal/domain/history"
)

// HistoryRepository implements history.Repository. Every replica may write
// the same rows; inserts keyed by event seq and round are idempotent.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

func (r *HistoryRepository) InsertEvent(ctx context.Context, event *history.EventRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lottery_events (id, seq, event_type, round, payload, occurred_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (seq) DO NOTHING
	`, event.ID, event.Seq, event.Type, event.Round, event.Payload, event.At, event.CreatedAt)
	return err
}

// ContiguousEventSeq returns the highest seq s such that events after..s are
// all stored, or after itself when after+1 is missing. A live write that
// failed leaves a gap below MAX(seq); resuming from here refills it.
func (r *HistoryRepository) ContiguousEventSeq(ctx context.Context, after int64) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx, `
		SELECT CASE WHEN NOT EXISTS (SELECT 1 FROM lottery_events WHERE seq = $1::BIGINT + 1) THEN $1::BIGINT
		ELSE (
			SELECT MIN(e.seq) FROM lottery_events e
			WHERE e.seq > $1::BIGINT
			AND NOT EXISTS (SELECT 1 FROM lottery_events n WHERE n.seq = e.seq + 1)
		) END
	`, after).Scan(&seq)
	return seq, err
}

func (r *HistoryRepository) InsertRound(ctx context.Context, round *history.SettledRound) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lottery_rounds (id, round, winner, pot, request_id, players, event_seq, settled_at)
		VALUES ($1,$2,$3,$4::NUMERIC,$5,$6,$7,$8)
		ON CONFLICT (round) DO NOTHING
	`, round.ID, round.Round, round.Winner, round.Pot, round.RequestID, round.Players, round.EventSeq, round.SettledAt)
	return err
}

func (r *HistoryRepository) GetRound(ctx context.Context, round int64) (*history.SettledRound, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, round, winner, pot::TEXT, request_id, players, event_seq, settled_at
		FROM lottery_rounds WHERE round=$1
	`, round)
	return scanRound(row)
}

func (r *HistoryRepository) ListRounds(ctx context.Context, limit, offset int) ([]*history.SettledRound, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, round, winner, pot::TEXT, request_id, players, event_seq, settled_at
		FROM lottery_rounds ORDER BY round DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*history.SettledRound, 0)
	for rows.Next() {
		rd, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

func scanRound(row pgx.Row) (*history.SettledRound, error) {
	var rd history.SettledRound
	if err := row.Scan(&rd.ID, &rd.Round, &rd.Winner, &rd.Pot, &rd.RequestID, &rd.Players, &rd.EventSeq, &rd.SettledAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rd, nil
}
