package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/splendor/internal/eventstore"
	"github.com/cory-johannsen/splendor/internal/game/event"
)

// EventStore persists game streams in the events table. It implements
// eventstore.Store.
type EventStore struct {
	db *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with the events
// table migrated.
func NewEventStore(db *pgxpool.Pool) *EventStore {
	return &EventStore{db: db}
}

// Append implements eventstore.Store.
//
// The head check and the inserts share one transaction. Two writers that both
// pass the head check collide on the (game_id, seq) primary key; the loser's
// unique violation is reported as eventstore.ErrConcurrencyConflict.
func (s *EventStore) Append(ctx context.Context, gameID string, expectedVersion uint64, evts []event.Event) ([]event.Event, error) {
	if err := eventstore.CheckBatch(gameID, evts); err != nil {
		return nil, err
	}
	stamped := eventstore.Stamp(expectedVersion, evts)

	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		var head int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM events WHERE game_id = $1`,
			gameID,
		).Scan(&head); err != nil {
			return fmt.Errorf("reading stream head: %w", err)
		}
		if uint64(head) != expectedVersion {
			return fmt.Errorf("%w: stream %s at version %d, expected %d",
				eventstore.ErrConcurrencyConflict, gameID, head, expectedVersion)
		}

		batch := &pgx.Batch{}
		for _, evt := range stamped {
			payload, err := event.EncodePayload(evt.Payload)
			if err != nil {
				return err
			}
			batch.Queue(
				`INSERT INTO events (game_id, seq, event_type, payload, occurred_at)
				 VALUES ($1, $2, $3, $4, $5)`,
				gameID, int64(evt.Seq), string(evt.Type()), payload, evt.OccurredAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("%w: stream %s advanced past %d", eventstore.ErrConcurrencyConflict, gameID, expectedVersion)
			}
			return fmt.Errorf("inserting events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stamped, nil
}

// Load implements eventstore.Store.
func (s *EventStore) Load(ctx context.Context, gameID string) ([]event.Event, error) {
	return s.LoadAfter(ctx, gameID, 0)
}

// LoadAfter implements eventstore.Store.
func (s *EventStore) LoadAfter(ctx context.Context, gameID string, afterSeq uint64) ([]event.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT seq, event_type, payload, occurred_at
		 FROM events WHERE game_id = $1 AND seq > $2
		 ORDER BY seq`,
		gameID, int64(afterSeq),
	)
	if err != nil {
		return nil, fmt.Errorf("querying events for %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			seq        int64
			typ        string
			payload    []byte
			occurredAt time.Time
		)
		if err := rows.Scan(&seq, &typ, &payload, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		p, err := event.DecodePayload(event.Type(typ), payload)
		if err != nil {
			return nil, fmt.Errorf("event %s/%d: %w", gameID, seq, err)
		}
		out = append(out, event.Event{GameID: gameID, Seq: uint64(seq), OccurredAt: occurredAt.UTC(), Payload: p})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// StreamHeads implements eventstore.Store.
func (s *EventStore) StreamHeads(ctx context.Context) (map[string]uint64, error) {
	rows, err := s.db.Query(ctx, `SELECT game_id, MAX(seq) FROM events GROUP BY game_id`)
	if err != nil {
		return nil, fmt.Errorf("querying stream heads: %w", err)
	}
	defer rows.Close()

	heads := make(map[string]uint64)
	for rows.Next() {
		var (
			id   string
			head int64
		)
		if err := rows.Scan(&id, &head); err != nil {
			return nil, fmt.Errorf("scanning stream head: %w", err)
		}
		heads[id] = uint64(head)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stream heads: %w", err)
	}
	return heads, nil
}
