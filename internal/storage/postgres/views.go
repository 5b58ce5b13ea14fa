package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/splendor/internal/game/projection"
)

// ViewRepository persists game views as JSONB rows. It implements
// projection.ViewStore; the checkpoint lives in the last_seq column of the
// same row, so a view and its checkpoint always change together.
type ViewRepository struct {
	db *pgxpool.Pool
}

// NewViewRepository creates a ViewRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with the game_views
// table migrated.
func NewViewRepository(db *pgxpool.Pool) *ViewRepository {
	return &ViewRepository{db: db}
}

// Load implements projection.ViewStore.
func (r *ViewRepository) Load(ctx context.Context, gameID string) (projection.GameView, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		`SELECT view FROM game_views WHERE game_id = $1`,
		gameID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return projection.GameView{}, projection.ErrViewNotFound
		}
		return projection.GameView{}, fmt.Errorf("querying view %s: %w", gameID, err)
	}
	return decodeView(raw)
}

// Save implements projection.ViewStore.
//
// Postcondition: The row is written only when its stored last_seq equals
// expectedLastSeq (or, for expectedLastSeq 0, when no row exists); otherwise
// projection.ErrStaleCheckpoint is returned.
func (r *ViewRepository) Save(ctx context.Context, view projection.GameView, expectedLastSeq uint64) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encoding view %s: %w", view.ID, err)
	}

	if expectedLastSeq == 0 {
		_, err := r.db.Exec(ctx,
			`INSERT INTO game_views (game_id, last_seq, view, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, NOW())`,
			view.ID, int64(view.LastSeq), raw, view.CreatedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return projection.ErrStaleCheckpoint
			}
			return fmt.Errorf("inserting view %s: %w", view.ID, err)
		}
		return nil
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE game_views SET last_seq = $2, view = $3, updated_at = NOW()
		 WHERE game_id = $1 AND last_seq = $4`,
		view.ID, int64(view.LastSeq), raw, int64(expectedLastSeq),
	)
	if err != nil {
		return fmt.Errorf("updating view %s: %w", view.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return projection.ErrStaleCheckpoint
	}
	return nil
}

// List implements projection.ViewStore.
func (r *ViewRepository) List(ctx context.Context) ([]projection.GameView, error) {
	rows, err := r.db.Query(ctx, `SELECT view FROM game_views ORDER BY created_at, game_id`)
	if err != nil {
		return nil, fmt.Errorf("querying views: %w", err)
	}
	defer rows.Close()

	var out []projection.GameView
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning view: %w", err)
		}
		v, err := decodeView(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating views: %w", err)
	}
	return out, nil
}

// Checkpoints implements projection.ViewStore.
func (r *ViewRepository) Checkpoints(ctx context.Context) (map[string]uint64, error) {
	rows, err := r.db.Query(ctx, `SELECT game_id, last_seq FROM game_views`)
	if err != nil {
		return nil, fmt.Errorf("querying checkpoints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var (
			id  string
			seq int64
		)
		if err := rows.Scan(&id, &seq); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		out[id] = uint64(seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating checkpoints: %w", err)
	}
	return out, nil
}

func decodeView(raw []byte) (projection.GameView, error) {
	var v projection.GameView
	if err := json.Unmarshal(raw, &v); err != nil {
		return projection.GameView{}, fmt.Errorf("decoding view: %w", err)
	}
	return v, nil
}
