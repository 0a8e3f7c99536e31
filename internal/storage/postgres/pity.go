package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
)

// PityRepository persists each player's per-stream pity counter.
type PityRepository struct {
	db *pgxpool.Pool
}

// NewPityRepository creates a PityRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewPityRepository(db *pgxpool.Pool) *PityRepository {
	return &PityRepository{db: db}
}

// LoadPity returns every stored counter of playerID keyed by stream name.
//
// Postcondition: a player with no rows yields an empty, non-nil map.
func (r *PityRepository) LoadPity(ctx context.Context, playerID string) (map[string]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT stream, pulls_since_guarantee FROM pity_states WHERE player_id = $1`,
		playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pity for %s: %w", playerID, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var stream string
		var n int
		if err := rows.Scan(&stream, &n); err != nil {
			return nil, fmt.Errorf("scanning pity: %w", err)
		}
		out[stream] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pity: %w", err)
	}
	return out, nil
}

// SavePity upserts the counter of (playerID, stream).
//
// Precondition: pulls >= 0.
func (r *PityRepository) SavePity(ctx context.Context, playerID, stream string, pulls int) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO pity_states (player_id, stream, pulls_since_guarantee)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (player_id, stream)
		 DO UPDATE SET pulls_since_guarantee = EXCLUDED.pulls_since_guarantee, updated_at = NOW()`,
		playerID, stream, pulls,
	)
	if err != nil {
		if isCheckViolation(err) {
			return gerrors.Wrap(gerrors.CodeInvalidArgument,
				fmt.Sprintf("pity counter must be >= 0, got %d", pulls), err)
		}
		return fmt.Errorf("saving pity for %s/%s: %w", playerID, stream, err)
	}
	return nil
}
