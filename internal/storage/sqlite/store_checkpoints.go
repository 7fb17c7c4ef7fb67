package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/averill/shopstream/internal/storage"
)

// GetCheckpoint returns the last processed global sequence for a projection.
func (s *Store) GetCheckpoint(ctx context.Context, projection string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return getCheckpoint(ctx, s.sqlDB, projection)
}

// AdvanceCheckpoint upserts the checkpoint for a projection.
func (s *Store) AdvanceCheckpoint(ctx context.Context, projection string, globalSeq uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return advanceCheckpoint(ctx, s.sqlDB, projection, globalSeq)
}

// ResetCheckpoint deletes the checkpoint so catch-up restarts from zero.
func (s *Store) ResetCheckpoint(ctx context.Context, projection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return resetCheckpoint(ctx, s.sqlDB, projection)
}

// ListCheckpoints returns all checkpoints ordered by projection name.
func (s *Store) ListCheckpoints(ctx context.Context) ([]storage.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return listCheckpoints(ctx, s.sqlDB)
}

func getCheckpoint(ctx context.Context, q dbtx, projection string) (uint64, error) {
	projection = strings.TrimSpace(projection)
	if projection == "" {
		return 0, fmt.Errorf("projection name is required")
	}
	var globalSeq int64
	err := q.QueryRowContext(ctx,
		`SELECT global_seq FROM projection_checkpoints WHERE projection = ?`, projection,
	).Scan(&globalSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get checkpoint for %s: %w", projection, err)
	}
	return uint64(globalSeq), nil
}

func advanceCheckpoint(ctx context.Context, q dbtx, projection string, globalSeq uint64) error {
	projection = strings.TrimSpace(projection)
	if projection == "" {
		return fmt.Errorf("projection name is required")
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO projection_checkpoints (projection, global_seq, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (projection) DO UPDATE SET
		     global_seq = excluded.global_seq,
		     updated_at = excluded.updated_at`,
		projection, int64(globalSeq), toMillis(time.Now().UTC()),
	); err != nil {
		return fmt.Errorf("advance checkpoint for %s: %w", projection, err)
	}
	return nil
}

func resetCheckpoint(ctx context.Context, q dbtx, projection string) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM projection_checkpoints WHERE projection = ?`, projection,
	); err != nil {
		return fmt.Errorf("reset checkpoint for %s: %w", projection, err)
	}
	return nil
}

func listCheckpoints(ctx context.Context, q dbtx) ([]storage.Checkpoint, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT projection, global_seq, updated_at FROM projection_checkpoints ORDER BY projection ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []storage.Checkpoint
	for rows.Next() {
		var (
			cp              storage.Checkpoint
			globalSeq       int64
			updatedAtMillis int64
		)
		if err := rows.Scan(&cp.Projection, &globalSeq, &updatedAtMillis); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.GlobalSeq = uint64(globalSeq)
		cp.UpdatedAt = fromMillis(updatedAtMillis)
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}
