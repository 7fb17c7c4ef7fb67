package sqlite

import (
	"context"
	"fmt"

	"github.com/averill/shopstream/internal/storage"
)

// projectionTx exposes projection record and checkpoint operations bound to
// one transaction. It backs both inline projection application inside append
// transactions and the async daemon's batch-plus-checkpoint writes.
type projectionTx struct {
	tx dbtx
}

var _ storage.ProjectionTx = (*projectionTx)(nil)

func (p *projectionTx) LoadRecord(ctx context.Context, projection, key string) (storage.ProjectionRecord, error) {
	return loadRecord(ctx, p.tx, projection, key)
}

func (p *projectionTx) LoadAllRecords(ctx context.Context, projection string) ([]storage.ProjectionRecord, error) {
	return loadAllRecords(ctx, p.tx, projection)
}

func (p *projectionTx) SaveRecord(ctx context.Context, record storage.ProjectionRecord) error {
	return saveRecord(ctx, p.tx, record)
}

func (p *projectionTx) DeleteRecord(ctx context.Context, projection, key string) error {
	return deleteRecord(ctx, p.tx, projection, key)
}

func (p *projectionTx) DeleteRecords(ctx context.Context, projection string) error {
	return deleteRecords(ctx, p.tx, projection)
}

func (p *projectionTx) GetCheckpoint(ctx context.Context, projection string) (uint64, error) {
	return getCheckpoint(ctx, p.tx, projection)
}

func (p *projectionTx) AdvanceCheckpoint(ctx context.Context, projection string, globalSeq uint64) error {
	return advanceCheckpoint(ctx, p.tx, projection, globalSeq)
}

func (p *projectionTx) ResetCheckpoint(ctx context.Context, projection string) error {
	return resetCheckpoint(ctx, p.tx, projection)
}

func (p *projectionTx) ListCheckpoints(ctx context.Context) ([]storage.Checkpoint, error) {
	return listCheckpoints(ctx, p.tx)
}

// WithProjectionTx runs fn against a transaction-scoped projection store and
// commits if fn succeeds.
func (s *Store) WithProjectionTx(ctx context.Context, fn func(ctx context.Context, tx storage.ProjectionTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if fn == nil {
		return fmt.Errorf("transaction function is required")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin projection tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &projectionTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit projection tx: %w", err)
	}
	return nil
}
