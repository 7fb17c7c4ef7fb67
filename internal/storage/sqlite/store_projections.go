package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/averill/shopstream/internal/storage"
)

// LoadRecord returns one projection record, or storage.ErrNotFound.
func (s *Store) LoadRecord(ctx context.Context, projection, key string) (storage.ProjectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ProjectionRecord{}, err
	}
	return loadRecord(ctx, s.sqlDB, projection, key)
}

// LoadAllRecords returns every record of a projection ordered by key.
func (s *Store) LoadAllRecords(ctx context.Context, projection string) ([]storage.ProjectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return loadAllRecords(ctx, s.sqlDB, projection)
}

// SaveRecord upserts a projection record.
func (s *Store) SaveRecord(ctx context.Context, record storage.ProjectionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return saveRecord(ctx, s.sqlDB, record)
}

// DeleteRecord removes one projection record.
func (s *Store) DeleteRecord(ctx context.Context, projection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return deleteRecord(ctx, s.sqlDB, projection, key)
}

// DeleteRecords removes all records of a projection.
func (s *Store) DeleteRecords(ctx context.Context, projection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return deleteRecords(ctx, s.sqlDB, projection)
}

func loadRecord(ctx context.Context, q dbtx, projection, key string) (storage.ProjectionRecord, error) {
	projection = strings.TrimSpace(projection)
	key = strings.TrimSpace(key)
	if projection == "" {
		return storage.ProjectionRecord{}, fmt.Errorf("projection name is required")
	}
	if key == "" {
		return storage.ProjectionRecord{}, fmt.Errorf("record key is required")
	}
	row := q.QueryRowContext(ctx,
		`SELECT projection, key, view_json, applied_json, updated_at
		 FROM projection_records
		 WHERE projection = ? AND key = ?`,
		projection, key,
	)
	record, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ProjectionRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ProjectionRecord{}, fmt.Errorf("load record %s/%s: %w", projection, key, err)
	}
	return record, nil
}

func loadAllRecords(ctx context.Context, q dbtx, projection string) ([]storage.ProjectionRecord, error) {
	projection = strings.TrimSpace(projection)
	if projection == "" {
		return nil, fmt.Errorf("projection name is required")
	}
	rows, err := q.QueryContext(ctx,
		`SELECT projection, key, view_json, applied_json, updated_at
		 FROM projection_records
		 WHERE projection = ?
		 ORDER BY key ASC`,
		projection,
	)
	if err != nil {
		return nil, fmt.Errorf("load records for %s: %w", projection, err)
	}
	defer rows.Close()

	var records []storage.ProjectionRecord
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan record for %s: %w", projection, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanRecord(scan func(...any) error) (storage.ProjectionRecord, error) {
	var (
		record          storage.ProjectionRecord
		viewJSON        string
		appliedJSON     string
		updatedAtMillis int64
	)
	if err := scan(&record.Projection, &record.Key, &viewJSON, &appliedJSON, &updatedAtMillis); err != nil {
		return storage.ProjectionRecord{}, err
	}
	record.ViewJSON = json.RawMessage(viewJSON)
	if appliedJSON != "" {
		if err := json.Unmarshal([]byte(appliedJSON), &record.Applied); err != nil {
			return storage.ProjectionRecord{}, fmt.Errorf("decode applied marks: %w", err)
		}
	}
	record.UpdatedAt = fromMillis(updatedAtMillis)
	return record, nil
}

func saveRecord(ctx context.Context, q dbtx, record storage.ProjectionRecord) error {
	record.Projection = strings.TrimSpace(record.Projection)
	record.Key = strings.TrimSpace(record.Key)
	if record.Projection == "" {
		return fmt.Errorf("projection name is required")
	}
	if record.Key == "" {
		return fmt.Errorf("record key is required")
	}
	if len(record.ViewJSON) == 0 {
		return fmt.Errorf("record view is required")
	}
	appliedJSON, err := json.Marshal(record.Applied)
	if err != nil {
		return fmt.Errorf("encode applied marks: %w", err)
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO projection_records (projection, key, view_json, applied_json, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (projection, key) DO UPDATE SET
		     view_json = excluded.view_json,
		     applied_json = excluded.applied_json,
		     updated_at = excluded.updated_at`,
		record.Projection, record.Key, string(record.ViewJSON), string(appliedJSON), toMillis(record.UpdatedAt),
	); err != nil {
		return fmt.Errorf("save record %s/%s: %w", record.Projection, record.Key, err)
	}
	return nil
}

func deleteRecord(ctx context.Context, q dbtx, projection, key string) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM projection_records WHERE projection = ? AND key = ?`,
		projection, key,
	); err != nil {
		return fmt.Errorf("delete record %s/%s: %w", projection, key, err)
	}
	return nil
}

func deleteRecords(ctx context.Context, q dbtx, projection string) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM projection_records WHERE projection = ?`,
		projection,
	); err != nil {
		return fmt.Errorf("delete records for %s: %w", projection, err)
	}
	return nil
}
