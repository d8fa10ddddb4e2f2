package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CheckpointKey identifies one on-disk file version sent to one endpoint.
type CheckpointKey struct {
	Path    string
	Size    int64
	ModTime time.Time
	URL     string
}

// Checkpoint records how far a chunked transfer got, so a later run can
// continue with the same FileID at NextPartIndex.
type Checkpoint struct {
	CheckpointKey
	PartSize      int64
	FileID        string
	FileName      string
	NextPartIndex int
	PartCount     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// KeyFor builds the checkpoint key of a file source sent to url. ok is false
// for sources that cannot be resumed.
func KeyFor(src Source, url string) (CheckpointKey, bool) {
	fs, isFile := src.(*FileSource)
	if !isFile {
		return CheckpointKey{}, false
	}
	return CheckpointKey{Path: fs.Path, Size: fs.Size(), ModTime: fs.ModTime, URL: url}, true
}

// Lookup returns the checkpoint for key, or nil when none matches. A
// checkpoint recorded with a different part size is discarded because its
// part boundaries no longer line up.
func (s *Store) Lookup(ctx context.Context, key CheckpointKey, partSize int64) (*Checkpoint, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `
		SELECT path, size, mod_time, url, part_size, file_id, file_name,
		       next_part_index, part_count, created_at, updated_at
		FROM checkpoints
		WHERE path = ? AND size = ? AND mod_time = ? AND url = ?`,
		key.Path, key.Size, key.ModTime.UnixNano(), key.URL,
	)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup checkpoint: %w", err)
	}
	if cp.PartSize != partSize {
		if err := s.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return cp, nil
}

// Save inserts or advances a checkpoint. NextPartIndex never moves backwards
// for an existing FileID.
func (s *Store) Save(ctx context.Context, cp Checkpoint) error {
	if strings.TrimSpace(cp.FileID) == "" {
		return errors.New("checkpoint requires a file id")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(ctx, `
		INSERT INTO checkpoints (
			path, size, mod_time, url, part_size, file_id, file_name,
			next_part_index, part_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path, size, mod_time, url) DO UPDATE SET
			next_part_index = CASE
				WHEN checkpoints.file_id = excluded.file_id
				THEN MAX(checkpoints.next_part_index, excluded.next_part_index)
				ELSE excluded.next_part_index END,
			file_id = excluded.file_id,
			file_name = excluded.file_name,
			part_size = excluded.part_size,
			part_count = excluded.part_count,
			updated_at = excluded.updated_at`,
		cp.Path, cp.Size, cp.ModTime.UnixNano(), cp.URL, cp.PartSize, cp.FileID, cp.FileName,
		cp.NextPartIndex, cp.PartCount, now, now,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint for key if present.
func (s *Store) Delete(ctx context.Context, key CheckpointKey) error {
	if err := s.execWithoutResultRetry(ctx,
		`DELETE FROM checkpoints WHERE path = ? AND size = ? AND mod_time = ? AND url = ?`,
		key.Path, key.Size, key.ModTime.UnixNano(), key.URL,
	); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// List returns all checkpoints, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Checkpoint, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, size, mod_time, url, part_size, file_id, file_name,
		       next_part_index, part_count, created_at, updated_at
		FROM checkpoints
		ORDER BY updated_at DESC, path`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

// Clear removes every checkpoint and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM checkpoints`)
	if err != nil {
		return 0, fmt.Errorf("clear checkpoints: %w", err)
	}
	return res.RowsAffected()
}

// PruneOlderThan removes checkpoints not updated since cutoff.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM checkpoints WHERE updated_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var (
		cp        Checkpoint
		modTime   int64
		createdAt string
		updatedAt string
	)
	if err := row.Scan(
		&cp.Path, &cp.Size, &modTime, &cp.URL, &cp.PartSize, &cp.FileID, &cp.FileName,
		&cp.NextPartIndex, &cp.PartCount, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	cp.ModTime = time.Unix(0, modTime)
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	cp.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &cp, nil
}
