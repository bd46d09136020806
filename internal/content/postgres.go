package content

import (
	"context"
	"database/sql"
	"errors"
)

// PGStore keeps the catalog in Postgres.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Find(ctx context.Context, id string) (*Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, title, kind, coalesce(path, ''), coalesce(url, ''),
		        coalesce(mime_type, ''), size_bytes, downloads
		   from content where id = $1`,
		id,
	)
	var r Resource
	err := row.Scan(&r.ID, &r.Title, &r.Kind, &r.Path, &r.URL, &r.MIMEType, &r.SizeBytes, &r.Downloads)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PGStore) IncrementDownloads(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update content set downloads = downloads + 1 where id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
