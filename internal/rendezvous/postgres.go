package rendezvous

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const tokenColumns = "token, created_at, expires_at, claimed_by, consumed"

// PGStore keeps handshake tokens in Postgres.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, t *Token) error {
	_, err := s.db.ExecContext(ctx,
		`insert into auth_tokens (token, created_at, expires_at) values ($1, $2, $3)`,
		t.Value, t.CreatedAt, t.ExpiresAt,
	)
	return err
}

func (s *PGStore) Find(ctx context.Context, value string) (*Token, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from auth_tokens where token = $1`,
		value,
	)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// Consume is the single serialization point of the handshake: the predicate
// guarantees at most one claimant ever flips the consumed flag.
func (s *PGStore) Consume(ctx context.Context, value string, channelID int64, now time.Time) (*Token, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`update auth_tokens
		    set consumed = true, claimed_by = $2
		  where token = $1 and consumed = false and expires_at > $3
		 returning `+tokenColumns,
		value, channelID, now,
	)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *PGStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from auth_tokens where expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*Token, error) {
	var (
		t         Token
		claimedBy sql.NullInt64
	)
	if err := row.Scan(&t.Value, &t.CreatedAt, &t.ExpiresAt, &claimedBy, &t.Consumed); err != nil {
		return nil, err
	}
	if claimedBy.Valid {
		v := claimedBy.Int64
		t.ClaimedBy = &v
	}
	return &t, nil
}
