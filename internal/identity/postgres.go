package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"flhub.app/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, telegram_id, coalesce(telegram_username,''), coalesce(first_name,''), coalesce(last_name,''), coalesce(email,''), coalesce(password_hash,''), email_verified, role, vip_expires_at, created_at`

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = RoleBasic
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, telegram_id, telegram_username, first_name, last_name,
			email, password_hash, email_verified, role, vip_expires_at)
		values($1,$2,$3,$4,$5,nullif($6,''),nullif($7,''),$8,$9,$10)
	`, u.ID, u.TelegramID, u.TelegramUsername, u.FirstName, u.LastName,
		u.Email, u.PasswordHash, u.EmailVerified, u.Role, u.VIPExpiresAt)
	return err
}

func (s *PGStore) Find(ctx context.Context, id string) (*User, error) {
	return s.findBy(ctx, `id=$1`, id)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findBy(ctx, `email=$1`, email)
}

func (s *PGStore) FindByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	return s.findBy(ctx, `telegram_id=$1`, telegramID)
}

func (s *PGStore) findBy(ctx context.Context, predicate string, arg any) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where `+predicate, arg)
	return scanUser(row)
}

func (s *PGStore) FindOrCreateByTelegram(ctx context.Context, profile TelegramProfile) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into users(id, telegram_id, telegram_username, first_name, last_name, role)
		values($1,$2,$3,$4,$5,'BASIC')
		on conflict (telegram_id) do update
		set telegram_username = excluded.telegram_username,
		    first_name = excluded.first_name,
		    last_name = excluded.last_name
		returning `+userColumns,
		ids.New(), profile.ID, profile.Username, profile.FirstName, profile.LastName)
	return scanUser(row)
}

// SetEntitlement is a single conditional update: the CEO guard lives in the
// predicate so a concurrent out-of-band promotion can never be overwritten.
func (s *PGStore) SetEntitlement(ctx context.Context, id string, role Role, expiresAt *time.Time) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users set role=$2, vip_expires_at=$3
		where id=$1 and role <> 'CEO'
		returning `+userColumns,
		id, role, expiresAt)
	user, err := scanUser(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing row from a rejected CEO write.
		if _, findErr := s.Find(ctx, id); findErr == nil {
			return nil, ErrForbidden
		}
		return nil, ErrNotFound
	}
	return user, err
}

func (s *PGStore) DemoteExpired(ctx context.Context, now time.Time) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		update users set role='BASIC', vip_expires_at=null
		where role='VIP' and vip_expires_at is not null and vip_expires_at < $1
		returning `+userColumns, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var demoted []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		demoted = append(demoted, user)
	}
	return demoted, rows.Err()
}

func (s *PGStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2 where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u          User
		telegramID sql.NullInt64
		expires    sql.NullTime
	)
	err := row.Scan(&u.ID, &telegramID, &u.TelegramUsername, &u.FirstName, &u.LastName,
		&u.Email, &u.PasswordHash, &u.EmailVerified, &u.Role, &expires, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if telegramID.Valid {
		u.TelegramID = &telegramID.Int64
	}
	if expires.Valid {
		t := expires.Time
		u.VIPExpiresAt = &t
	}
	return &u, nil
}
