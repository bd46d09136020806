package rendezvous

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGConsumeConditionalUpdate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`update auth_tokens\s+set consumed = true, claimed_by = \$2\s+where token = \$1 and consumed = false and expires_at > \$3`).
		WithArgs("abcd", int64(777), now).
		WillReturnRows(sqlmock.NewRows([]string{"token", "created_at", "expires_at", "claimed_by", "consumed"}).
			AddRow("abcd", now.Add(-time.Minute), now.Add(29*time.Minute), int64(777), true))

	store := NewPGStore(db)
	token, won, err := store.Consume(context.Background(), "abcd", 777, now)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !won {
		t.Fatal("expected the conditional update to win")
	}
	if token.ClaimedBy == nil || *token.ClaimedBy != 777 {
		t.Fatalf("claimed_by = %v, want 777", token.ClaimedBy)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGConsumeLosesOnZeroRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`update auth_tokens`).
		WithArgs("abcd", int64(888), now).
		WillReturnRows(sqlmock.NewRows([]string{"token", "created_at", "expires_at", "claimed_by", "consumed"}))

	store := NewPGStore(db)
	_, won, err := store.Consume(context.Background(), "abcd", 888, now)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if won {
		t.Fatal("zero-row update must not report a win")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGFindNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`select .* from auth_tokens where token = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"token", "created_at", "expires_at", "claimed_by", "consumed"}))

	store := NewPGStore(db)
	if _, err := store.Find(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Find: got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGDeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`delete from auth_tokens where expires_at < \$1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	store := NewPGStore(db)
	n, err := store.DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 3 {
		t.Fatalf("deleted %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
