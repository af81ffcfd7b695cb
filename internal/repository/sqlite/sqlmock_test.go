package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noisemap/internal/apperr"
	"noisemap/internal/domain/entities"
	"noisemap/internal/repository"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func TestAggregateRepository_IncrementArgs(t *testing.T) {
	db, mock := newMock(t)
	hour := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO aggregates .* ON CONFLICT \(geohash, time_bucket\) DO UPDATE`).
		WithArgs("u0n2hb1", hour.Unix(), 80.0, 45.0, 9.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewAggregateRepository(db)
	err := repo.Increment(context.Background(), entities.BucketKey{Geohash: "u0n2hb1", TimeBucket: hour}, 80, entities.NewLocation(45, 9))
	assert.NoError(t, err)
}

func TestAggregateRepository_IncrementFailureIsReturned(t *testing.T) {
	db, mock := newMock(t)
	boom := errors.New("disk I/O error")
	mock.ExpectExec(`INSERT INTO aggregates`).WillReturnError(boom)

	repo := NewAggregateRepository(db)
	err := repo.Increment(context.Background(), entities.BucketKey{Geohash: "u0n2hb1", TimeBucket: time.Now()}, 80, entities.NewLocation(45, 9))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(apperr.Wrap("ingest", err)))
}

func TestUserRepository_IncrementUnknownUser(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`UPDATE users SET measurement_count = measurement_count \+ 1 WHERE id = \? RETURNING measurement_count`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"measurement_count"}))

	_, err := NewUserRepository(db).IncrementMeasurementCount(context.Background(), "ghost")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestUserRepository_CreateDuplicate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewUserRepository(db).Create(context.Background(), entities.NewUser("id", "alice", "h"))
	assert.ErrorIs(t, err, repository.ErrUsernameTaken)
}

func TestUserRepository_AddAchievementExistingTitle(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT OR IGNORE INTO user_achievements`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM users WHERE id = \?`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	added, err := NewUserRepository(db).AddAchievement(context.Background(), "u1", entities.Achievement{Title: entities.TitleMeasurementMaster})
	require.NoError(t, err)
	assert.False(t, added)
}

func TestPlaceVisitRepository_ExistingRowIsUpdated(t *testing.T) {
	db, mock := newMock(t)
	at := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO place_visits .* ON CONFLICT \(user_id, kind, place_name\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE place_visits SET visit_count = visit_count \+ 1`).
		WithArgs(at.UnixNano(), "u1", "city", "Milan").
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := NewPlaceVisitRepository(db).RecordVisit(context.Background(), "u1", entities.PlaceKindCity, "Milan", "Italy", at)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMeasurementRepository_QueryFailure(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT .* FROM measurements WHERE user_id = \?`).
		WillReturnError(context.DeadlineExceeded)

	_, err := NewMeasurementRepository(db).ExposureByUser(context.Background(), "u1", 85)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(apperr.Wrap("profile", err), apperr.KindTransient))
}
