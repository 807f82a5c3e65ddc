package store

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"radio-recorder-backend/internal/model"
)

// Any matches any SQL driver argument.
type Any struct{}

func (a Any) Match(v driver.Value) bool {
	return true
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestCreateReservation_RejectsInvertedWindow(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)

	start := time.Now()
	err := s.CreateReservation(context.Background(), &model.Reservation{
		Title:     "Backwards",
		StationID: "TBS",
		StartTime: start,
		EndTime:   start.Add(-time.Hour),
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "no SQL may be issued for an invalid window")
}

func TestFinalizeHistory(t *testing.T) {
	t.Run("rejects non-terminal status", func(t *testing.T) {
		db, mock := newTestDB(t)
		s := NewGormStore(db)

		err := s.FinalizeHistory(context.Background(), 7, model.StatusRecording, "")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("updates only non-terminal rows", func(t *testing.T) {
		db, mock := newTestDB(t)
		s := NewGormStore(db)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "recording_histories" SET`)).
			WithArgs(Any{}, Any{}, Any{}, int64(7), Any{}, Any{}).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.FinalizeHistory(context.Background(), 7, model.StatusFailed, "capture process failed")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already-terminal row is a no-op", func(t *testing.T) {
		db, mock := newTestDB(t)
		s := NewGormStore(db)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "recording_histories" SET`)).
			WithArgs(Any{}, Any{}, Any{}, int64(7), Any{}, Any{}).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := s.FinalizeHistory(context.Background(), 7, model.StatusCompleted, "")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHistoryExistsForOccurrence(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)

	occ := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "recording_histories"`)).
		WithArgs(int64(42), occ).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	exists, err := s.HistoryExistsForOccurrence(context.Background(), 42, occ)
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "recording_histories"`)).
		WithArgs(int64(42), occ).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	exists, err = s.HistoryExistsForOccurrence(context.Background(), 42, occ)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryByStatus(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)

	rows := sqlmock.NewRows([]string{"id", "title", "status"}).
		AddRow(int64(3), "News Hour", "failed").
		AddRow(int64(1), "Morning Show", "failed")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "recording_histories" WHERE status = $1`)).
		WithArgs("failed").
		WillReturnRows(rows)

	out, err := s.HistoryByStatus(context.Background(), model.StatusFailed)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(3), out[0].ID)
	assert.Equal(t, model.StatusFailed, out[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateReservation(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "reservations" SET`)).
		WithArgs(false, Any{}, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, s.DeactivateReservation(context.Background(), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReservation_NotFound(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "reservations" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	start := time.Now()
	err := s.UpdateReservation(context.Background(), &model.Reservation{
		ID:        999,
		Title:     "Ghost",
		StationID: "TBS",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReservation_NotFound(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "reservations"`)).
		WithArgs(int64(999)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.DeleteReservation(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepStaleHistory(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "recording_histories" SET`)).
		WithArgs(Any{}, Any{}, Any{}, Any{}, Any{}).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := s.SweepStaleHistory(context.Background(), "interrupted by restart")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
