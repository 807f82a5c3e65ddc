package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"radio-recorder-backend/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	// Reservations
	CreateReservation(ctx context.Context, r *model.Reservation) error
	ReservationByID(ctx context.Context, id int64) (*model.Reservation, error)
	AllReservations(ctx context.Context) ([]model.Reservation, error)
	ActiveReservations(ctx context.Context) ([]model.Reservation, error)
	UpdateReservation(ctx context.Context, r *model.Reservation) error
	DeleteReservation(ctx context.Context, id int64) error
	DeactivateReservation(ctx context.Context, id int64) error

	// Recording history
	CreateHistory(ctx context.Context, h *model.RecordingHistory) error
	HistoryByID(ctx context.Context, id int64) (*model.RecordingHistory, error)
	ListHistory(ctx context.Context, limit int) ([]model.RecordingHistory, error)
	HistoryByStatus(ctx context.Context, status model.RecordingStatus) ([]model.RecordingHistory, error)
	HistoryExistsForOccurrence(ctx context.Context, reservationID int64, occurrenceStart time.Time) (bool, error)
	FinalizeHistory(ctx context.Context, id int64, status model.RecordingStatus, errorMessage string) error
	SetHistoryFile(ctx context.Context, id int64, filePath string, fileSize int64) error
	DeleteHistory(ctx context.Context, id int64) error
	SweepStaleHistory(ctx context.Context, reason string) (int64, error)

	// Push subscriptions
	Subscriptions(ctx context.Context) ([]model.PushSubscription, error)
	UpsertSubscription(ctx context.Context, s *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	if !r.EndTime.After(r.StartTime) {
		return fmt.Errorf("reservation end time must be after start time")
	}
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *gormStore) ReservationByID(ctx context.Context, id int64) (*model.Reservation, error) {
	var r model.Reservation
	err := s.db.WithContext(ctx).First(&r, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *gormStore) AllReservations(ctx context.Context) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.db.WithContext(ctx).Order("start_time ASC").Find(&out).Error
	return out, err
}

func (s *gormStore) ActiveReservations(ctx context.Context) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("start_time ASC").Find(&out).Error
	return out, err
}

func (s *gormStore) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	if !r.EndTime.After(r.StartTime) {
		return fmt.Errorf("reservation end time must be after start time")
	}
	res := s.db.WithContext(ctx).Model(&model.Reservation{}).Where("id = ?", r.ID).
		Select("title", "station_id", "station_name", "start_time", "end_time", "repeat_type", "repeat_days", "active").
		Updates(r)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) DeleteReservation(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&model.Reservation{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) DeactivateReservation(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ?", id).
		Update("active", false).Error
}

func (s *gormStore) CreateHistory(ctx context.Context, h *model.RecordingHistory) error {
	return s.db.WithContext(ctx).Create(h).Error
}

func (s *gormStore) HistoryByID(ctx context.Context, id int64) (*model.RecordingHistory, error) {
	var h model.RecordingHistory
	err := s.db.WithContext(ctx).First(&h, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *gormStore) ListHistory(ctx context.Context, limit int) ([]model.RecordingHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.RecordingHistory
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (s *gormStore) HistoryByStatus(ctx context.Context, status model.RecordingStatus) ([]model.RecordingHistory, error) {
	var out []model.RecordingHistory
	err := s.db.WithContext(ctx).Where("status = ?", status).Order("created_at DESC").Find(&out).Error
	return out, err
}

func (s *gormStore) HistoryExistsForOccurrence(ctx context.Context, reservationID int64, occurrenceStart time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.RecordingHistory{}).
		Where("reservation_id = ? AND start_time = ?", reservationID, occurrenceStart).
		Count(&count).Error
	return count > 0, err
}

// FinalizeHistory moves a history row to a terminal status. The conditional
// WHERE keeps terminal rows immutable: finalizing an already-finalized row is
// a no-op, which resolves the stop-vs-exit race in the stopper's favor.
func (s *gormStore) FinalizeHistory(ctx context.Context, id int64, status model.RecordingStatus, errorMessage string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	return s.db.WithContext(ctx).Model(&model.RecordingHistory{}).
		Where("id = ? AND status IN ?", id, []model.RecordingStatus{model.StatusRecording, model.StatusDownloading}).
		Updates(map[string]any{
			"status":        status,
			"error_message": errorMessage,
		}).Error
}

func (s *gormStore) SetHistoryFile(ctx context.Context, id int64, filePath string, fileSize int64) error {
	return s.db.WithContext(ctx).Model(&model.RecordingHistory{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"file_path": filePath,
			"file_size": fileSize,
		}).Error
}

func (s *gormStore) DeleteHistory(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&model.RecordingHistory{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepStaleHistory marks rows stuck in a non-terminal status as failed.
// Run at startup: a crash between history creation and finalization leaves
// such rows behind.
func (s *gormStore) SweepStaleHistory(ctx context.Context, reason string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.RecordingHistory{}).
		Where("status IN ?", []model.RecordingStatus{model.StatusRecording, model.StatusDownloading}).
		Updates(map[string]any{
			"status":        model.StatusFailed,
			"error_message": reason,
		})
	return res.RowsAffected, res.Error
}

func (s *gormStore) Subscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var out []model.PushSubscription
	err := s.db.WithContext(ctx).Find(&out).Error
	return out, err
}

func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&model.PushSubscription{}).Error
}
