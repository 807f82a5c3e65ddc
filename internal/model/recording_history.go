package model

import "time"

// RecordingStatus tracks the lifecycle of one recording attempt.
type RecordingStatus string

const (
	StatusRecording   RecordingStatus = "recording"
	StatusDownloading RecordingStatus = "downloading"
	StatusCompleted   RecordingStatus = "completed"
	StatusFailed      RecordingStatus = "failed"
	StatusStopped     RecordingStatus = "stopped"
)

// Valid reports whether s is one of the known statuses.
func (s RecordingStatus) Valid() bool {
	switch s {
	case StatusRecording, StatusDownloading, StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// Terminal reports whether the status is final. A history row is never
// mutated again once it reaches a terminal status.
func (s RecordingStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// RecordingHistory is one persisted row per recording attempt.
// ReservationID is nil for ad-hoc downloads.
type RecordingHistory struct {
	ID            int64           `gorm:"primaryKey" json:"id"`
	ReservationID *int64          `gorm:"index" json:"reservation_id"`
	Title         string          `gorm:"size:256;not null" json:"title"`
	StationID     string          `gorm:"size:32;not null" json:"station_id"`
	StationName   string          `gorm:"size:128" json:"station_name"`
	StartTime     time.Time       `gorm:"not null;index" json:"start_time"`
	EndTime       time.Time       `gorm:"not null" json:"end_time"`
	FilePath      string          `gorm:"size:512" json:"file_path"`
	FileSize      *int64          `json:"file_size"`
	Status        RecordingStatus `gorm:"size:16;not null;index" json:"status"`
	ErrorMessage  string          `gorm:"size:1024" json:"error_message"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
