package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RepeatType defines how a reservation recurs.
type RepeatType string

const (
	RepeatNone     RepeatType = "none"
	RepeatDaily    RepeatType = "daily"
	RepeatWeekly   RepeatType = "weekly"
	RepeatWeekdays RepeatType = "weekdays"
)

// Valid reports whether the repeat type is one of the recognized values.
func (r RepeatType) Valid() bool {
	switch r {
	case RepeatNone, RepeatDaily, RepeatWeekly, RepeatWeekdays:
		return true
	}
	return false
}

// Reservation is a user-defined rule describing when to capture a program.
// StartTime/EndTime are the template occurrence; for recurring reservations
// only their time-of-day and duration matter.
type Reservation struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	Title       string     `gorm:"size:256;not null" json:"title"`
	StationID   string     `gorm:"size:32;not null;index" json:"station_id"`
	StationName string     `gorm:"size:128" json:"station_name"`
	StartTime   time.Time  `gorm:"not null" json:"start_time"`
	EndTime     time.Time  `gorm:"not null" json:"end_time"`
	RepeatType  RepeatType `gorm:"size:16;not null;default:none" json:"repeat_type"`
	RepeatDays  string     `gorm:"size:64" json:"repeat_days"` // JSON array of weekdays, 0=Sunday
	Active      bool       `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Duration returns the length of the template occurrence window.
func (r *Reservation) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Weekdays decodes the RepeatDays column into a weekday set.
// Only meaningful for RepeatWeekly.
func (r *Reservation) Weekdays() (map[time.Weekday]bool, error) {
	days := make(map[time.Weekday]bool)
	if r.RepeatDays == "" {
		return days, nil
	}
	var raw []int
	if err := json.Unmarshal([]byte(r.RepeatDays), &raw); err != nil {
		return nil, fmt.Errorf("invalid repeat_days %q: %w", r.RepeatDays, err)
	}
	for _, d := range raw {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("invalid repeat_days %q: weekday %d out of range", r.RepeatDays, d)
		}
		days[time.Weekday(d)] = true
	}
	return days, nil
}
