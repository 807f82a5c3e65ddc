package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"radio-recorder-backend/internal/logging"
	"radio-recorder-backend/internal/model"
	"radio-recorder-backend/internal/recorder"
)

// Store is the slice of the persistence layer the scheduler reads and writes.
type Store interface {
	ActiveReservations(ctx context.Context) ([]model.Reservation, error)
	HistoryExistsForOccurrence(ctx context.Context, reservationID int64, occurrenceStart time.Time) (bool, error)
	CreateHistory(ctx context.Context, h *model.RecordingHistory) error
	DeactivateReservation(ctx context.Context, id int64) error
}

// Coordinator is the slice of the recording coordinator the scheduler drives.
type Coordinator interface {
	StartForReservation(ctx context.Context, resv model.Reservation, windowStart, windowEnd time.Time) (string, error)
	StopAll(ctx context.Context)
}

// Scheduler reconciles active reservations against wall-clock time on a
// fixed tick. Captures begin once an occurrence window has fully elapsed
// (timeshift retrieval); occurrences older than the retention horizon are
// written off as expired.
type Scheduler struct {
	store     Store
	coord     Coordinator
	interval  time.Duration
	retention time.Duration
	lookback  time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates a stopped Scheduler. lookback bounds how far back recurring
// occurrences are expanded each tick; it should exceed retention so aged
// occurrences still get their expiry record.
func New(store Store, coord Coordinator, interval, retention, lookback time.Duration) *Scheduler {
	if lookback < retention {
		lookback = retention + 24*time.Hour
	}
	return &Scheduler{
		store:     store,
		coord:     coord,
		interval:  interval,
		retention: retention,
		lookback:  lookback,
		now:       time.Now,
		log:       logging.WithComponent("scheduler"),
	}
}

// Start begins the recurring tick, with one immediate check before the
// first scheduled one. Calling Start while running is a logged no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Info().Msg("scheduler already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	go s.run(ctx)
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
}

// Stop cancels the tick and requests termination of all in-flight captures.
// Termination is asynchronous; Stop does not wait for history rows to reach
// a terminal state. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.log.Info().Msg("scheduler not running")
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.coord.StopAll(context.Background())
	s.log.Info().Msg("scheduler stopped")
}

// Running reports whether the tick is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	s.tick(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.interval)
		}
	}
}

// tick isolates one reconciliation pass: a panic or error in one pass must
// never take down the tick registration.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("reconciliation pass panicked")
		}
	}()
	if err := s.CheckReservations(ctx); err != nil {
		s.log.Error().Err(err).Msg("reconciliation pass failed")
	}
}

// CheckReservations runs one reconciliation pass: every active reservation
// whose occurrence window has elapsed and has no history row yet is either
// dispatched for capture or, past the retention horizon, expired.
func (s *Scheduler) CheckReservations(ctx context.Context) error {
	now := s.now()
	reservations, err := s.store.ActiveReservations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active reservations: %w", err)
	}

	for _, resv := range reservations {
		if err := s.checkReservation(ctx, resv, now); err != nil {
			s.log.Error().Err(err).Int64("reservation", resv.ID).Str("title", resv.Title).
				Msg("reservation check failed")
		}
	}
	return nil
}

func (s *Scheduler) checkReservation(ctx context.Context, resv model.Reservation, now time.Time) error {
	occurrences, err := s.dueOccurrences(resv, now)
	if err != nil {
		return err
	}

	for _, occ := range occurrences {
		exists, err := s.store.HistoryExistsForOccurrence(ctx, resv.ID, occ.Start)
		if err != nil {
			return fmt.Errorf("history dedup check failed: %w", err)
		}
		if exists {
			continue
		}

		if occ.Start.Before(now.Add(-s.retention)) {
			if err := s.expireOccurrence(ctx, resv, occ); err != nil {
				return err
			}
			continue
		}

		_, err = s.coord.StartForReservation(ctx, resv, occ.Start, occ.End)
		if errors.Is(err, recorder.ErrAlreadyInFlight) {
			s.log.Debug().Int64("reservation", resv.ID).Msg("capture already in flight")
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Int64("reservation", resv.ID).Str("title", resv.Title).
				Msg("failed to start capture")
			continue
		}
	}
	return nil
}

// dueOccurrences returns the occurrences whose window has fully elapsed.
// A one-off reservation is due regardless of age so that long-expired ones
// still get their expiry record; recurring rules are expanded over the
// lookback window only.
func (s *Scheduler) dueOccurrences(resv model.Reservation, now time.Time) ([]Occurrence, error) {
	if resv.RepeatType == model.RepeatNone || resv.RepeatType == "" {
		if resv.EndTime.After(now) {
			return nil, nil
		}
		return []Occurrence{{Start: resv.StartTime, End: resv.EndTime}}, nil
	}

	all, err := Occurrences(resv, now.Add(-s.lookback), now)
	if err != nil {
		return nil, err
	}
	due := all[:0]
	for _, occ := range all {
		if !occ.End.After(now) {
			due = append(due, occ)
		}
	}
	return due, nil
}

// expireOccurrence writes off an occurrence the service can no longer
// serve. No capture is attempted; a one-off reservation is deactivated so
// it does not resurface every tick.
func (s *Scheduler) expireOccurrence(ctx context.Context, resv model.Reservation, occ Occurrence) error {
	reservationID := resv.ID
	history := &model.RecordingHistory{
		ReservationID: &reservationID,
		Title:         resv.Title,
		StationID:     resv.StationID,
		StationName:   resv.StationName,
		StartTime:     occ.Start,
		EndTime:       occ.End,
		Status:        model.StatusFailed,
		ErrorMessage:  fmt.Sprintf("timeshift retention window (%s) exceeded", s.retention),
	}
	if err := s.store.CreateHistory(ctx, history); err != nil {
		return fmt.Errorf("failed to record expired occurrence: %w", err)
	}
	s.log.Warn().Int64("reservation", resv.ID).Time("occurrence", occ.Start).
		Msg("occurrence expired past retention window")

	if resv.RepeatType == model.RepeatNone || resv.RepeatType == "" {
		if err := s.store.DeactivateReservation(ctx, resv.ID); err != nil {
			return fmt.Errorf("failed to deactivate expired reservation: %w", err)
		}
	}
	return nil
}
