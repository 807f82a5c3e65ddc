package recorder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"radio-recorder-backend/internal/logging"
	"radio-recorder-backend/internal/model"
	"radio-recorder-backend/internal/radiko"
)

var (
	// ErrAlreadyInFlight means a capture attempt for this reservation is
	// already running; the duplicate start is refused without side effects.
	ErrAlreadyInFlight = errors.New("capture already in flight for this reservation")

	// ErrProgramNotFinished rejects an ad-hoc download whose window has not
	// closed yet: the catch-up API only serves finished programs.
	ErrProgramNotFinished = errors.New("program has not finished airing yet")

	// ErrRetentionExpired rejects a window older than the service's
	// timeshift retention horizon.
	ErrRetentionExpired = errors.New("program is past the timeshift retention window")
)

const streamReferer = "https://radiko.jp/"

// StreamResolver is the slice of the Authenticator the coordinator needs.
type StreamResolver interface {
	Authenticate(ctx context.Context) (*radiko.Session, error)
	StreamURL(ctx context.Context, stationID string, s *radiko.Session) (string, error)
	TimeshiftStreamURL(ctx context.Context, stationID string, start, end time.Time, s *radiko.Session) (string, error)
	UserAgent() string
}

// CaptureEngine starts external capture processes.
type CaptureEngine interface {
	Start(streamURL string, hdr Headers, duration time.Duration, outputPath string) (CaptureSession, error)
}

// Store is the slice of the persistence layer the coordinator writes to.
type Store interface {
	CreateHistory(ctx context.Context, h *model.RecordingHistory) error
	FinalizeHistory(ctx context.Context, id int64, status model.RecordingStatus, errorMessage string) error
	SetHistoryFile(ctx context.Context, id int64, filePath string, fileSize int64) error
	DeactivateReservation(ctx context.Context, id int64) error
}

// Notifier delivers a terminal-status notification job for a history row.
type Notifier interface {
	Dispatch(historyID int64)
}

// AttemptSummary describes one in-flight capture for observability.
type AttemptSummary struct {
	ID            string                `json:"id"`
	ReservationID *int64                `json:"reservation_id"`
	HistoryID     int64                 `json:"history_id"`
	Title         string                `json:"title"`
	StationID     string                `json:"station_id"`
	StationName   string                `json:"station_name"`
	WindowStart   time.Time             `json:"window_start"`
	WindowEnd     time.Time             `json:"window_end"`
	Status        model.RecordingStatus `json:"status"`
}

type attempt struct {
	AttemptSummary
	repeatType model.RepeatType
	session    CaptureSession
	stopped    bool
}

// Coordinator owns the set of in-flight captures. It enforces at most one
// active capture per reservation and routes completions into the history
// store. Safe for concurrent use.
type Coordinator struct {
	store     Store
	resolver  StreamResolver
	engine    CaptureEngine
	notifier  Notifier
	outputDir string
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu       sync.Mutex
	attempts map[string]*attempt
	adhocSeq int64
}

// NewCoordinator creates a Coordinator. notifier may be nil.
func NewCoordinator(store Store, resolver StreamResolver, engine CaptureEngine, notifier Notifier, outputDir string, retention time.Duration) *Coordinator {
	return &Coordinator{
		store:     store,
		resolver:  resolver,
		engine:    engine,
		notifier:  notifier,
		outputDir: outputDir,
		retention: retention,
		now:       time.Now,
		log:       logging.WithComponent("coordinator"),
		attempts:  make(map[string]*attempt),
	}
}

// StartForReservation begins a capture for one concrete occurrence of a
// reservation. The history row is created before the capture goroutine runs,
// so a row exists even if the process never spawns.
func (c *Coordinator) StartForReservation(ctx context.Context, resv model.Reservation, windowStart, windowEnd time.Time) (string, error) {
	key := fmt.Sprintf("resv-%d", resv.ID)
	reservationID := resv.ID
	return c.start(ctx, key, &reservationID, resv.RepeatType, resv.StationID, resv.StationName, resv.Title, windowStart, windowEnd)
}

// StartAdhoc begins a reservation-less timeshift download of a finished
// program window.
func (c *Coordinator) StartAdhoc(ctx context.Context, stationID, stationName, title string, windowStart, windowEnd time.Time) (string, error) {
	now := c.now()
	if !windowEnd.Before(now) {
		return "", ErrProgramNotFinished
	}
	if windowStart.Before(now.Add(-c.retention)) {
		return "", ErrRetentionExpired
	}

	c.mu.Lock()
	c.adhocSeq++
	key := fmt.Sprintf("adhoc-%d", c.adhocSeq)
	c.mu.Unlock()

	return c.start(ctx, key, nil, model.RepeatNone, stationID, stationName, title, windowStart, windowEnd)
}

func (c *Coordinator) start(ctx context.Context, key string, reservationID *int64, repeatType model.RepeatType, stationID, stationName, title string, windowStart, windowEnd time.Time) (string, error) {
	timeshift := !windowEnd.After(c.now())
	status := model.StatusRecording
	if timeshift {
		status = model.StatusDownloading
	}

	a := &attempt{
		AttemptSummary: AttemptSummary{
			ID:            key,
			ReservationID: reservationID,
			Title:         title,
			StationID:     stationID,
			StationName:   stationName,
			WindowStart:   windowStart,
			WindowEnd:     windowEnd,
			Status:        status,
		},
		repeatType: repeatType,
	}

	c.mu.Lock()
	if _, exists := c.attempts[key]; exists {
		c.mu.Unlock()
		return "", ErrAlreadyInFlight
	}
	c.attempts[key] = a
	c.mu.Unlock()

	history := &model.RecordingHistory{
		ReservationID: reservationID,
		Title:         title,
		StationID:     stationID,
		StationName:   stationName,
		StartTime:     windowStart,
		EndTime:       windowEnd,
		Status:        status,
	}
	if err := c.store.CreateHistory(ctx, history); err != nil {
		c.remove(key)
		return "", fmt.Errorf("failed to create history record: %w", err)
	}

	// The attempt is already visible in the map, so the history id must be
	// published under the lock: ListActive and StopByID read it there.
	c.mu.Lock()
	a.HistoryID = history.ID
	stopRequested := a.stopped
	c.mu.Unlock()

	if stopRequested {
		// A stop landed while the row was being inserted. StopByID had no
		// id to finalize yet, so settle the row here and never spawn.
		if err := c.store.FinalizeHistory(ctx, history.ID, model.StatusStopped, ""); err != nil {
			c.log.Error().Err(err).Str("attempt", key).Msg("failed to mark history stopped")
		}
		if c.notifier != nil {
			c.notifier.Dispatch(history.ID)
		}
		c.remove(key)
		c.log.Info().Str("attempt", key).Msg("capture stopped before start")
		return key, nil
	}

	c.log.Info().
		Str("attempt", key).
		Str("station", stationID).
		Str("title", title).
		Time("window_start", windowStart).
		Time("window_end", windowEnd).
		Bool("timeshift", timeshift).
		Msg("capture attempt accepted")

	go c.run(a, timeshift)
	return key, nil
}

// run drives one attempt to its terminal state. It executes off the
// scheduler's tick goroutine; its suspension points (auth round-trips,
// process wait) never delay the next tick.
func (c *Coordinator) run(a *attempt, timeshift bool) {
	ctx := context.Background()

	// One misbehaving attempt must not take down the daemon.
	defer func() {
		if r := recover(); r != nil {
			c.fail(ctx, a, fmt.Sprintf("capture attempt panicked: %v", r))
		}
	}()

	session, err := c.resolver.Authenticate(ctx)
	if err != nil {
		c.fail(ctx, a, fmt.Sprintf("authentication failed: %v", err))
		return
	}

	var streamURL string
	if timeshift {
		streamURL, err = c.resolver.TimeshiftStreamURL(ctx, a.StationID, a.WindowStart, a.WindowEnd, session)
	} else {
		streamURL, err = c.resolver.StreamURL(ctx, a.StationID, session)
	}
	if err != nil {
		c.fail(ctx, a, fmt.Sprintf("stream resolution failed: %v", err))
		return
	}

	duration := a.WindowEnd.Sub(a.WindowStart)
	if !timeshift {
		// Live capture covers whatever remains of the window.
		duration = a.WindowEnd.Sub(c.now())
	}

	hdr := Headers{
		AuthToken: session.Token,
		UserAgent: c.resolver.UserAgent(),
		Referer:   streamReferer,
	}
	outputPath := filepath.Join(c.outputDir, captureFilename(a.StationID, a.WindowStart, a.Title))

	cs, err := c.engine.Start(streamURL, hdr, duration, outputPath)
	if err != nil {
		c.fail(ctx, a, fmt.Sprintf("capture engine failed to start: %v", err))
		return
	}

	c.mu.Lock()
	a.session = cs
	stopRequested := a.stopped
	c.mu.Unlock()
	if stopRequested {
		cs.Stop()
	}

	c.finish(ctx, a, cs.Wait())
}

func (c *Coordinator) finish(ctx context.Context, a *attempt, o Outcome) {
	defer c.remove(a.ID)

	c.mu.Lock()
	stopped := a.stopped
	c.mu.Unlock()

	switch {
	case stopped:
		// StopByID already finalized the row as stopped; the conditional
		// update below would be a no-op anyway, and a one-off reservation
		// must not be deactivated by an operator stop.
		c.log.Info().Str("attempt", a.ID).Msg("capture stopped by operator")
	case o.Err != nil:
		if err := c.store.FinalizeHistory(ctx, a.HistoryID, model.StatusFailed, o.Err.Error()); err != nil {
			c.log.Error().Err(err).Str("attempt", a.ID).Msg("failed to finalize history")
		}
		c.log.Warn().Err(o.Err).Str("attempt", a.ID).Msg("capture failed")
	default:
		if err := c.store.SetHistoryFile(ctx, a.HistoryID, o.FilePath, o.FileSize); err != nil {
			c.log.Error().Err(err).Str("attempt", a.ID).Msg("failed to record file info")
		}
		if err := c.store.FinalizeHistory(ctx, a.HistoryID, model.StatusCompleted, ""); err != nil {
			c.log.Error().Err(err).Str("attempt", a.ID).Msg("failed to finalize history")
		}
		if a.ReservationID != nil && a.repeatType == model.RepeatNone {
			if err := c.store.DeactivateReservation(ctx, *a.ReservationID); err != nil {
				c.log.Error().Err(err).Int64("reservation", *a.ReservationID).Msg("failed to deactivate reservation")
			}
		}
		c.log.Info().
			Str("attempt", a.ID).
			Str("file", o.FilePath).
			Int64("size", o.FileSize).
			Msg("capture completed")
	}

	if c.notifier != nil {
		c.notifier.Dispatch(a.HistoryID)
	}
}

// fail finalizes an attempt that never reached a running capture process.
// A recurring reservation is left active: its next occurrence gets its own
// try on schedule.
func (c *Coordinator) fail(ctx context.Context, a *attempt, msg string) {
	defer c.remove(a.ID)
	if err := c.store.FinalizeHistory(ctx, a.HistoryID, model.StatusFailed, msg); err != nil {
		c.log.Error().Err(err).Str("attempt", a.ID).Msg("failed to finalize history")
	}
	c.log.Warn().Str("attempt", a.ID).Str("reason", msg).Msg("capture attempt failed")
	if c.notifier != nil {
		c.notifier.Dispatch(a.HistoryID)
	}
}

// StopByID stops one in-flight attempt. The history row is finalized as
// stopped before the process is signaled so the exit handler cannot race it
// into a different terminal status. Returns false when no attempt matches.
func (c *Coordinator) StopByID(ctx context.Context, id string) bool {
	c.mu.Lock()
	a, ok := c.attempts[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	a.stopped = true
	cs := a.session
	historyID := a.HistoryID
	c.mu.Unlock()

	// A zero id means the insert is still in flight; the start path sees
	// the stop flag once it completes and finalizes the row itself.
	if historyID != 0 {
		if err := c.store.FinalizeHistory(ctx, historyID, model.StatusStopped, ""); err != nil {
			c.log.Error().Err(err).Str("attempt", id).Msg("failed to mark history stopped")
		}
	}
	if cs != nil {
		cs.Stop()
	}
	return true
}

// StopAll requests termination of every in-flight attempt. Termination is
// asynchronous; history rows reach their terminal state as processes exit.
func (c *Coordinator) StopAll(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.attempts))
	for id := range c.attempts {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.StopByID(ctx, id)
	}
	if len(ids) > 0 {
		c.log.Info().Int("count", len(ids)).Msg("stop requested for all in-flight captures")
	}
}

// ListActive returns a snapshot of in-flight attempts.
func (c *Coordinator) ListActive() []AttemptSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AttemptSummary, 0, len(c.attempts))
	for _, a := range c.attempts {
		out = append(out, a.AttemptSummary)
	}
	return out
}

func (c *Coordinator) remove(id string) {
	c.mu.Lock()
	delete(c.attempts, id)
	c.mu.Unlock()
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
var whitespaceRuns = regexp.MustCompile(`\s+`)

func sanitizeTitle(title string) string {
	s := unsafeFilenameChars.ReplaceAllString(title, "_")
	s = whitespaceRuns.ReplaceAllString(s, "_")
	runes := []rune(s)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	return string(runes)
}

func captureFilename(stationID string, start time.Time, title string) string {
	return fmt.Sprintf("%s_%s_%s.m4a", stationID, start.Format("20060102_150405"), sanitizeTitle(title))
}
