package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radio-recorder-backend/internal/model"
	"radio-recorder-backend/internal/radiko"
)

type recStore struct {
	mu          sync.Mutex
	nextID      int64
	created     []model.RecordingHistory
	finalized   map[int64]model.RecordingStatus
	finalMsgs   map[int64]string
	files       map[int64]string
	deactivated []int64
}

func newRecStore() *recStore {
	return &recStore{
		finalized: make(map[int64]model.RecordingStatus),
		finalMsgs: make(map[int64]string),
		files:     make(map[int64]string),
	}
}

func (s *recStore) CreateHistory(ctx context.Context, h *model.RecordingHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h.ID = s.nextID
	s.created = append(s.created, *h)
	return nil
}

func (s *recStore) FinalizeHistory(ctx context.Context, id int64, status model.RecordingStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Terminal states are write-once, as in the real store.
	if existing, ok := s.finalized[id]; ok && existing.Terminal() {
		return nil
	}
	s.finalized[id] = status
	s.finalMsgs[id] = errorMessage
	return nil
}

func (s *recStore) SetHistoryFile(ctx context.Context, id int64, filePath string, fileSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = filePath
	return nil
}

func (s *recStore) DeactivateReservation(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated = append(s.deactivated, id)
	return nil
}

type fakeResolver struct {
	authErr error
	urlErr  error
}

func (r *fakeResolver) Authenticate(ctx context.Context) (*radiko.Session, error) {
	if r.authErr != nil {
		return nil, r.authErr
	}
	return &radiko.Session{Token: "tok", Area: "JP13"}, nil
}

func (r *fakeResolver) StreamURL(ctx context.Context, stationID string, s *radiko.Session) (string, error) {
	if r.urlErr != nil {
		return "", r.urlErr
	}
	return "https://stream.example.com/live.m3u8", nil
}

func (r *fakeResolver) TimeshiftStreamURL(ctx context.Context, stationID string, start, end time.Time, s *radiko.Session) (string, error) {
	if r.urlErr != nil {
		return "", r.urlErr
	}
	return "https://stream.example.com/timeshift.m3u8", nil
}

func (r *fakeResolver) UserAgent() string { return "curl/7.56.1" }

type fakeSession struct {
	outcome  Outcome
	release  chan struct{}
	stopOnce sync.Once
	stops    chan struct{}
}

func newFakeSession(o Outcome, blocking bool) *fakeSession {
	s := &fakeSession{outcome: o, release: make(chan struct{}), stops: make(chan struct{}, 1)}
	if !blocking {
		close(s.release)
	}
	return s
}

func (s *fakeSession) Wait() Outcome {
	<-s.release
	return s.outcome
}

func (s *fakeSession) Stop() {
	s.stopOnce.Do(func() {
		s.stops <- struct{}{}
		close(s.release)
	})
}

type fakeEngine struct {
	mu       sync.Mutex
	session  *fakeSession
	startErr error
	starts   int
	lastPath string
}

func (e *fakeEngine) Start(streamURL string, hdr Headers, duration time.Duration, outputPath string) (CaptureSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return nil, e.startErr
	}
	e.starts++
	e.lastPath = outputPath
	return e.session, nil
}

type chanNotifier struct {
	ch chan int64
}

func (n *chanNotifier) Dispatch(historyID int64) { n.ch <- historyID }

func waitDispatch(t *testing.T, n *chanNotifier) int64 {
	t.Helper()
	select {
	case id := <-n.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for attempt to finish")
		return 0
	}
}

func testCoordinator(st *recStore, resolver *fakeResolver, engine *fakeEngine, now time.Time) (*Coordinator, *chanNotifier) {
	n := &chanNotifier{ch: make(chan int64, 8)}
	c := NewCoordinator(st, resolver, engine, n, "/tmp/rec", 7*24*time.Hour)
	c.now = func() time.Time { return now }
	return c, n
}

func elapsedReservation(now time.Time) model.Reservation {
	return model.Reservation{
		ID:          42,
		Title:       "News Hour",
		StationID:   "TBS",
		StationName: "TBS Radio",
		RepeatType:  model.RepeatNone,
		Active:      true,
	}
}

func TestCoordinator_SuccessDeactivatesOneOff(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := newRecStore()
	engine := &fakeEngine{session: newFakeSession(Outcome{FilePath: "/tmp/rec/x.m4a", FileSize: 1234}, false)}
	c, n := testCoordinator(st, &fakeResolver{}, engine, now)

	resv := elapsedReservation(now)
	id, err := c.StartForReservation(context.Background(), resv, now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "resv-42", id)

	historyID := waitDispatch(t, n)
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, model.StatusCompleted, st.finalized[historyID])
	assert.Equal(t, "/tmp/rec/x.m4a", st.files[historyID])
	assert.Equal(t, []int64{42}, st.deactivated)
	// The row starts out as a timeshift download: the window had already closed.
	require.Len(t, st.created, 1)
	assert.Equal(t, model.StatusDownloading, st.created[0].Status)
}

func TestCoordinator_RecurringStaysActive(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := newRecStore()
	engine := &fakeEngine{session: newFakeSession(Outcome{FilePath: "/tmp/rec/x.m4a", FileSize: 10}, false)}
	c, n := testCoordinator(st, &fakeResolver{}, engine, now)

	resv := elapsedReservation(now)
	resv.RepeatType = model.RepeatDaily
	_, err := c.StartForReservation(context.Background(), resv, now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)

	waitDispatch(t, n)
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Empty(t, st.deactivated)
}

func TestCoordinator_DuplicateRefused(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := newRecStore()
	engine := &fakeEngine{session: newFakeSession(Outcome{FilePath: "/tmp/rec/x.m4a", FileSize: 10}, true)}
	c, n := testCoordinator(st, &fakeResolver{}, engine, now)

	resv := elapsedReservation(now)
	_, err := c.StartForReservation(context.Background(), resv, now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)

	_, err = c.StartForReservation(context.Background(), resv, now.Add(-2*time.Hour), now.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrAlreadyInFlight)

	engine.session.Stop()
	waitDispatch(t, n)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, 1, engine.starts)
}

func TestCoordinator_AuthFailureRecorded(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := newRecStore()
	engine := &fakeEngine{}
	c, n := testCoordinator(st, &fakeResolver{authErr: errors.New("challenge rejected")}, engine, now)

	resv := elapsedReservation(now)
	_, err := c.StartForReservation(context.Background(), resv, now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)

	historyID := waitDispatch(t, n)
	st.mu.Lock()
	assert.Equal(t, model.StatusFailed, st.finalized[historyID])
	assert.Contains(t, st.finalMsgs[historyID], "authentication failed")
	assert.Empty(t, st.deactivated, "a failed attempt must not consume the reservation")
	st.mu.Unlock()

	// The key is released: a retry is possible.
	assert.Eventually(t, func() bool {
		return len(c.ListActive()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_StopByID(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := newRecStore()
	session := newFakeSession(Outcome{Err: errors.New("killed")}, true)
	engine := &fakeEngine{session: session}
	c, n := testCoordinator(st, &fakeResolver{}, engine, now)

	resv := elapsedReservation(now)
	id, err := c.StartForReservation(context.Background(), resv, now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)

	// Give the run goroutine a moment to attach the session.
	require.Eventually(t, func() bool {
		return len(c.ListActive()) == 1
	}, time.Second, 10*time.Millisecond)

	require.True(t, c.StopByID(context.Background(), id))

	historyID := waitDispatch(t, n)
	st.mu.Lock()
	finalStatus := st.finalized[historyID]
	deactivated := st.deactivated
	st.mu.Unlock()

	// Stopped wins over the process error outcome, and the reservation
	// survives the operator stop.
	assert.Equal(t, model.StatusStopped, finalStatus)
	assert.Empty(t, deactivated)

	select {
	case <-session.stops:
	default:
		t.Fatal("process was never signaled")
	}

	assert.Eventually(t, func() bool {
		return !c.StopByID(context.Background(), id)
	}, time.Second, 10*time.Millisecond, "attempt is gone after it finishes")
}

// gatedStore blocks CreateHistory until released, exposing the window in
// which an attempt is already listed but its history row does not exist yet.
type gatedStore struct {
	*recStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) CreateHistory(ctx context.Context, h *model.RecordingHistory) error {
	s.entered <- struct{}{}
	<-s.release
	return s.recStore.CreateHistory(ctx, h)
}

func TestCoordinator_StopDuringHistoryInsert(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &gatedStore{
		recStore: newRecStore(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	engine := &fakeEngine{}
	n := &chanNotifier{ch: make(chan int64, 8)}
	c := NewCoordinator(st, &fakeResolver{}, engine, n, "/tmp/rec", 7*24*time.Hour)
	c.now = func() time.Time { return now }

	resv := elapsedReservation(now)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.StartForReservation(context.Background(), resv, now.Add(-2*time.Hour), now.Add(-time.Hour))
		assert.NoError(t, err)
	}()

	<-st.entered

	// The attempt is visible while the insert is still in flight, with no
	// history id attached yet.
	active := c.ListActive()
	require.Len(t, active, 1)
	assert.Zero(t, active[0].HistoryID)

	require.True(t, c.StopByID(context.Background(), "resv-42"))
	close(st.release)
	<-done

	// The start path settles the row as stopped once the insert returns;
	// no capture process is ever spawned.
	historyID := waitDispatch(t, n)
	st.recStore.mu.Lock()
	assert.Equal(t, model.StatusStopped, st.finalized[historyID])
	assert.Empty(t, st.deactivated)
	st.recStore.mu.Unlock()

	engine.mu.Lock()
	assert.Equal(t, 0, engine.starts)
	engine.mu.Unlock()

	assert.Empty(t, c.ListActive())
}

type panickingResolver struct {
	fakeResolver
}

func (panickingResolver) Authenticate(ctx context.Context) (*radiko.Session, error) {
	panic("slice bounds out of range")
}

func TestCoordinator_AttemptPanicRecorded(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := newRecStore()
	c, n := testCoordinator(st, &fakeResolver{}, &fakeEngine{}, now)
	c.resolver = &panickingResolver{}

	resv := elapsedReservation(now)
	_, err := c.StartForReservation(context.Background(), resv, now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)

	historyID := waitDispatch(t, n)
	st.mu.Lock()
	assert.Equal(t, model.StatusFailed, st.finalized[historyID])
	assert.Contains(t, st.finalMsgs[historyID], "panicked")
	st.mu.Unlock()

	assert.Eventually(t, func() bool {
		return len(c.ListActive()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_StartAdhocValidation(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := newRecStore()
	engine := &fakeEngine{session: newFakeSession(Outcome{FilePath: "/tmp/rec/x.m4a", FileSize: 10}, false)}
	c, n := testCoordinator(st, &fakeResolver{}, engine, now)

	_, err := c.StartAdhoc(context.Background(), "TBS", "TBS Radio", "Live Now", now.Add(-time.Hour), now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrProgramNotFinished)

	_, err = c.StartAdhoc(context.Background(), "TBS", "TBS Radio", "Ancient", now.AddDate(0, 0, -10), now.AddDate(0, 0, -10).Add(time.Hour))
	assert.ErrorIs(t, err, ErrRetentionExpired)

	id, err := c.StartAdhoc(context.Background(), "TBS", "TBS Radio", "Yesterday", now.AddDate(0, 0, -1), now.AddDate(0, 0, -1).Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "adhoc-1", id)

	historyID := waitDispatch(t, n)
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, model.StatusCompleted, st.finalized[historyID])
	require.Len(t, st.created, 1)
	assert.Nil(t, st.created[0].ReservationID)
	assert.Empty(t, st.deactivated)
}
