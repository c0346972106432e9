package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	jsonrepo "github.com/bnema/devsession/internal/adapters/repo/jsonfile"
	"github.com/bnema/devsession/internal/domain"
	"github.com/bnema/devsession/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

func TestCaptureNowWritesDedupedSessionAndReportsStatus(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.host.setResources(
		domain.OpenResource{Path: "/a.ts", Cursor: &domain.Position{Line: 1, Character: 1}},
		domain.OpenResource{Path: "/b.ts"},
		domain.OpenResource{Path: "/a.ts", Cursor: &domain.Position{Line: 4, Character: 2}},
	)

	session, err := env.coordinator.CaptureNow(context.Background(), "before lunch")
	require.NoError(t, err)

	assert.Equal(t, domain.DevSession{
		CreatedAt: testNow,
		DeviceID:  "dev-local",
		Note:      "before lunch",
		Files: []domain.SessionFile{
			{Path: "/a.ts", Line: 4, Character: 2},
			{Path: "/b.ts", Line: 0, Character: 0},
		},
	}, session)
	assert.Equal(t, 1, env.store.writeCount())
	assert.Equal(t, []string{"Session saved (2 files)"}, env.sink.payloads())
}

func TestCaptureNowReportsWriteFailureWithoutPanicking(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.store.writeErr = fmt.Errorf("%w: disk full", domain.ErrSessionIO)

	_, err := env.coordinator.CaptureNow(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrSessionIO)
	require.Len(t, env.sink.payloads(), 1)
	assert.Contains(t, env.sink.payloads()[0], "Session save failed")
	assert.Contains(t, env.sink.payloads()[0], "disk full")
}

func TestCaptureNowReportsHostFailure(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.host.listErr = errors.New("editor went away")

	_, err := env.coordinator.CaptureNow(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, 0, env.store.writeCount())
	assert.Contains(t, env.sink.payloads()[0], "editor went away")
}

func TestScheduleAutoSaveCollapsesBurstIntoOneCapture(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.store.put(domain.DevSession{CreatedAt: testNow, DeviceID: "dev-local", Note: "keep me"})
	env.host.setResources(domain.OpenResource{Path: "/early.ts"})

	for i := 0; i < 5; i++ {
		env.coordinator.ScheduleAutoSave()
	}
	assert.True(t, env.coordinator.PendingAutoSave())
	assert.Equal(t, 1, env.clock.pending())
	assert.Equal(t, 0, env.store.writeCount())

	env.host.setResources(
		domain.OpenResource{Path: "/late.ts", Cursor: &domain.Position{Line: 7, Character: 3}},
	)
	env.clock.fireAll()

	require.Equal(t, 1, env.store.writeCount())
	saved := env.store.last()
	assert.Equal(t, []domain.SessionFile{{Path: "/late.ts", Line: 7, Character: 3}}, saved.Files)
	assert.Equal(t, "keep me", saved.Note)
	assert.False(t, env.coordinator.PendingAutoSave())
}

func TestScheduleAutoSaveUsesConfiguredDelay(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.coordinator.ScheduleAutoSave()

	assert.Equal(t, []time.Duration{DefaultAutoSaveDelay}, env.clock.delays())
}

func TestAutoSaveSkipsProjectWithoutSession(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.host.setResources(domain.OpenResource{Path: "/a.ts"})

	env.coordinator.ScheduleAutoSave()
	env.clock.fireAll()

	assert.Equal(t, 0, env.store.writeCount())
	assert.Empty(t, env.sink.payloads())
}

func TestAutoSaveWritesExactlyOnceWhenSessionExists(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.store.put(domain.DevSession{CreatedAt: testNow})
	env.host.setResources(domain.OpenResource{Path: "/a.ts"})

	env.coordinator.ScheduleAutoSave()
	env.clock.fireAll()

	assert.Equal(t, 1, env.store.writeCount())
}

func TestStaleTimerCallbackDoesNotCapture(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.store.put(domain.DevSession{CreatedAt: testNow})

	env.coordinator.ScheduleAutoSave()
	env.coordinator.ScheduleAutoSave()
	env.clock.fireStopped()

	assert.Equal(t, 0, env.store.writeCount())
}

func TestCloseDisarmsPendingAutoSave(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.store.put(domain.DevSession{CreatedAt: testNow})

	env.coordinator.ScheduleAutoSave()
	env.coordinator.Close()
	env.clock.fireStopped()
	env.coordinator.ScheduleAutoSave()

	assert.Equal(t, 0, env.store.writeCount())
	assert.Equal(t, 0, env.clock.pending())
	assert.ErrorIs(t, env.coordinator.HandleMessage(context.Background(), domain.Message{Type: domain.MessageSaveSession}), ErrCoordinatorClosed)
}

func TestRestoreNowIsBestEffort(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.store.put(domain.DevSession{
		CreatedAt: testNow,
		Files: []domain.SessionFile{
			{Path: "/one.ts", Line: 1, Character: 0},
			{Path: "/two.ts", Line: 2, Character: 0},
			{Path: "/three.ts", Line: 3, Character: 5},
		},
	})
	env.host.missing["/two.ts"] = true

	report, err := env.coordinator.RestoreNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Restored())
	assert.Equal(t, []string{"/two.ts"}, report.Failed)
	assert.Equal(t, []openCall{
		{Path: "/one.ts", Pos: domain.Position{Line: 1}},
		{Path: "/three.ts", Pos: domain.Position{Line: 3, Character: 5}},
	}, env.host.openedCalls())
	assert.Equal(t, []string{"Session restored (3 files)"}, env.sink.payloads())
}

func TestRestoreNowWithoutSessionReportsNotFound(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)

	_, err := env.coordinator.RestoreNow(context.Background())
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, []string{"No session found"}, env.sink.payloads())
	assert.Empty(t, env.host.openedCalls())
}

func TestRestoreNowReportsCorruptSession(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.store.readErr = fmt.Errorf("%w: bad json", domain.ErrSessionCorrupt)

	_, err := env.coordinator.RestoreNow(context.Background())
	require.ErrorIs(t, err, domain.ErrSessionCorrupt)
	assert.Contains(t, env.sink.payloads()[0], "Session restore failed")
}

func TestSyncIfStale(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		origin       domain.DeviceID
		wantRestored bool
	}{
		{name: "same device is skipped", origin: "dev-local", wantRestored: false},
		{name: "other device restores", origin: "dev-remote", wantRestored: true},
		{name: "unknown device restores", origin: "", wantRestored: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := newCoordinatorEnv(t)
			env.store.put(domain.DevSession{
				CreatedAt: testNow,
				DeviceID:  tc.origin,
				Files:     []domain.SessionFile{{Path: "/a.ts", Line: 4, Character: 2}},
			})

			restored, err := env.coordinator.SyncIfStale(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.wantRestored, restored)

			if tc.wantRestored {
				assert.Len(t, env.host.openedCalls(), 1)
				assert.Equal(t, 1, env.store.readCount())
				assert.Equal(t, []string{"Session restored (1 files)"}, env.sink.payloads())
				return
			}
			assert.Empty(t, env.host.openedCalls())
			assert.Empty(t, env.sink.payloads())
		})
	}
}

func TestSyncIfStaleWithoutSessionDoesNothing(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)

	restored, err := env.coordinator.SyncIfStale(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Empty(t, env.sink.payloads())
}

func TestActivateRespectsRestoreOnStartup(t *testing.T) {
	t.Parallel()

	for _, enabled := range []bool{true, false} {
		t.Run(fmt.Sprintf("enabled=%t", enabled), func(t *testing.T) {
			t.Parallel()

			env := newCoordinatorEnv(t, func(cfg *CoordinatorConfig) {
				cfg.RestoreOnStartup = enabled
			})
			env.store.put(domain.DevSession{
				CreatedAt: testNow,
				DeviceID:  "dev-remote",
				Files:     []domain.SessionFile{{Path: "/a.ts"}},
			})

			require.NoError(t, env.coordinator.Activate(context.Background()))

			if enabled {
				assert.Len(t, env.host.openedCalls(), 1)
			} else {
				assert.Empty(t, env.host.openedCalls())
			}
		})
	}
}

func TestEnsureDeviceIdentityIsGeneratedOnceAndReused(t *testing.T) {
	t.Parallel()

	state := newMemoryState()

	first, err := EnsureDeviceIdentity(context.Background(), state)
	require.NoError(t, err)
	require.True(t, first.Known())

	second, err := EnsureDeviceIdentity(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, state.putCount())
}

func TestEnsureDeviceIdentityPropagatesStateErrors(t *testing.T) {
	t.Parallel()

	state := newMemoryState()
	state.getErr = errors.New("permission denied")

	_, err := EnsureDeviceIdentity(context.Background(), state)
	require.Error(t, err)
	assert.ErrorContains(t, err, "load device identity")
	assert.Equal(t, 0, state.putCount())
}

func TestEnsureDeviceIdentityKeepsBlankStoredID(t *testing.T) {
	t.Parallel()

	state := newMemoryState()
	require.NoError(t, state.Put(context.Background(), DeviceIDKey, "   "))

	_, err := EnsureDeviceIdentity(context.Background(), state)
	require.ErrorIs(t, err, ErrBlankDeviceID)
	assert.Equal(t, 1, state.putCount())

	value, err := state.Get(context.Background(), DeviceIDKey)
	require.NoError(t, err)
	assert.Equal(t, "   ", value)
}

func TestHandleMessageDispatchesCommands(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(t)
	env.host.setResources(domain.OpenResource{Path: "/a.ts", Cursor: &domain.Position{Line: 2}})

	require.NoError(t, env.coordinator.HandleMessage(context.Background(), domain.Message{Type: domain.MessageSaveSession, Payload: "note"}))
	assert.Equal(t, "note", env.store.last().Note)

	require.NoError(t, env.coordinator.HandleMessage(context.Background(), domain.Message{Type: domain.MessageRestoreSession}))
	assert.Len(t, env.host.openedCalls(), 1)

	require.NoError(t, env.coordinator.HandleMessage(context.Background(), domain.Message{Type: domain.MessageEditorsChanged}))
	assert.Equal(t, 1, env.clock.pending())

	err := env.coordinator.HandleMessage(context.Background(), domain.Message{Type: "DELETE_EVERYTHING"})
	require.ErrorIs(t, err, ErrUnsupportedMessage)
}

func TestCaptureAndRestoreExampleScenarioAgainstJSONStore(t *testing.T) {
	t.Parallel()

	store, err := jsonrepo.NewStore()
	require.NoError(t, err)

	root := t.TempDir()
	state := newMemoryState()
	require.NoError(t, state.Put(context.Background(), DeviceIDKey, "dev-123"))

	host := newFakeHost()
	host.setResources(
		domain.OpenResource{Path: "/a.ts", Cursor: &domain.Position{Line: 4, Character: 2}},
		domain.OpenResource{Path: "/b.ts", Cursor: &domain.Position{Line: 0, Character: 0}},
	)
	sink := &recordingSink{}

	coordinator := NewCoordinator(CoordinatorConfig{
		Root:  root,
		Store: store,
		Host:  host,
		State: state,
		Sink:  sink,
		Clock: newFakeClock(testNow),
	})

	_, err = coordinator.CaptureNow(context.Background(), "")
	require.NoError(t, err)

	data, err := os.ReadFile(jsonrepo.SessionPath(root))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"deviceId": "dev-123"`)
	assert.Contains(t, string(data), `"path": "/a.ts"`)
	assert.Contains(t, string(data), `"path": "/b.ts"`)

	report, err := coordinator.RestoreNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, []openCall{
		{Path: "/a.ts", Pos: domain.Position{Line: 4, Character: 2}},
		{Path: "/b.ts", Pos: domain.Position{Line: 0, Character: 0}},
	}, host.openedCalls())
	assert.Equal(t, []string{"Session saved (2 files)", "Session restored (2 files)"}, sink.payloads())
}

type coordinatorEnv struct {
	coordinator *Coordinator
	store       *memoryStore
	host        *fakeHost
	state       *memoryState
	sink        *recordingSink
	clock       *fakeClock
}

func newCoordinatorEnv(t *testing.T, opts ...func(*CoordinatorConfig)) coordinatorEnv {
	t.Helper()

	env := coordinatorEnv{
		store: newMemoryStore(),
		host:  newFakeHost(),
		state: newMemoryState(),
		sink:  &recordingSink{},
		clock: newFakeClock(testNow),
	}
	require.NoError(t, env.state.Put(context.Background(), DeviceIDKey, "dev-local"))

	cfg := CoordinatorConfig{
		Root:  "/repo",
		Store: env.store,
		Host:  env.host,
		State: env.state,
		Sink:  env.sink,
		Clock: env.clock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	env.coordinator = NewCoordinator(cfg)
	return env
}

type memoryStore struct {
	mu       sync.Mutex
	session  *domain.DevSession
	writes   []domain.DevSession
	reads    int
	writeErr error
	readErr  error
}

var _ ports.SessionStore = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{}
}

func (s *memoryStore) put(session domain.DevSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &session
}

func (s *memoryStore) Exists(_ context.Context, _ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

func (s *memoryStore) Read(_ context.Context, _ string) (domain.DevSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return domain.DevSession{}, s.readErr
	}
	if s.session == nil {
		return domain.DevSession{}, domain.ErrSessionNotFound
	}
	return *s.session, nil
}

func (s *memoryStore) Write(_ context.Context, _ string, session domain.DevSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.session = &session
	s.writes = append(s.writes, session)
	return nil
}

func (s *memoryStore) Fingerprint(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return "", domain.ErrSessionNotFound
	}
	return fmt.Sprintf("%s|%d", s.session.DeviceID, len(s.writes)), nil
}

func (s *memoryStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *memoryStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *memoryStore) last() domain.DevSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return domain.DevSession{}
	}
	return s.writes[len(s.writes)-1]
}

type openCall struct {
	Path string
	Pos  domain.Position
}

type fakeHost struct {
	mu        sync.Mutex
	resources []domain.OpenResource
	listErr   error
	missing   map[string]bool
	opened    []openCall
}

func newFakeHost() *fakeHost {
	return &fakeHost{missing: map[string]bool{}}
}

func (h *fakeHost) setResources(resources ...domain.OpenResource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resources = resources
}

func (h *fakeHost) ListOpenResources(_ context.Context) ([]domain.OpenResource, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listErr != nil {
		return nil, h.listErr
	}
	return append([]domain.OpenResource(nil), h.resources...), nil
}

func (h *fakeHost) OpenAndReveal(_ context.Context, path string, pos domain.Position) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.missing[path] {
		return fmt.Errorf("%w: %s", domain.ErrOpenFailure, path)
	}
	h.opened = append(h.opened, openCall{Path: path, Pos: pos})
	return nil
}

func (h *fakeHost) openedCalls() []openCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]openCall(nil), h.opened...)
}

type memoryState struct {
	mu     sync.Mutex
	values map[string]string
	puts   int
	getErr error
}

func newMemoryState() *memoryState {
	return &memoryState{values: map[string]string{}}
}

func (s *memoryState) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", s.getErr
	}
	value, ok := s.values[key]
	if !ok {
		return "", domain.ErrStateKeyNotFound
	}
	return value, nil
}

func (s *memoryState) Put(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.puts++
	return nil
}

func (s *memoryState) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type recordingSink struct {
	mu       sync.Mutex
	messages []domain.Message
}

func (s *recordingSink) Post(_ context.Context, msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *recordingSink) payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	payloads := make([]string, 0, len(s.messages))
	for _, msg := range s.messages {
		payloads = append(payloads, msg.Payload)
	}
	return payloads
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{delay: d, f: f}
	c.timers = append(c.timers, timer)
	return timer
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired {
			count++
		}
	}
	return count
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	delays := make([]time.Duration, 0, len(c.timers))
	for _, timer := range c.timers {
		delays = append(delays, timer.delay)
	}
	return delays
}

// fireAll runs every armed timer, as the runtime would once the delay passes.
func (c *fakeClock) fireAll() {
	c.mu.Lock()
	var due []*fakeTimer
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired {
			timer.fired = true
			due = append(due, timer)
		}
	}
	c.mu.Unlock()

	for _, timer := range due {
		timer.f()
	}
}

// fireStopped runs callbacks of stopped timers, mimicking a timer that
// fired just before Stop won the race.
func (c *fakeClock) fireStopped() {
	c.mu.Lock()
	var late []*fakeTimer
	for _, timer := range c.timers {
		if timer.stopped {
			late = append(late, timer)
		}
	}
	c.mu.Unlock()

	for _, timer := range late {
		timer.f()
	}
}
