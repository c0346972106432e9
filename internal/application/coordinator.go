package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/devsession/internal/domain"
	"github.com/bnema/devsession/internal/ports"
	"go.uber.org/zap"
)

const DefaultAutoSaveDelay = 300 * time.Millisecond

var (
	ErrUnsupportedMessage = errors.New("unsupported message type")
	ErrCoordinatorClosed  = errors.New("coordinator is closed")
)

type CoordinatorConfig struct {
	Root             string
	Store            ports.SessionStore
	Host             ports.Host
	State            ports.InstallationState
	Sink             ports.StatusSink
	Clock            ports.Clock
	Recorder         ports.Recorder
	Logger           *zap.Logger
	AutoSaveDelay    time.Duration
	RestoreOnStartup bool
}

// RestoreReport describes one restore pass. Attempted counts every listed
// file, including the ones in Failed.
type RestoreReport struct {
	Attempted int
	Failed    []string
}

func (r RestoreReport) Restored() int {
	return r.Attempted - len(r.Failed)
}

// Coordinator decides when the project's session is captured and how a
// stored snapshot is replayed through the host.
type Coordinator struct {
	root             string
	store            ports.SessionStore
	host             ports.Host
	state            ports.InstallationState
	sink             ports.StatusSink
	clock            ports.Clock
	recorder         ports.Recorder
	logger           *zap.Logger
	autoSaveDelay    time.Duration
	restoreOnStartup bool

	// opMu serializes capture, restore and sync.
	opMu sync.Mutex

	mu         sync.Mutex
	timer      ports.Timer
	generation uint64
	deviceID   domain.DeviceID
	closed     bool
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Sink == nil {
		cfg.Sink = ports.NopStatusSink{}
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = ports.NopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.AutoSaveDelay <= 0 {
		cfg.AutoSaveDelay = DefaultAutoSaveDelay
	}

	return &Coordinator{
		root:             cfg.Root,
		store:            cfg.Store,
		host:             cfg.Host,
		state:            cfg.State,
		sink:             cfg.Sink,
		clock:            cfg.Clock,
		recorder:         cfg.Recorder,
		logger:           cfg.Logger.With(zap.String("root", cfg.Root)),
		autoSaveDelay:    cfg.AutoSaveDelay,
		restoreOnStartup: cfg.RestoreOnStartup,
	}
}

func (c *Coordinator) Root() string {
	return c.root
}

// EnsureDeviceIdentity resolves the installation id once and caches it for
// the coordinator's lifetime.
func (c *Coordinator) EnsureDeviceIdentity(ctx context.Context) (domain.DeviceID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deviceID.Known() {
		return c.deviceID, nil
	}

	id, err := EnsureDeviceIdentity(ctx, c.state)
	if err != nil {
		return "", err
	}

	c.deviceID = id
	return id, nil
}

// Activate runs the startup step: resolve the device identity, then apply a
// snapshot written elsewhere when restore-on-startup is enabled.
func (c *Coordinator) Activate(ctx context.Context) error {
	if _, err := c.EnsureDeviceIdentity(ctx); err != nil {
		c.post(ctx, fmt.Sprintf("Device identity unavailable: %v", err))
		return err
	}

	if !c.restoreOnStartup {
		return nil
	}

	_, err := c.SyncIfStale(ctx)
	return err
}

func (c *Coordinator) CaptureNow(ctx context.Context, note string) (domain.DevSession, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.capture(ctx, note)
}

func (c *Coordinator) capture(ctx context.Context, note string) (domain.DevSession, error) {
	session, err := c.buildSession(ctx, note)
	if err == nil {
		err = c.store.Write(ctx, c.root, session)
	}
	if err != nil {
		c.recorder.ObserveCapture(ports.OutcomeError, 0)
		c.logger.Warn("session capture failed", zap.Error(err))
		c.post(ctx, fmt.Sprintf("Session save failed: %v", err))
		return domain.DevSession{}, err
	}

	c.recorder.ObserveCapture(ports.OutcomeOK, len(session.Files))
	c.logger.Info("session captured", zap.Int("files", len(session.Files)), zap.String("device_id", string(session.DeviceID)))
	c.post(ctx, fmt.Sprintf("Session saved (%d files)", len(session.Files)))
	return session, nil
}

func (c *Coordinator) buildSession(ctx context.Context, note string) (domain.DevSession, error) {
	device, err := c.EnsureDeviceIdentity(ctx)
	if err != nil {
		return domain.DevSession{}, err
	}

	resources, err := c.host.ListOpenResources(ctx)
	if err != nil {
		return domain.DevSession{}, fmt.Errorf("list open resources: %w", err)
	}

	return domain.DevSession{
		CreatedAt: c.clock.Now().UTC().Truncate(time.Millisecond),
		DeviceID:  device,
		Note:      note,
		Files:     domain.FilesFromResources(resources),
	}, nil
}

// ScheduleAutoSave (re)arms the debounce timer. Only the most recently armed
// timer captures, and only into a project that already has a snapshot.
func (c *Coordinator) ScheduleAutoSave() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}

	c.generation++
	generation := c.generation
	c.timer = c.clock.AfterFunc(c.autoSaveDelay, func() {
		c.autoSave(generation)
	})
}

func (c *Coordinator) autoSave(generation uint64) {
	c.mu.Lock()
	if c.closed || generation != c.generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	ctx := context.Background()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.store.Exists(ctx, c.root) {
		c.recorder.ObserveAutoSave(ports.OutcomeSkipped)
		c.logger.Debug("autosave skipped, project has no session yet")
		return
	}

	note := ""
	if existing, err := c.store.Read(ctx, c.root); err == nil {
		note = existing.Note
	}

	if _, err := c.capture(ctx, note); err != nil {
		c.recorder.ObserveAutoSave(ports.OutcomeError)
		return
	}
	c.recorder.ObserveAutoSave(ports.OutcomeOK)
}

// PendingAutoSave reports whether a debounce timer is armed.
func (c *Coordinator) PendingAutoSave() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.timer != nil
}

func (c *Coordinator) RestoreNow(ctx context.Context) (RestoreReport, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.restore(ctx)
}

func (c *Coordinator) restore(ctx context.Context) (RestoreReport, error) {
	session, err := c.store.Read(ctx, c.root)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.recorder.ObserveRestore(ports.OutcomeNotFound, 0, 0)
			c.post(ctx, "No session found")
			return RestoreReport{}, err
		}

		c.recorder.ObserveRestore(ports.OutcomeError, 0, 0)
		c.logger.Warn("session restore failed", zap.Error(err))
		c.post(ctx, fmt.Sprintf("Session restore failed: %v", err))
		return RestoreReport{}, err
	}

	return c.replay(ctx, session), nil
}

// replay opens every file of the snapshot in order. A file that cannot be
// opened is skipped and listed in the report.
func (c *Coordinator) replay(ctx context.Context, session domain.DevSession) RestoreReport {
	report := RestoreReport{Attempted: len(session.Files)}
	for _, file := range session.Files {
		if err := c.host.OpenAndReveal(ctx, file.Path, file.Position()); err != nil {
			report.Failed = append(report.Failed, file.Path)
			c.logger.Debug("skipping file that could not be reopened", zap.String("path", file.Path), zap.Error(err))
		}
	}

	c.recorder.ObserveRestore(ports.OutcomeOK, report.Attempted, len(report.Failed))
	c.logger.Info("session restored",
		zap.Int("files", report.Attempted),
		zap.Int("failed", len(report.Failed)),
		zap.String("origin_device_id", string(session.DeviceID)),
	)
	c.post(ctx, fmt.Sprintf("Session restored (%d files)", report.Attempted))
	return report
}

// SyncIfStale restores the snapshot when it was written by another device,
// or by an unknown one. A snapshot from this device is left alone.
func (c *Coordinator) SyncIfStale(ctx context.Context) (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	device, err := c.EnsureDeviceIdentity(ctx)
	if err != nil {
		c.recorder.ObserveSync(ports.OutcomeError)
		c.post(ctx, fmt.Sprintf("Session sync failed: %v", err))
		return false, err
	}

	session, err := c.store.Read(ctx, c.root)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.recorder.ObserveSync(ports.OutcomeNotFound)
			return false, nil
		}

		c.recorder.ObserveSync(ports.OutcomeError)
		c.logger.Warn("session sync failed", zap.Error(err))
		c.post(ctx, fmt.Sprintf("Session sync failed: %v", err))
		return false, err
	}

	if session.OwnedBy(device) {
		c.recorder.ObserveSync(ports.OutcomeSkipped)
		c.logger.Debug("snapshot belongs to this device, nothing to sync")
		return false, nil
	}

	c.logger.Info("snapshot written by another device, restoring",
		zap.String("origin_device_id", string(session.DeviceID)),
		zap.String("device_id", string(device)),
	)
	c.replay(ctx, session)
	c.recorder.ObserveSync(ports.OutcomeOK)
	return true, nil
}

// HandleMessage dispatches an inbound UI command.
func (c *Coordinator) HandleMessage(ctx context.Context, msg domain.Message) error {
	if c.isClosed() {
		return ErrCoordinatorClosed
	}

	switch msg.Type {
	case domain.MessageSaveSession:
		_, err := c.CaptureNow(ctx, msg.Payload)
		return err
	case domain.MessageRestoreSession:
		_, err := c.RestoreNow(ctx)
		return err
	case domain.MessageEditorsChanged:
		c.ScheduleAutoSave()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMessage, msg.Type)
	}
}

// Close disarms any pending autosave; later ScheduleAutoSave calls are ignored.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Coordinator) post(ctx context.Context, payload string) {
	c.sink.Post(ctx, domain.StatusMessage(payload))
}
