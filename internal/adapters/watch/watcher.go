package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/devsession/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	defaultRetryInterval = 50 * time.Millisecond
	defaultMaxTries      = 5
)

type Fingerprinter interface {
	Fingerprint(ctx context.Context, root string) (string, error)
}

type Config struct {
	Root        string
	EditorsFile string
	Store       Fingerprinter
	Logger      *zap.Logger

	// OnSnapshotChanged runs when session.json settles on content different
	// from the last one seen.
	OnSnapshotChanged func(ctx context.Context)
	OnEditorsChanged  func()

	RetryInterval time.Duration
	MaxTries      uint64
}

// Watcher follows a project's session directory and reports snapshot
// content changes and editor state changes.
type Watcher struct {
	root          string
	sessionPath   string
	editorsFile   string
	store         Fingerprinter
	logger        *zap.Logger
	onSnapshot    func(ctx context.Context)
	onEditors     func()
	retryInterval time.Duration
	maxTries      uint64

	mu   sync.Mutex
	last string
}

func New(cfg Config) (*Watcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("watch: fingerprint source is required")
	}
	if cfg.Root == "" {
		return nil, errors.New("watch: project root is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.OnSnapshotChanged == nil {
		cfg.OnSnapshotChanged = func(context.Context) {}
	}
	if cfg.OnEditorsChanged == nil {
		cfg.OnEditorsChanged = func() {}
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = defaultMaxTries
	}

	editorsFile := ""
	if cfg.EditorsFile != "" {
		editorsFile = filepath.Clean(cfg.EditorsFile)
	}

	return &Watcher{
		root:          cfg.Root,
		sessionPath:   filepath.Join(cfg.Root, domain.SessionDirName, domain.SessionFileName),
		editorsFile:   editorsFile,
		store:         cfg.Store,
		logger:        cfg.Logger.With(zap.String("root", cfg.Root)),
		onSnapshot:    cfg.OnSnapshotChanged,
		onEditors:     cfg.OnEditorsChanged,
		retryInterval: cfg.RetryInterval,
		maxTries:      cfg.MaxTries,
	}, nil
}

// Run blocks until ctx is cancelled or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fsw.Close()

	for _, dir := range w.watchedDirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create watched directory %s: %w", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	w.prime(ctx)
	w.logger.Info("watching session directory", zap.String("session_path", w.sessionPath))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) watchedDirs() []string {
	dirs := []string{filepath.Dir(w.sessionPath)}
	if w.editorsFile != "" {
		if dir := filepath.Dir(w.editorsFile); dir != dirs[0] {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// prime records the current snapshot so that startup does not count as a
// change.
func (w *Watcher) prime(ctx context.Context) {
	fingerprint, err := w.store.Fingerprint(ctx, w.root)
	if err != nil {
		return
	}

	w.mu.Lock()
	w.last = fingerprint
	w.mu.Unlock()
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	switch filepath.Clean(event.Name) {
	case w.sessionPath:
		w.snapshotTouched(ctx)
	case w.editorsFile:
		w.logger.Debug("editor state changed", zap.String("op", event.Op.String()))
		w.onEditors()
	}
}

func (w *Watcher) snapshotTouched(ctx context.Context) {
	fingerprint, err := w.fingerprint(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			w.mu.Lock()
			w.last = ""
			w.mu.Unlock()
			return
		}
		w.logger.Warn("snapshot did not settle", zap.Error(err))
		return
	}

	w.mu.Lock()
	if fingerprint == w.last {
		w.mu.Unlock()
		return
	}
	w.last = fingerprint
	w.mu.Unlock()

	w.logger.Info("snapshot content changed")
	w.onSnapshot(ctx)
}

// fingerprint retries while the file reads as corrupt or unreadable, which
// is what a sync tool looks like halfway through replacing it.
func (w *Watcher) fingerprint(ctx context.Context) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.retryInterval
	policy.MaxElapsedTime = 0

	var fingerprint string
	operation := func() error {
		value, err := w.store.Fingerprint(ctx, w.root)
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		fingerprint = value
		return nil
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, w.maxTries-1), ctx)
	if err := backoff.Retry(operation, retry); err != nil {
		return "", err
	}
	return fingerprint, nil
}
