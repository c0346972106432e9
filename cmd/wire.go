package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/devsession/internal/adapters/host/editor"
	"github.com/bnema/devsession/internal/adapters/metrics"
	sessionrender "github.com/bnema/devsession/internal/adapters/render/session"
	"github.com/bnema/devsession/internal/adapters/repo/jsonfile"
	tomlrepo "github.com/bnema/devsession/internal/adapters/repo/toml"
	"github.com/bnema/devsession/internal/adapters/status"
	"github.com/bnema/devsession/internal/application"
	"github.com/bnema/devsession/internal/config"
	"github.com/bnema/devsession/internal/domain"
	"github.com/bnema/devsession/internal/logging"
	"github.com/bnema/devsession/internal/ports"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const configFileEnv = "DEVSESSION_CONFIG"

type app struct {
	cfg           config.Config
	logger        *zap.Logger
	store         *jsonfile.Store
	state         *tomlrepo.StateRepository
	recorder      *metrics.Recorder
	clock         ports.Clock
	sessionRender func(domain.DevSession, sessionrender.RenderOptions) string
	now           func() time.Time
	rootDir       *string
}

func wireApp() (*app, error) {
	v := viper.New()
	cfg, err := config.Load(v, os.Getenv(configFileEnv))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewOrNop(cfg.Log)

	store, err := jsonfile.NewStore()
	if err != nil {
		return nil, fmt.Errorf("wire session store: %w", err)
	}

	state, err := tomlrepo.NewStateRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire installation state: %w", err)
	}

	return &app{
		cfg:           cfg,
		logger:        logger,
		store:         store,
		state:         state,
		recorder:      metrics.NewRecorder(),
		clock:         ports.SystemClock{},
		sessionRender: sessionrender.Render,
		now:           time.Now,
	}, nil
}

func (a *app) root() (string, error) {
	dir := "."
	if a.rootDir != nil && *a.rootDir != "" {
		dir = *a.rootDir
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	return root, nil
}

func (a *app) newHost(root string) (*editor.Host, error) {
	host, err := editor.NewHost(editor.Config{
		EditorsFile: a.cfg.EditorsFileFor(root),
		OpenCommand: a.cfg.OpenCommand,
		Exclude:     a.cfg.CaptureExclude,
	})
	if err != nil {
		return nil, fmt.Errorf("wire editor host: %w", err)
	}
	return host, nil
}

func (a *app) newCoordinator(root string, sink ports.StatusSink) (*application.Coordinator, error) {
	host, err := a.newHost(root)
	if err != nil {
		return nil, err
	}

	return application.NewCoordinator(application.CoordinatorConfig{
		Root:             root,
		Store:            a.store,
		Host:             host,
		State:            a.state,
		Sink:             sink,
		Clock:            a.clock,
		Recorder:         a.recorder,
		Logger:           a.logger,
		AutoSaveDelay:    a.cfg.AutoSaveDelay,
		RestoreOnStartup: a.cfg.RestoreOnStartup,
	}), nil
}

// commandCoordinator builds a coordinator for the --root project that
// reports status lines to out.
func (a *app) commandCoordinator(out io.Writer) (*application.Coordinator, error) {
	root, err := a.root()
	if err != nil {
		return nil, err
	}
	return a.newCoordinator(root, status.NewWriterSink(out))
}

func (a *app) deviceID(ctx context.Context) (domain.DeviceID, error) {
	return application.EnsureDeviceIdentity(ctx, a.state)
}
