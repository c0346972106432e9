package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/devsession/internal/domain"
	"github.com/bnema/devsession/internal/logging"
	"github.com/spf13/viper"
)

const (
	configDir  = ".devsession"
	configName = "config"
	configType = "toml"
	envPrefix  = "DEVSESSION"

	KeyStatePath        = "state.path"
	KeyAutoSaveDelay    = "autosave.delay"
	KeyRestoreOnStartup = "restore.on_startup"
	KeyEditorsFile      = "host.editors_file"
	KeyOpenCommand      = "host.open_command"
	KeyCaptureExclude   = "capture.exclude"
	KeyLogLevel         = "log.level"
	KeyLogDevelopment   = "log.development"
	KeyServeListen      = "serve.listen"
	KeyMetricsListen    = "metrics.listen"
	KeyStaleAfter       = "show.stale_after"

	editorsFileName = "editors.json"
)

const (
	DefaultAutoSaveDelay = 300 * time.Millisecond
	DefaultOpenCommand   = "code --goto {path}:{line}:{column}"
	DefaultServeListen   = "127.0.0.1:7411"
	DefaultStaleAfter    = 7 * 24 * time.Hour
)

type Config struct {
	StatePath        string
	AutoSaveDelay    time.Duration
	RestoreOnStartup bool
	// EditorsFile is empty unless configured; see EditorsFileFor.
	EditorsFile string
	OpenCommand string
	// CaptureExclude holds doublestar patterns for files never recorded.
	CaptureExclude []string
	Log            logging.Config
	ServeListen    string
	MetricsListen  string
	StaleAfter     time.Duration
	// File is the config file that was read, empty when none was found.
	File string
}

// Load reads ~/.devsession/config.toml (or configFile when set) and the
// DEVSESSION_* environment into v. A missing default config file is fine.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}

	v.SetDefault(KeyStatePath, filepath.Join(homeDir, configDir, "state.toml"))
	v.SetDefault(KeyAutoSaveDelay, DefaultAutoSaveDelay)
	v.SetDefault(KeyRestoreOnStartup, true)
	v.SetDefault(KeyEditorsFile, "")
	v.SetDefault(KeyOpenCommand, DefaultOpenCommand)
	v.SetDefault(KeyCaptureExclude, []string{})
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogDevelopment, false)
	v.SetDefault(KeyServeListen, DefaultServeListen)
	v.SetDefault(KeyMetricsListen, "")
	v.SetDefault(KeyStaleAfter, DefaultStaleAfter)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(filepath.Join(homeDir, configDir))
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configNotFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		StatePath:        v.GetString(KeyStatePath),
		AutoSaveDelay:    v.GetDuration(KeyAutoSaveDelay),
		RestoreOnStartup: v.GetBool(KeyRestoreOnStartup),
		EditorsFile:      strings.TrimSpace(v.GetString(KeyEditorsFile)),
		OpenCommand:      strings.TrimSpace(v.GetString(KeyOpenCommand)),
		CaptureExclude:   v.GetStringSlice(KeyCaptureExclude),
		Log: logging.Config{
			Level:       v.GetString(KeyLogLevel),
			Development: v.GetBool(KeyLogDevelopment),
			OutputPaths: []string{"stderr"},
		},
		ServeListen:   strings.TrimSpace(v.GetString(KeyServeListen)),
		MetricsListen: strings.TrimSpace(v.GetString(KeyMetricsListen)),
		StaleAfter:    v.GetDuration(KeyStaleAfter),
		File:          v.ConfigFileUsed(),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AutoSaveDelay <= 0 {
		return fmt.Errorf("%s must be a positive duration", KeyAutoSaveDelay)
	}
	if c.OpenCommand == "" {
		return fmt.Errorf("%s is empty", KeyOpenCommand)
	}
	if c.StatePath == "" {
		return fmt.Errorf("%s is empty", KeyStatePath)
	}
	return nil
}

// EditorsFileFor returns the configured editors file, or the one kept next
// to the project's session when none is configured.
func (c Config) EditorsFileFor(root string) string {
	if c.EditorsFile != "" {
		return c.EditorsFile
	}
	return filepath.Join(root, domain.SessionDirName, editorsFileName)
}
