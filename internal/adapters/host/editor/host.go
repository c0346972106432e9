package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bnema/devsession/internal/domain"
	"github.com/bnema/devsession/internal/ports"
)

const DefaultOpenCommand = "code --goto {path}:{line}:{column}"

var ErrEmptyOpenCommand = errors.New("editor open command is empty")

type runFunc func(ctx context.Context, name string, args ...string) (stderr string, err error)

type Config struct {
	// EditorsFile is the JSON list of open editors maintained by the editor
	// integration.
	EditorsFile string
	// OpenCommand is split on whitespace; {path}, {line}, {column} (1-based)
	// and {line0}, {column0} (0-based) are substituted per argument.
	OpenCommand string
	// Exclude holds doublestar patterns; matching paths are never captured.
	Exclude []string
}

// Host talks to the editor through a state file it writes and a command
// line that opens a file at a position.
type Host struct {
	editorsFile string
	openArgs    []string
	exclude     []string
	run         runFunc
}

var _ ports.Host = (*Host)(nil)

type editorEntry struct {
	Path      string `json:"path"`
	Line      *int   `json:"line,omitempty"`
	Character *int   `json:"character,omitempty"`
}

func NewHost(cfg Config) (*Host, error) {
	command := strings.TrimSpace(cfg.OpenCommand)
	if command == "" {
		command = DefaultOpenCommand
	}

	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, ErrEmptyOpenCommand
	}

	exclude := make([]string, 0, len(cfg.Exclude))
	for _, pattern := range cfg.Exclude {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePathPattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
		exclude = append(exclude, pattern)
	}

	return &Host{
		editorsFile: filepath.Clean(cfg.EditorsFile),
		openArgs:    args,
		exclude:     exclude,
		run:         runCommand,
	}, nil
}

func (h *Host) EditorsFile() string {
	return h.editorsFile
}

func (h *Host) ListOpenResources(ctx context.Context) ([]domain.OpenResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(h.editorsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.OpenResource{}, nil
		}
		return nil, fmt.Errorf("read editors file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []domain.OpenResource{}, nil
	}

	var entries []editorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode editors file: %w", err)
	}

	resources := make([]domain.OpenResource, 0, len(entries))
	for _, entry := range entries {
		path := strings.TrimSpace(entry.Path)
		if path == "" || h.excluded(path) {
			continue
		}

		resource := domain.OpenResource{Path: path}
		if entry.Line != nil {
			resource.Cursor = &domain.Position{Line: clampZero(*entry.Line)}
			if entry.Character != nil {
				resource.Cursor.Character = clampZero(*entry.Character)
			}
		}
		resources = append(resources, resource)
	}

	return resources, nil
}

func (h *Host) OpenAndReveal(ctx context.Context, path string, pos domain.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrOpenFailure, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", domain.ErrOpenFailure, path)
	}

	args := expandArgs(h.openArgs, path, pos)
	stderr, err := h.run(ctx, args[0], args[1:]...)
	if err != nil {
		if stderr == "" {
			return fmt.Errorf("%w: %s: %w", domain.ErrOpenFailure, path, err)
		}
		return fmt.Errorf("%w: %s: %w: %s", domain.ErrOpenFailure, path, err, stderr)
	}

	return nil
}

func (h *Host) excluded(path string) bool {
	for _, pattern := range h.exclude {
		if matched, _ := doublestar.PathMatch(pattern, path); matched {
			return true
		}
	}
	return false
}

func expandArgs(template []string, path string, pos domain.Position) []string {
	replacer := strings.NewReplacer(
		"{path}", path,
		"{line}", strconv.Itoa(pos.Line+1),
		"{column}", strconv.Itoa(pos.Character+1),
		"{line0}", strconv.Itoa(pos.Line),
		"{column0}", strconv.Itoa(pos.Character),
	)

	args := make([]string, 0, len(template))
	for _, arg := range template {
		args = append(args, replacer.Replace(arg))
	}
	return args
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("locate editor command %q: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()
	return strings.TrimSpace(stderr.String()), err
}

func clampZero(value int) int {
	if value < 0 {
		return 0
	}
	return value
}
