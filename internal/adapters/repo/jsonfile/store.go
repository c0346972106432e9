package jsonfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/devsession/internal/domain"
	"github.com/bnema/devsession/internal/ports"
	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
)

const (
	sessionDirMode   = 0o755
	sessionFileMode  = 0o644
	tempFilePattern  = ".session-*.json.tmp"
	jsonIndentPrefix = ""
	jsonIndent       = "  "
)

type Store struct {
	schema *jsonschema.Schema
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.SessionStore = (*Store)(nil)

func NewStore() (*Store, error) {
	schema, err := compileSessionSchema()
	if err != nil {
		return nil, err
	}

	return &Store{schema: schema}, nil
}

func SessionPath(root string) string {
	return filepath.Join(filepath.Clean(root), domain.SessionDirName, domain.SessionFileName)
}

func (s *Store) Exists(ctx context.Context, root string) bool {
	if ctx.Err() != nil {
		return false
	}

	info, err := os.Stat(SessionPath(root))
	if err != nil {
		return false
	}

	return info.Mode().IsRegular()
}

func (s *Store) Write(ctx context.Context, root string, session domain.DevSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := SessionPath(root)
	mu := lockForPath(path)
	mu.Lock()
	defer mu.Unlock()

	data, err := json.MarshalIndent(toSchema(session), jsonIndentPrefix, jsonIndent)
	if err != nil {
		return fmt.Errorf("%w: encode session: %w", domain.ErrSessionIO, err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSessionIO, err)
	}

	return nil
}

func (s *Store) Read(ctx context.Context, root string) (domain.DevSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.DevSession{}, err
	}

	data, err := s.readValidated(SessionPath(root))
	if err != nil {
		return domain.DevSession{}, err
	}

	var decoded sessionSchema
	if err := json.Unmarshal(data, &decoded); err != nil {
		return domain.DevSession{}, fmt.Errorf("%w: decode session: %w", domain.ErrSessionCorrupt, err)
	}

	return fromSchema(decoded)
}

// Fingerprint digests the canonical (RFC 8785) form of the stored snapshot so
// that formatting-only rewrites hash the same.
func (s *Store) Fingerprint(ctx context.Context, root string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := s.readValidated(SessionPath(root))
	if err != nil {
		return "", err
	}

	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("%w: canonicalize session: %w", domain.ErrSessionCorrupt, err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Store) readValidated(path string) ([]byte, error) {
	mu := lockForPath(path)
	mu.RLock()
	data, err := os.ReadFile(path)
	mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, path)
		}
		return nil, fmt.Errorf("%w: read session file: %w", domain.ErrSessionIO, err)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", domain.ErrSessionCorrupt, path)
	}

	result := s.schema.ValidateJSON(data)
	if !result.IsValid() {
		return nil, fmt.Errorf("%w: schema validation failed: %v", domain.ErrSessionCorrupt, result.Errors)
	}

	return data, nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, sessionDirMode); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp session file: %w", err)
	}

	if err := tempFile.Chmod(sessionFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp session file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}

	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}

	cleanup = false
	return nil
}
