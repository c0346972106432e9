package jsonfile

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/bnema/devsession/internal/domain"
	"github.com/kaptinlin/jsonschema"
)

//go:embed session.schema.json
var sessionSchemaJSON []byte

// createdAt keeps the millisecond shape editors write and widens to
// nanoseconds only when the value carries sub-millisecond precision.
const (
	createdAtLayout     = "2006-01-02T15:04:05.000Z07:00"
	createdAtNanoLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type sessionSchema struct {
	CreatedAt string              `json:"createdAt"`
	DeviceID  string              `json:"deviceId,omitempty"`
	Note      string              `json:"note,omitempty"`
	Files     []sessionFileSchema `json:"files"`
}

type sessionFileSchema struct {
	Path      string `json:"path"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
}

func compileSessionSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(sessionSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile session schema: %w", err)
	}

	return schema, nil
}

func toSchema(session domain.DevSession) sessionSchema {
	files := domain.DedupeFiles(session.Files)
	encoded := make([]sessionFileSchema, 0, len(files))
	for _, file := range files {
		encoded = append(encoded, sessionFileSchema{
			Path:      file.Path,
			Line:      file.Line,
			Character: file.Character,
		})
	}

	return sessionSchema{
		CreatedAt: formatTime(session.CreatedAt),
		DeviceID:  string(session.DeviceID),
		Note:      session.Note,
		Files:     encoded,
	}
}

func fromSchema(schema sessionSchema) (domain.DevSession, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, schema.CreatedAt)
	if err != nil {
		return domain.DevSession{}, fmt.Errorf("%w: invalid createdAt %q", domain.ErrSessionCorrupt, schema.CreatedAt)
	}

	files := make([]domain.SessionFile, 0, len(schema.Files))
	for _, file := range schema.Files {
		files = append(files, domain.SessionFile{
			Path:      file.Path,
			Line:      file.Line,
			Character: file.Character,
		})
	}

	return domain.DevSession{
		CreatedAt: createdAt.UTC(),
		DeviceID:  domain.DeviceID(schema.DeviceID),
		Note:      schema.Note,
		Files:     files,
	}, nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		value = time.Unix(0, 0)
	}

	value = value.UTC()
	if value.Nanosecond()%int(time.Millisecond) != 0 {
		return value.Format(createdAtNanoLayout)
	}

	return value.Format(createdAtLayout)
}
