package ports

import (
	"context"

	"github.com/bnema/devsession/internal/domain"
)

type SessionStore interface {
	Exists(ctx context.Context, root string) bool
	Read(ctx context.Context, root string) (domain.DevSession, error)
	Write(ctx context.Context, root string, session domain.DevSession) error
	Fingerprint(ctx context.Context, root string) (string, error)
}
