package ports

import (
	"context"

	"github.com/bnema/devsession/internal/domain"
)

// Host is the editor capability the coordinator drives.
type Host interface {
	ListOpenResources(ctx context.Context) ([]domain.OpenResource, error)
	OpenAndReveal(ctx context.Context, path string, pos domain.Position) error
}
