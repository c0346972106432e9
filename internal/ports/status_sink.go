package ports

import (
	"context"

	"github.com/bnema/devsession/internal/domain"
)

type StatusSink interface {
	Post(ctx context.Context, msg domain.Message)
}

type NopStatusSink struct{}

func (NopStatusSink) Post(context.Context, domain.Message) {}
