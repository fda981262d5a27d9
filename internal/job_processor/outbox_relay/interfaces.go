package outbox_relay

import (
	"context"

	"github.com/reelforge-backend/internal/domain/outbox"
)

// RecordDispatcher hands one outbox record to the work queue
type RecordDispatcher interface {
	Dispatch(ctx context.Context, record *outbox.Record) error
}

// AsyncDispatcher is the request path's best-effort immediate enqueue
type AsyncDispatcher interface {
	DispatchAsync(ctx context.Context, record *outbox.Record)
}
