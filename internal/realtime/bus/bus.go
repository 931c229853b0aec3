package bus

import (
	"context"

	"github.com/yungbote/workbook-backend/internal/realtime"
)

// Bus carries SSE messages between server instances so that a save handled by
// one instance reaches streams held by another.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
