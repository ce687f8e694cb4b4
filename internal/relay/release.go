package relay

import (
	"context"
	"time"

	"github.com/mossy-p/videoroom-relay/internal/logger"
)

// release runs a teardown request and discards the outcome. The request gets
// its own deadline and survives cancellation of ctx.
func release(ctx context.Context, timeout time.Duration, what string, op func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := op(ctx); err != nil {
		logger.Debugf("Release %s: %v", what, err)
	}
}
