package observability

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FlushTelemetry closes the given resources in order and then syncs the logger.
// Call during graceful shutdown after in-flight requests have drained. Prometheus is pull-based,
// so metrics need no flush. Closers that fail are logged and reported together; the rest still run.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, closers ...func() error) error {
	var errs []error
	for _, c := range closers {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := c(); err != nil {
			if logger != nil {
				logger.Warn("shutdown close failed", zap.Error(err))
			}
			errs = append(errs, err)
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
