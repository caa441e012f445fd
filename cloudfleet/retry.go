package cloudfleet

import (
	"context"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/config"
	"github.com/sirupsen/logrus"
)

const DefaultMaxAttempts = 3

// WithRetry runs op up to maxAttempts times with no delay between attempts and returns the
// last error once every attempt failed. Each failure is logged with fields.
func WithRetry[T any](ctx context.Context, maxAttempts int, fields logrus.Fields, op func(ctx context.Context) (T, error)) (T, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	var (
		result  T
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, lastErr = op(ctx)
		if lastErr == nil {
			return result, nil
		}
		config.GetLogger().WithFields(logFields(ctx)).WithFields(fields).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
		}).WithError(lastErr).Warn("sync attempt failed")
		if ctx.Err() != nil {
			break
		}
	}
	var zero T
	return zero, lastErr
}
