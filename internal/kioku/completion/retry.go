package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bdobrica/kioku/common/retry"
	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// retrying decorates a Completer with exponential backoff on transient
// failures.
type retrying struct {
	next   memory.Completer
	cfg    retry.Config
	logger *slog.Logger
}

// WithRetry returns a Completer that retries c on rate limits, server
// errors and transport failures. cfg.ShouldRetry defaults to Retryable.
func WithRetry(c memory.Completer, cfg retry.Config, logger *slog.Logger) memory.Completer {
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = Retryable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{next: c, cfg: cfg, logger: logger}
}

func (r *retrying) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	var reply string
	attempts := 0
	err := retry.Do(ctx, r.cfg, func() error {
		attempts++
		var err error
		reply, err = r.next.Complete(ctx, messages)
		return err
	})
	if err != nil {
		if !errors.Is(err, memory.ErrEndpoint) {
			err = fmt.Errorf("completion: retry: %w: %w", memory.ErrEndpoint, err)
		}
		r.logger.WarnContext(ctx, "completion: giving up", "attempts", attempts, "err", err)
		return "", err
	}
	return reply, nil
}
