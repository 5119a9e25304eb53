package retry_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/kioku/common/retry"
)

var (
	errTransient = errors.New("503 upstream busy")
	errRejected  = errors.New("401 bad key")
)

// script returns an fn that replays errs in order and then succeeds.
func script(errs ...error) (fn func() error, calls *int) {
	n := 0
	return func() error {
		n++
		if n <= len(errs) {
			return errs[n-1]
		}
		return nil
	}, &n
}

func TestDo(t *testing.T) {
	onlyTransient := func(err error) bool { return errors.Is(err, errTransient) }

	tests := []struct {
		name      string
		cfg       retry.Config
		errs      []error
		wantErr   error
		wantCalls int
	}{
		{
			name:      "first attempt succeeds",
			cfg:       retry.Config{MaxAttempts: 3},
			wantCalls: 1,
		},
		{
			name:      "recovers after transient failures",
			cfg:       retry.Config{MaxAttempts: 3},
			errs:      []error{errTransient, errTransient},
			wantCalls: 3,
		},
		{
			name:      "gives up after max attempts",
			cfg:       retry.Config{MaxAttempts: 2},
			errs:      []error{errTransient, errTransient, errTransient},
			wantErr:   errTransient,
			wantCalls: 2,
		},
		{
			name:      "zero attempts means one try",
			cfg:       retry.Config{},
			errs:      []error{errTransient},
			wantErr:   errTransient,
			wantCalls: 1,
		},
		{
			name:      "predicate stops on permanent error",
			cfg:       retry.Config{MaxAttempts: 5, ShouldRetry: onlyTransient},
			errs:      []error{errTransient, errRejected},
			wantErr:   errRejected,
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.InitialDelay = time.Millisecond
			fn, calls := script(tt.errs...)
			err := retry.Do(context.Background(), tt.cfg, fn)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if *calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", *calls, tt.wantCalls)
			}
		})
	}
}

func TestDo_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fn, calls := script(errTransient)
	err := retry.Do(ctx, retry.Config{MaxAttempts: 5, InitialDelay: time.Millisecond}, fn)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if *calls != 0 {
		t.Fatalf("fn ran %d times on a cancelled context", *calls)
	}
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	start := time.Now()
	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errTransient
	})
	if time.Since(start) > 5*time.Second {
		t.Fatal("Do waited out the backoff despite cancellation")
	}
	if !errors.Is(err, errTransient) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected both the last error and context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_LogsEachRetry(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fn, _ := script(errTransient, errTransient)
	err := retry.Do(context.Background(), retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Logger:       logger,
	}, fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := strings.Count(buf.String(), "retrying"); n != 2 {
		t.Fatalf("logged %d retries, want 2:\n%s", n, buf.String())
	}
	if !strings.Contains(buf.String(), "delay=1ms") {
		t.Errorf("delay should be capped at MaxDelay:\n%s", buf.String())
	}
}
