package transcribe

import (
	"context"
	"fmt"
	"io"
	"time"
)

type timeoutAdapter struct {
	next    Adapter
	timeout time.Duration
}

// WithTimeout bounds every Transcribe call on next by timeout. The ceiling
// holds even when next ignores context cancellation; the abandoned call's
// result is discarded.
func WithTimeout(next Adapter, timeout time.Duration) Adapter {
	if timeout <= 0 {
		return next
	}
	return &timeoutAdapter{next: next, timeout: timeout}
}

func (a *timeoutAdapter) Name() string { return a.next.Name() }

// Close releases the wrapped adapter's resources, if it holds any.
func (a *timeoutAdapter) Close() error {
	if c, ok := a.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *timeoutAdapter) Transcribe(ctx context.Context, chunk Chunk) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := a.next.Transcribe(ctx, chunk)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%s transcription: %w", a.next.Name(), ctx.Err())
	}
}
