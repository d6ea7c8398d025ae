// Package ctrl provides handlers that bound and repeat other handlers:
// timeouts, retries and rate limits around model calls.
package ctrl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/calque-ai/guidebot/pkg/calque"
)

// ErrTimeout is returned when a handler wrapped by Timeout does not finish in time.
var ErrTimeout = errors.New("handler timeout")

// PassThrough copies input to output unchanged.
func PassThrough() calque.Handler {
	return calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		_, err := io.Copy(res.Data, req.Data)
		return err
	})
}

// Timeout bounds handler to d. The handler sees a context with the deadline;
// if it has not returned when the deadline passes, Timeout returns an error
// wrapping both ErrTimeout and context.DeadlineExceeded.
//
//	flow.Use(ctrl.Timeout(ai.Agent(client), 60*time.Second))
func Timeout(handler calque.Handler, d time.Duration) calque.Handler {
	return calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		ctx, cancel := context.WithTimeout(req.Context, d)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- handler.ServeFlow(req.WithContext(ctx), res)
		}()

		select {
		case err := <-done:
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && req.Context.Err() == nil {
				return fmt.Errorf("%w after %v: %w", ErrTimeout, d, err)
			}
			return err
		case <-ctx.Done():
			if req.Context.Err() != nil {
				return req.Context.Err()
			}
			return fmt.Errorf("%w after %v: %w", ErrTimeout, d, ctx.Err())
		}
	})
}

// Retry runs handler up to attempts times with exponential backoff starting
// at base, replaying the buffered input each time. Output is only written
// once an attempt succeeds, so a failed attempt never leaks partial text.
func Retry(handler calque.Handler, attempts uint64, base time.Duration) calque.Handler {
	if attempts == 0 {
		attempts = 1
	}
	return calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		var input []byte
		if err := calque.Read(req, &input); err != nil {
			return err
		}

		var (
			output  bytes.Buffer
			attempt int
		)
		backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(base))
		err := retry.Do(req.Context, backoff, func(ctx context.Context) error {
			attempt++
			output.Reset()
			err := handler.ServeFlow(calque.NewRequest(ctx, bytes.NewReader(input)), calque.NewResponse(&output))
			if err == nil {
				return nil
			}
			calque.LogAttr(ctx, slog.LevelWarn, "attempt failed",
				slog.Int("attempt", attempt), slog.String("error", err.Error()))
			if errors.Is(err, context.Canceled) {
				return err
			}
			return retry.RetryableError(err)
		})
		if err != nil {
			return fmt.Errorf("retry exhausted after %d attempts: %w", attempt, err)
		}
		return calque.Write(res, output.Bytes())
	})
}
