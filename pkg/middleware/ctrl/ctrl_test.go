package ctrl

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calque-ai/guidebot/pkg/calque"
)

func slowHandler(d time.Duration) calque.Handler {
	return calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		select {
		case <-time.After(d):
			return calque.Write(res, "done")
		case <-req.Context.Done():
			return req.Context.Err()
		}
	})
}

func TestTimeout(t *testing.T) {
	tests := []struct {
		name        string
		handler     calque.Handler
		timeout     time.Duration
		want        string
		wantTimeout bool
	}{
		{"fast handler", slowHandler(time.Millisecond), time.Second, "done", false},
		{"slow handler", slowHandler(time.Second), 20 * time.Millisecond, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out string
			err := calque.NewFlow().Use(Timeout(tt.handler, tt.timeout)).Run(context.Background(), "q", &out)
			if tt.wantTimeout {
				if !errors.Is(err, ErrTimeout) {
					t.Fatalf("error = %v, want ErrTimeout", err)
				}
				if !errors.Is(err, context.DeadlineExceeded) {
					t.Errorf("error = %v, want wrapping DeadlineExceeded", err)
				}
				return
			}
			if err != nil || out != tt.want {
				t.Errorf("Run() = %q, %v", out, err)
			}
		})
	}
}

func TestTimeoutParentCancelIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := calque.NewFlow().Use(Timeout(slowHandler(time.Second), time.Minute)).Run(ctx, "q", new(string))
	if errors.Is(err, ErrTimeout) {
		t.Errorf("parent cancellation reported as timeout: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		var in string
		if err := calque.Read(req, &in); err != nil {
			return err
		}
		if calls.Add(1) < 3 {
			_ = calque.Write(res, "partial")
			return errors.New("transient")
		}
		return calque.Write(res, strings.ToUpper(in))
	})

	var out string
	if err := calque.NewFlow().Use(Retry(flaky, 3, time.Millisecond)).Run(context.Background(), "ok", &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "OK" {
		t.Errorf("out = %q, want OK without partial output", out)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryExhausted(t *testing.T) {
	boom := errors.New("model down")
	var calls atomic.Int32
	failing := calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		calls.Add(1)
		return boom
	})

	err := calque.NewFlow().Use(Retry(failing, 2, time.Millisecond)).Run(context.Background(), "q", new(string))
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestRateLimit(t *testing.T) {
	limited := RateLimit(PassThrough(), 2, 100*time.Millisecond)
	flow := calque.NewFlow().Use(limited)

	start := time.Now()
	for range 3 {
		if err := flow.Run(context.Background(), "x", new(string)); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	// the third call waits for one token (50ms)
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("three calls took %v, expected throttling", elapsed)
	}
}

func TestRateLimitContextCancel(t *testing.T) {
	limited := RateLimit(PassThrough(), 1, time.Hour)
	flow := calque.NewFlow().Use(limited)
	if err := flow.Run(context.Background(), "x", new(string)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := flow.Run(ctx, "x", new(string)); err == nil {
		t.Error("expected error when context ends while waiting")
	}
}

func TestRateLimitInvalid(t *testing.T) {
	err := calque.NewFlow().Use(RateLimit(PassThrough(), 0, time.Second)).Run(context.Background(), "x", new(string))
	if err == nil {
		t.Error("expected error for zero rate")
	}
}
