package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/closer/pkg/resilience"
)

func TestRetry(t *testing.T) {
	transient := errors.New("connection reset")
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
		wantText  string
	}{
		{name: "first try", errs: []error{nil}, wantCalls: 1, wantText: "ok"},
		{name: "recovers", errs: []error{transient, nil}, wantCalls: 2, wantText: "ok"},
		{name: "gives up after max attempts", errs: []error{transient, transient, transient, transient}, wantCalls: 3, wantErr: transient},
		{name: "rate limit is not retried", errs: []error{resilience.RateLimitError{Provider: "openai"}}, wantCalls: 1},
		{name: "deadline is not retried", errs: []error{context.DeadlineExceeded}, wantCalls: 1, wantErr: context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			resp, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(context.Context) (Response, error) {
				err := tt.errs[calls]
				calls++
				if err != nil {
					return Response{}, err
				}
				return Response{Text: "ok"}, nil
			})
			if calls != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, calls)
			}
			if resp.Text != tt.wantText {
				t.Fatalf("expected text %q, got %q", tt.wantText, resp.Text)
			}
			if tt.wantText == "" && err == nil {
				t.Fatalf("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.name == "rate limit is not retried" && !resilience.IsRateLimit(err) {
				t.Fatalf("expected rate limit to surface, got %v", err)
			}
		})
	}
}

func TestRetryStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}, func(context.Context) (Response, error) {
		calls++
		cancel()
		return Response{}, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetrySkipsCallOnDoneContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, RetryConfig{}, func(context.Context) (Response, error) {
		t.Fatalf("fn must not run on a cancelled context")
		return Response{}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffDelayIsCapped(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{2, 40 * time.Millisecond},
		{6, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := backoffDelay(10*time.Millisecond, 50*time.Millisecond, 0, tt.attempt, nil); got != tt.want {
			t.Fatalf("attempt %d: expected %s, got %s", tt.attempt, tt.want, got)
		}
	}
}
