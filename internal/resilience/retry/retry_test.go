package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
)

func testPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:           maxRetries,
		BaseDelay:            time.Millisecond,
		MaxDelay:             5 * time.Millisecond,
		Multiplier:           2.0,
		RetryableStatusCodes: DefaultRetryableStatusCodes,
		RetryableErrors:      DefaultRetryableErrors,
	}
}

func quietRetrier(opts ...Option) *Retrier {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(opts...)
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), testPolicy(3), func(ctx context.Context) (string, error) {
		attempts++
		return "ok", nil // Success on first attempt
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if got != "ok" {
		t.Errorf("expected result 'ok', got %q", got)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), testPolicy(3), func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, &StatusError{StatusCode: 503, Message: "Service Unavailable"}
		}
		return 42, nil // Success on 3rd attempt
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_RetriesExhausted(t *testing.T) {
	attempts := 0
	testErr := &CodeError{Code: "ECONNRESET"}
	_, err := Do(context.Background(), testPolicy(2), func(ctx context.Context) (int, error) {
		attempts++
		return 0, testErr // Always fail
	})

	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	// The last error is surfaced unchanged, not wrapped.
	if err != testErr {
		t.Errorf("expected original error, got %v", err)
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	attempts := 0
	testErr := &StatusError{StatusCode: 400, Message: "Bad Request"}
	err := DoErr(context.Background(), testPolicy(5), func(ctx context.Context) error {
		attempts++
		return testErr // Non-retryable error
	})

	if attempts != 1 {
		t.Errorf("expected 1 attempt (non-retryable), got %d", attempts)
	}
	if err != testErr {
		t.Errorf("expected same error, got %v", err)
	}
}

func TestDo_ZeroRetries(t *testing.T) {
	attempts := 0
	testErr := &StatusError{StatusCode: 500, Message: "Server Error"}
	err := DoErr(context.Background(), testPolicy(0), func(ctx context.Context) error {
		attempts++
		return testErr
	})

	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
	if err != testErr {
		t.Errorf("expected same error, got %v", err)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	type call struct {
		attempt int
		err     error
		delay   time.Duration
	}
	var calls []call

	p := testPolicy(5)
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		calls = append(calls, call{attempt, err, delay})
	}

	failures := []error{
		&StatusError{StatusCode: 502, Message: "Bad Gateway"},
		&CodeError{Code: "ETIMEDOUT"},
		errors.New("rate limit exceeded"),
	}
	attempts := 0
	err := DoErr(context.Background(), p, func(ctx context.Context) error {
		attempts++
		if attempts <= len(failures) {
			return failures[attempts-1]
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// Successful attempt index is 4, so OnRetry fires 3 times.
	if len(calls) != 3 {
		t.Fatalf("expected 3 OnRetry calls, got %d", len(calls))
	}
	for i, c := range calls {
		if c.attempt != i+1 {
			t.Errorf("call %d: expected attempt %d, got %d", i, i+1, c.attempt)
		}
		if c.err != failures[i] {
			t.Errorf("call %d: expected error %v, got %v", i, failures[i], c.err)
		}
		nominal := NominalDelay(i, p.BaseDelay, p.MaxDelay, p.Multiplier)
		low := time.Duration(float64(nominal) * 0.75)
		high := time.Duration(float64(nominal) * 1.25)
		if c.delay < low || c.delay > high {
			t.Errorf("call %d: delay %v outside [%v, %v]", i, c.delay, low, high)
		}
	}
}

func TestDo_OnRetryPanicDoesNotAbort(t *testing.T) {
	p := testPolicy(3)
	p.OnRetry = func(int, error, time.Duration) {
		panic("observer failure")
	}

	attempts := 0
	err := quietRetrier().Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &StatusError{StatusCode: 500, Message: "Server Error"}
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	p := testPolicy(5)
	p.BaseDelay = 50 * time.Millisecond
	p.MaxDelay = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	testErr := &StatusError{StatusCode: 500, Message: "Server Error"}
	err := quietRetrier().Do(ctx, p, func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel() // Cancel context after 2nd attempt
		}
		return testErr
	})

	// The caller's context is done, so the last error is returned without waiting.
	if err != testErr {
		t.Errorf("expected last error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts before cancel, got %d", attempts)
	}
}

func TestDo_ContextCanceledDuringWait(t *testing.T) {
	p := testPolicy(5)
	p.BaseDelay = 10 * time.Second
	p.MaxDelay = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	testErr := &StatusError{StatusCode: 503, Message: "Service Unavailable"}
	start := time.Now()
	err := quietRetrier().Do(ctx, p, func(ctx context.Context) error {
		return testErr
	})

	if time.Since(start) > 5*time.Second {
		t.Errorf("wait was not interrupted by context")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("expected last operation error in chain, got %v", err)
	}
}

func TestDo_MockClockWaits(t *testing.T) {
	mClock := quartz.NewMock(t)
	r := quietRetrier(WithClock(mClock))

	p := testPolicy(3)
	p.BaseDelay = time.Second
	p.MaxDelay = 30 * time.Second

	var delays []time.Duration
	p.OnRetry = func(_ int, _ error, d time.Duration) {
		delays = append(delays, d)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, p, func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return syscall.ECONNRESET
			}
			return nil
		})
	}()

	var advanced []time.Duration
	for i := 0; i < 2; i++ {
		require.Eventually(t, func() bool {
			_, ok := mClock.Peek()
			return ok
		}, 2*time.Second, time.Millisecond)
		d, w := mClock.AdvanceNext()
		w.MustWait(ctx)
		advanced = append(advanced, d)
	}

	require.NoError(t, <-done)
	require.Equal(t, 3, attempts)
	require.Equal(t, delays, advanced)
}

func TestWrap(t *testing.T) {
	calls := 0
	lookup := func(ctx context.Context, id int) (string, error) {
		calls++
		if calls == 1 {
			return "", &CodeError{Code: "ECONNRESET"}
		}
		return fmt.Sprintf("patient-%d", id), nil
	}

	wrapped := Wrap(lookup, testPolicy(2))
	got, err := wrapped(context.Background(), 7)

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "patient-7" {
		t.Errorf("expected 'patient-7', got %q", got)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{"default", func(*Policy) {}, false},
		{"negative retries", func(p *Policy) { p.MaxRetries = -1 }, true},
		{"zero base delay", func(p *Policy) { p.BaseDelay = 0 }, true},
		{"zero max delay", func(p *Policy) { p.MaxDelay = 0 }, true},
		{"multiplier below one", func(p *Policy) { p.Multiplier = 0.5 }, true},
		{"base above max is allowed", func(p *Policy) { p.BaseDelay = time.Minute }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPresets_Valid(t *testing.T) {
	for name, p := range map[string]Policy{
		"default":       DefaultPolicy(),
		"chat":          ChatCompletionPolicy(),
		"transcription": TranscriptionPolicy(),
		"database":      DatabasePolicy(),
	} {
		if err := p.Validate(); err != nil {
			t.Errorf("%s preset invalid: %v", name, err)
		}
	}
}
