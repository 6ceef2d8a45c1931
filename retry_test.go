package goftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 1 {
		t.Errorf("expected MaxRetries=1, got %d", config.MaxRetries)
	}
	if config.InitialDelay != 250*time.Millisecond {
		t.Errorf("expected InitialDelay=250ms, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 5*time.Second {
		t.Errorf("expected MaxDelay=5s, got %v", config.MaxDelay)
	}
	if config.Multiplier != 2.0 {
		t.Errorf("expected Multiplier=2.0, got %v", config.Multiplier)
	}
	if config.JitterFactor != 0.25 {
		t.Errorf("expected JitterFactor=0.25, got %v", config.JitterFactor)
	}
}

func TestNoRetryConfig(t *testing.T) {
	config := NoRetryConfig()

	if config.MaxRetries != 0 {
		t.Errorf("expected MaxRetries=0, got %d", config.MaxRetries)
	}
}

func TestRetry_Success(t *testing.T) {
	callCount := 0
	err := Retry(context.Background(), testRetryConfig(3), zerolog.Nop(), "test operation", nil, func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetry_ReconnectsBetweenAttempts(t *testing.T) {
	var events []string
	dropped := io.ErrUnexpectedEOF

	err := Retry(context.Background(), testRetryConfig(1), zerolog.Nop(), "download /a",
		func(ctx context.Context, cause error) error {
			if !errors.Is(cause, dropped) {
				t.Errorf("expected cause to be the failed attempt's error, got %v", cause)
			}
			events = append(events, "reconnect")
			return nil
		},
		func() error {
			events = append(events, "attempt")
			if len(events) == 1 {
				return dropped
			}
			return nil
		})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := []string{"attempt", "reconnect", "attempt"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	callCount := 0
	err := Retry(context.Background(), testRetryConfig(2), zerolog.Nop(), "test operation", nil, func() error {
		callCount++
		return errors.New("connection refused")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if callCount != 3 { // initial + 2 retries
		t.Errorf("expected 3 calls, got %d", callCount)
	}
	if err.Error() != "test operation failed after 3 attempts: connection refused" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestRetry_CommandErrorsAreRetried(t *testing.T) {
	// A dropped session often surfaces as an ordinary command failure.
	callCount := 0
	err := Retry(context.Background(), testRetryConfig(1), zerolog.Nop(), "test operation", nil, func() error {
		callCount++
		if callCount == 1 {
			return &textproto.Error{Code: 550, Msg: "Failed to open file"}
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 2 {
		t.Errorf("expected 2 calls, got %d", callCount)
	}
}

func TestRetry_FilesystemErrorNotRetried(t *testing.T) {
	callCount := 0
	fsErr := &FilesystemError{Op: "write", Path: "/tmp/x", Err: errors.New("disk full")}
	err := Retry(context.Background(), testRetryConfig(3), zerolog.Nop(), "test operation", nil, func() error {
		callCount++
		return fsErr
	})

	if !errors.Is(err, fsErr) {
		t.Errorf("expected the filesystem error back, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetry_ReconnectFailureStops(t *testing.T) {
	callCount := 0
	reconnectErr := errors.New("530 Login incorrect")
	err := Retry(context.Background(), testRetryConfig(3), zerolog.Nop(), "test operation",
		func(context.Context, error) error { return reconnectErr },
		func() error {
			callCount++
			return io.EOF
		})

	if !errors.Is(err, reconnectErr) {
		t.Errorf("expected reconnect error in chain, got %v", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected original error in chain, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	callCount := 0
	err := Retry(ctx, testRetryConfig(3), zerolog.Nop(), "test operation", nil, func() error {
		callCount++
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if callCount != 0 {
		t.Errorf("expected 0 calls, got %d", callCount)
	}
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	callCount := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, config, zerolog.Nop(), "test operation", nil, func() error {
		callCount++
		return errors.New("connection refused")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", callCount)
	}
}

func TestRetry_NoRetries(t *testing.T) {
	callCount := 0
	boom := errors.New("connection refused")
	err := Retry(context.Background(), NoRetryConfig(), zerolog.Nop(), "test operation", nil, func() error {
		callCount++
		return boom
	})

	if err != boom {
		t.Errorf("expected the original error unwrapped, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestCalculateDelay(t *testing.T) {
	tests := []struct {
		name      string
		config    RetryConfig
		attempt   int
		minDelay  time.Duration
		maxDelay  time.Duration
		exactTest bool
	}{
		{
			name: "first attempt no jitter",
			config: RetryConfig{
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   2.0,
			},
			attempt:   0,
			minDelay:  100 * time.Millisecond,
			exactTest: true,
		},
		{
			name: "second attempt with multiplier no jitter",
			config: RetryConfig{
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   2.0,
			},
			attempt:   1,
			minDelay:  200 * time.Millisecond,
			exactTest: true,
		},
		{
			name: "capped at max delay",
			config: RetryConfig{
				InitialDelay: 1 * time.Second,
				MaxDelay:     5 * time.Second,
				Multiplier:   10.0,
			},
			attempt:   2,
			minDelay:  5 * time.Second,
			exactTest: true,
		},
		{
			name: "with jitter",
			config: RetryConfig{
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   2.0,
				JitterFactor: 0.5,
			},
			attempt:  0,
			minDelay: 50 * time.Millisecond,
			maxDelay: 150 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay := calculateDelay(tt.config, tt.attempt)
			if tt.exactTest {
				if delay != tt.minDelay {
					t.Errorf("expected delay=%v, got %v", tt.minDelay, delay)
				}
			} else if delay < tt.minDelay || delay > tt.maxDelay {
				t.Errorf("expected delay between %v and %v, got %v", tt.minDelay, tt.maxDelay, delay)
			}
		})
	}
}

// mockNetError implements net.Error for testing.
type mockNetError struct {
	timeout bool
	msg     string
}

func (e *mockNetError) Error() string   { return e.msg }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return false }

var _ net.Error = (*mockNetError)(nil)

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "context canceled", err: context.Canceled, expected: false},
		{name: "context deadline exceeded", err: fmt.Errorf("list: %w", context.DeadlineExceeded), expected: false},
		{name: "service not available", err: &textproto.Error{Code: 421, Msg: "Timeout"}, expected: true},
		{name: "file unavailable", err: &textproto.Error{Code: 550, Msg: "No such file"}, expected: false},
		{name: "wrapped file unavailable", err: fmt.Errorf("retr: %w", &textproto.Error{Code: 550}), expected: false},
		{name: "eof", err: io.EOF, expected: true},
		{name: "unexpected eof", err: fmt.Errorf("read: %w", io.ErrUnexpectedEOF), expected: true},
		{name: "closed conn", err: net.ErrClosed, expected: true},
		{name: "network error", err: &mockNetError{timeout: true, msg: "timeout"}, expected: true},
		{name: "op error", err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")}, expected: true},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), expected: true},
		{name: "connection reset", err: errors.New("read: connection reset by peer"), expected: true},
		{name: "broken pipe", err: errors.New("write: broken pipe"), expected: true},
		{name: "ssh disconnect", err: errors.New("ssh: disconnect, reason 11"), expected: true},
		{name: "case insensitive", err: errors.New("Connection Refused"), expected: true},
		{name: "permission denied", err: errors.New("permission denied"), expected: false},
		{name: "file not found", err: errors.New("file not found"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionError(tt.err); got != tt.expected {
				t.Errorf("IsConnectionError(%v) = %v, expected %v", tt.err, got, tt.expected)
			}
		})
	}
}
