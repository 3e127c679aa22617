package nakadi

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastBackoff(maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: time.Millisecond,
		Factor:       1,
		MaxDelay:     time.Millisecond,
		MaxRetries:   maxRetries,
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := NewExponentialBackoff()
	cases := map[int]time.Duration{
		0:   500 * time.Millisecond,
		1:   750 * time.Millisecond,
		2:   1125 * time.Millisecond,
		100: 10 * time.Minute,
	}
	for attempt, want := range cases {
		if got := b.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestBackoff_FirstAttemptDoesNotSleep(t *testing.T) {
	b := NewExponentialBackoff()
	b.InitialDelay = time.Hour
	b.MaxDelay = time.Hour

	calls := 0
	start := time.Now()
	err := b.Open(context.Background(), 0, nil, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if calls != 1 {
		t.Fatalf("connect called %d times", calls)
	}
	if time.Since(start) > time.Second {
		t.Fatal("attempt 0 must not sleep")
	}
}

func TestBackoff_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := fastBackoff(UnlimitedRetries).Open(context.Background(), 0, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return TransportError("open stream", errors.New("refused"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if calls != 3 {
		t.Fatalf("connect called %d times, want 3", calls)
	}
}

func TestBackoff_NonRetryableErrorPropagates(t *testing.T) {
	fatal := errors.New("forbidden")
	calls := 0
	err := fastBackoff(5).Open(context.Background(), 0, nil, func(context.Context) error {
		calls++
		return fatal
	})
	if err != fatal {
		t.Fatalf("expected the connect error unchanged, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("connect called %d times, want 1", calls)
	}
}

func TestBackoff_MaxRetriesExhausted(t *testing.T) {
	var last error
	calls := 0
	err := fastBackoff(2).Open(context.Background(), 0, nil, func(context.Context) error {
		calls++
		last = TransportError("open stream", errors.New("refused"))
		return last
	})
	var ne *Error
	if !errors.As(err, &ne) || ne.Kind != KindBackoffExhausted {
		t.Fatalf("expected backoff exhausted, got %v", err)
	}
	if ne.Err != last {
		t.Fatalf("exhausted error must carry the last failure, got %v", ne.Err)
	}
	if calls != 3 {
		t.Fatalf("connect called %d times, want 3", calls)
	}
}

func TestBackoff_CeilingCheckedBeforeConnecting(t *testing.T) {
	cause := errors.New("reset")
	err := fastBackoff(1).Open(context.Background(), 2, cause, func(context.Context) error {
		t.Fatal("connect must not be called")
		return nil
	})
	var ne *Error
	if !errors.As(err, &ne) || ne.Kind != KindBackoffExhausted || ne.Err != cause {
		t.Fatalf("expected exhausted wrapping cause, got %v", err)
	}
}

func TestBackoff_SleepIsCancellable(t *testing.T) {
	b := NewExponentialBackoff()
	b.InitialDelay = time.Hour
	b.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	err := b.Open(ctx, 1, errors.New("reset"), func(context.Context) error {
		t.Fatal("connect must not be called")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("sleep was not interrupted")
	}
}
