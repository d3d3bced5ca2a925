package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testPoller(period, initialDelay time.Duration, attempts int) *Poller {
	return &Poller{
		Period:       period,
		InitialDelay: initialDelay,
		Attempts:     attempts,
		Logger:       zerolog.Nop(),
	}
}

// sequenceCheck returns the scripted answers in order and counts calls.
func sequenceCheck(answers []bool) (CheckFunc, *int) {
	calls := 0
	return func(ctx context.Context) (bool, error) {
		i := calls
		calls++
		if i >= len(answers) {
			return false, nil
		}
		return answers[i], nil
	}, &calls
}

func TestPollerStopsOnFirstReady(t *testing.T) {
	period := 20 * time.Millisecond
	delay := 10 * time.Millisecond
	p := testPoller(period, delay, 10)
	check, calls := sequenceCheck([]bool{false, false, true})

	start := time.Now()
	if err := p.Wait(context.Background(), check); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	elapsed := time.Since(start)

	if *calls != 3 {
		t.Errorf("probe calls = %d, want 3", *calls)
	}
	if min := delay + 2*period; elapsed < min {
		t.Errorf("elapsed %v, want at least %v", elapsed, min)
	}
}

func TestPollerExhaustionIsReadinessTimeout(t *testing.T) {
	p := testPoller(time.Millisecond, 0, 4)
	check, calls := sequenceCheck(nil)

	err := p.Wait(context.Background(), check)
	if !IsReadinessTimeout(err) {
		t.Fatalf("expected readiness timeout, got %v", err)
	}
	if *calls != 4 {
		t.Errorf("probe calls = %d, want 4", *calls)
	}
	if IsProvider(err) {
		t.Error("timeout classified as provider error")
	}
}

func TestPollerProbeErrorAborts(t *testing.T) {
	p := testPoller(time.Millisecond, 0, 10)
	boom := errors.New("gone for good")
	calls := 0
	check := func(ctx context.Context) (bool, error) {
		calls++
		return false, boom
	}

	if err := p.Wait(context.Background(), check); !errors.Is(err, boom) {
		t.Fatalf("expected probe error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("probe calls = %d, want 1", calls)
	}
}

func TestPollerHonorsCancellation(t *testing.T) {
	p := testPoller(time.Hour, 0, 10)
	check, _ := sequenceCheck([]bool{false})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Wait(ctx, check) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestPollerZeroAttemptsProbesOnce(t *testing.T) {
	p := testPoller(time.Millisecond, 0, 0)
	check, calls := sequenceCheck([]bool{true})

	if err := p.Wait(context.Background(), check); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if *calls != 1 {
		t.Errorf("probe calls = %d, want 1", *calls)
	}
}

func TestReadinessDefaults(t *testing.T) {
	r := DefaultReadiness
	if r.Period() != 10*time.Second {
		t.Errorf("period = %v", r.Period())
	}
	if r.InitialDelay() != 2*time.Second {
		t.Errorf("initial delay = %v", r.InitialDelay())
	}
	if r.Attempts != 12 {
		t.Errorf("attempts = %d", r.Attempts)
	}
}
