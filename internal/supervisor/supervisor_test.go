package supervisor

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/castbeam/castbeam/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewWithOutput("supervisor-test", log.Default())
}

func TestRunReturnsNilWhenAllTasksFinishCleanly(t *testing.T) {
	ctx := context.Background()
	err := Run(ctx, testLogger(), Options{}, Task{
		Name: "one-shot",
		Run:  func(ctx context.Context) error { return nil },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunPropagatesTaskError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := Run(ctx, testLogger(), Options{}, Task{
		Name: "failer",
		Run:  func(ctx context.Context) error { return boom },
	})
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want wrapped %v", err, boom)
	}
}

func TestRunFailFastCancelsSiblingTasks(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	canceled := make(chan struct{})
	err := Run(ctx, testLogger(), Options{FailFast: true},
		Task{
			Name: "failer",
			Run:  func(ctx context.Context) error { return boom },
		},
		Task{
			Name: "long-runner",
			Run: func(ctx context.Context) error {
				<-ctx.Done()
				close(canceled)
				return ctx.Err()
			},
		},
	)
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want wrapped %v", err, boom)
	}
	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("long-runner was not cancelled after sibling failure")
	}
}

func TestRunRestartsFailingTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan struct{})
	go func() {
		Run(ctx, testLogger(), Options{RestartDelay: 10 * time.Millisecond}, Task{
			Name:    "flaky",
			Restart: true,
			Run: func(ctx context.Context) error {
				attempts++
				if attempts >= 3 {
					cancel()
				}
				return errors.New("transient")
			},
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if attempts < 3 {
		t.Fatalf("attempts = %d, want >= 3", attempts)
	}
}
