// Package supervisor keeps castbeam's long-running goroutines (the HTTP
// server's accept loop, the encoder subprocess wrapper, the playback
// driver) alive together and tears them all down when any one of them
// fails fatally. Grounded on the teacher's internal/supervisor/
// supervisor.go: the same restart/failFast/wait-group shape, but
// retargeted from re-executing the plex-tuner binary as separate OS
// processes per instance to running in-process goroutines, since
// castbeam's three engines are library packages within one binary, not
// independently deployable instances of itself.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/castbeam/castbeam/internal/logging"
)

// Task is one long-running unit the supervisor keeps alive. Run should
// block until ctx is cancelled or it hits an unrecoverable error.
type Task struct {
	Name    string
	Run     func(ctx context.Context) error
	Restart bool // restart Run after it returns, per RestartDelay, until ctx is cancelled
}

// Options configures a supervisor Run.
type Options struct {
	RestartDelay time.Duration // default 2s
	FailFast     bool          // cancel all tasks when any task returns a non-context error
}

// Run starts every task on its own goroutine and blocks until ctx is
// cancelled or a task exits fatally. Matches the teacher's Run: a
// buffered error channel sized to the task count, a WaitGroup joined on
// its own goroutine, and a three-way select among ctx.Done, the error
// channel, and the join signal.
func Run(ctx context.Context, log *logging.Logger, opts Options, tasks ...Task) error {
	if len(tasks) == 0 {
		return fmt.Errorf("supervisor: no tasks")
	}
	restartDelay := opts.RestartDelay
	if restartDelay <= 0 {
		restartDelay = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(tasks))
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			err := runTaskLoop(ctx, log, task, restartDelay)
			if err != nil && !errors.Is(err, context.Canceled) {
				select {
				case errCh <- fmt.Errorf("%s: %w", task.Name, err):
				default:
				}
				if opts.FailFast {
					cancel()
				}
			}
		}(task)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		<-done
		if len(errCh) > 0 {
			return <-errCh
		}
		return nil
	case err := <-errCh:
		cancel()
		<-done
		return err
	case <-done:
		if len(errCh) > 0 {
			return <-errCh
		}
		return nil
	}
}

func runTaskLoop(ctx context.Context, log *logging.Logger, task Task, restartDelay time.Duration) error {
	for {
		err := task.Run(ctx)
		if !task.Restart || ctx.Err() != nil {
			return err
		}
		log.Warnf("task %q exited (%v); restarting in %s", task.Name, err, restartDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(restartDelay):
		}
	}
}
