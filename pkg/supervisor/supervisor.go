// Package supervisor owns the auxiliary workers and child processes that run
// next to the control loop, and the stop flag the loop polls.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// Supervisor is safe for concurrent use. The control loop only needs
// StopRequested and Shutdown.
type Supervisor struct {
	log    pslog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stop     bool
	nextID   int
	workers  map[int]*worker
	children []*exec.Cmd
	cleanup  []string

	shutdownOnce sync.Once
}

type worker struct {
	name string
	done chan struct{}
}

// New returns a supervisor whose workers run under a context derived from ctx.
func New(ctx context.Context, logger pslog.Logger) *Supervisor {
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Supervisor{
		log:     logger,
		ctx:     wctx,
		cancel:  cancel,
		workers: make(map[int]*worker),
	}
}

// RequestStop sets the stop flag. It does not wait for anything.
func (s *Supervisor) RequestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = true
}

// StopRequested reports whether a stop was requested.
func (s *Supervisor) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop
}

// WatchContext requests a stop once ctx is done, typically on SIGINT/SIGTERM.
func (s *Supervisor) WatchContext(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.log.Info("termination requested")
			s.RequestStop()
		case <-s.ctx.Done():
		}
	}()
}

// Go runs fn as a named worker until it returns or Shutdown cancels its
// context.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	w := &worker{name: name, done: make(chan struct{})}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.workers[id] = w
	s.mu.Unlock()

	go func() {
		defer close(w.done)
		err := fn(s.ctx)
		s.mu.Lock()
		delete(s.workers, id)
		stopping := s.stop
		s.mu.Unlock()
		switch {
		case err != nil && !stopping && !errors.Is(err, context.Canceled):
			s.log.Error("worker exited", "worker", name, "err", err)
		default:
			s.log.Debug("worker exited", "worker", name)
		}
	}()
}

// Start launches an auxiliary child process and registers it for shutdown.
func (s *Supervisor) Start(name string, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("child %s: empty command", name)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting child %s: %w", name, err)
	}
	s.mu.Lock()
	s.children = append(s.children, cmd)
	s.mu.Unlock()
	s.log.Info("child started", "child", name, "pid", cmd.Process.Pid)

	s.Go("child:"+name, func(context.Context) error {
		return cmd.Wait()
	})
	return nil
}

// RemoveOnShutdown registers files deleted during Shutdown.
func (s *Supervisor) RemoveOnShutdown(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup = append(s.cleanup, paths...)
}

// Shutdown sets the stop flag, cancels workers, kills child processes and
// waits up to timeout for every worker to return. Later calls are no-ops.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	s.shutdownOnce.Do(func() {
		s.log.Info("cleaning up workers and child processes")

		s.mu.Lock()
		s.stop = true
		children := s.children
		s.children = nil
		pending := make([]*worker, 0, len(s.workers))
		for _, w := range s.workers {
			pending = append(pending, w)
		}
		cleanup := s.cleanup
		s.mu.Unlock()

		s.cancel()
		for _, cmd := range children {
			pid := cmd.Process.Pid
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				s.log.Warn("failed to kill child process", "pid", pid, "err", err)
				continue
			}
			s.log.Info("killed child process", "pid", pid)
		}

		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
	wait:
		for _, w := range pending {
			select {
			case <-w.done:
			case <-deadline.C:
				s.log.Warn("worker did not exit before deadline", "worker", w.name)
				break wait
			}
		}

		for _, path := range cleanup {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.log.Warn("failed to remove file", "path", path, "err", err)
			}
		}
		s.log.Info("cleanup completed")
	})
}
