package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/metrics"
	"github.com/bpbradley/locket/pkg/watch"
)

// DefaultTimeout is how long Stop waits for a graceful exit before sending
// SIGKILL (spec.md §4.J, §5).
const DefaultTimeout = 30 * time.Second

// forwardedSignals is the full signal set relayed to the child (spec.md
// §4.J). In interactive mode SIGINT and SIGQUIT are withheld: the child
// shares the controlling TTY and receives them directly from the kernel
// (original_source/src/signal.rs).
var forwardedSignals = []os.Signal{
	syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT,
	syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGWINCH,
}

// Result is the translated exit outcome of a supervised child (spec.md
// §4.J "exit_notify... translating status").
type Result struct {
	Code     int
	Signaled bool
	Signum   int
}

// Supervisor spawns and restarts a single child process whenever its
// resolved environment changes, forwarding OS signals and enforcing a
// graceful-then-SIGKILL shutdown timeout. Grounded on
// original_source/src/process.rs.
type Supervisor struct {
	resolver    *EnvResolver
	cmd         []string
	interactive bool
	timeout     time.Duration
	log         *zap.Logger

	mu         sync.Mutex
	envHash    string
	target     int // positive PID (interactive) or negative -PGID (service)
	proc       *exec.Cmd
	forward    context.CancelFunc
	done       chan Result
	termState  *term.State
	lastResult Result
}

// Option configures a Supervisor at construction.
type Option func(*Supervisor)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger attaches a logger; the default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds a Supervisor that runs cmd (argv[0] plus arguments) whenever
// started, resolving its environment through resolver.
func New(resolver *EnvResolver, cmd []string, interactive bool, opts ...Option) *Supervisor {
	s := &Supervisor{
		resolver:    resolver,
		cmd:         cmd,
		interactive: interactive,
		timeout:     DefaultTimeout,
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Paths implements watch.Handler.
func (s *Supervisor) Paths() []string { return s.resolver.Paths() }

// ExitNotify implements watch.ExitNotifier: it resolves once the current
// child exits (spec.md §4.J "exit_notify... resolves on child exit").
func (s *Supervisor) ExitNotify() <-chan struct{} {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	ch := make(chan struct{})
	go func() {
		if done != nil {
			<-done
		}
		close(ch)
	}()
	return ch
}

// Wait blocks until the currently running child exits or ctx is cancelled,
// returning its translated Result (spec.md §4.J, exec mode's non-watch
// path: "start() once, then block on the child's own exit rather than a
// filesystem event"). It must not be called concurrently with a consumer
// of ExitNotify for the same child, since both drain the same done channel.
func (s *Supervisor) Wait(ctx context.Context) (Result, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return Result{}, fmt.Errorf("no running child")
	}
	select {
	case r, ok := <-done:
		if !ok {
			return Result{}, fmt.Errorf("child result channel closed")
		}
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Start resolves the initial environment and spawns the child (spec.md
// §4.J "start()").
func (s *Supervisor) Start(ctx context.Context) error {
	env, err := s.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	s.envHash = HashEnv(env)
	return s.restart(env)
}

// Handle implements watch.Handler (spec.md §4.J "handle(events)"): an empty
// batch is a no-op; otherwise the environment is re-resolved and the child
// is restarted only if its hash changed. A resolution failure is logged
// but never fatal to the watch loop.
func (s *Supervisor) Handle(ctx context.Context, events []watch.Event) error {
	if len(events) == 0 {
		return nil
	}
	env, err := s.resolver.Resolve(ctx)
	if err != nil {
		s.log.Error("failed to reload environment", zap.Error(err))
		return nil
	}
	newHash := HashEnv(env)
	if newHash == s.envHash {
		s.log.Debug("files changed but resolved environment is identical; skipping restart")
		return nil
	}
	s.log.Info("environment changed, restarting process", zap.Int("events", len(events)))
	s.envHash = newHash
	metrics.RecordRestart()
	if err := s.restart(env); err != nil {
		s.log.Error("failed to restart process", zap.Error(err))
	}
	return nil
}

func (s *Supervisor) restart(env map[string]string) error {
	s.stop()

	if len(s.cmd) == 0 {
		return nil
	}

	cmd := exec.Command(s.cmd[0], s.cmd[1:]...)
	cmd.Env = make([]string, 0, len(env))
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if s.interactive {
		s.saveTTY()
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdin = nil
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	s.log.Info("spawning child process", zap.Strings("cmd", s.cmd))
	if err := cmd.Start(); err != nil {
		return errs.NewSecret(errs.SecretIo, s.cmd[0], err)
	}

	pid := cmd.Process.Pid
	if s.interactive {
		s.target = pid
	} else {
		s.target = -pid
	}
	s.proc = cmd

	fctx, cancel := context.WithCancel(context.Background())
	s.forward = cancel
	go s.forwardSignals(fctx, s.target)

	done := make(chan Result, 1)
	s.done = done
	go func() {
		err := cmd.Wait()
		result := translateExit(err)
		recordExit(result)
		s.mu.Lock()
		s.lastResult = result
		s.mu.Unlock()
		done <- result
		close(done)
	}()

	return nil
}

// LastResult returns the most recently observed child exit outcome. It is
// only meaningful once a child has actually exited (after ExitNotify fires
// or Wait/Handle observes a completion); a process still running, or one
// that never ran, reports a zero Result.
func (s *Supervisor) LastResult() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func recordExit(r Result) {
	switch {
	case r.Signaled:
		metrics.RecordChildExit("signaled")
	case r.Code == 0:
		metrics.RecordChildExit("success")
	default:
		metrics.RecordChildExit("error")
	}
}

// forwardSignals relays every signal in forwardedSignals to target (a
// process or, in service mode, a whole process group) until ctx is
// cancelled (spec.md §4.J "forwarder task").
func (s *Supervisor) forwardSignals(ctx context.Context, target int) {
	sigs := forwardedSignals
	if s.interactive {
		filtered := sigs[:0:0]
		for _, sig := range sigs {
			if sig != syscall.SIGINT && sig != syscall.SIGQUIT {
				filtered = append(filtered, sig)
			}
		}
		sigs = filtered
	}

	ch := make(chan os.Signal, 32)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			s.log.Debug("forwarding signal", zap.String("signal", sig.String()), zap.Int("target", target))
			if err := syscall.Kill(target, sig.(syscall.Signal)); err != nil {
				return
			}
		}
	}
}

// stop terminates the current child: SIGTERM, wait up to timeout, then
// SIGKILL on timeout or a second interrupt (spec.md §4.J "stop()").
func (s *Supervisor) stop() {
	if s.forward != nil {
		s.forward()
		s.forward = nil
	}

	target := s.target
	done := s.done
	s.target = 0
	s.done = nil
	if target == 0 {
		return
	}

	s.log.Debug("stopping process", zap.Int("target", target))
	_ = syscall.Kill(target, syscall.SIGTERM)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT)
	defer signal.Stop(interrupt)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-done:
		s.log.Debug("child exited gracefully")
	case <-timer.C:
		s.log.Warn("child timed out, sending SIGKILL", zap.Duration("timeout", s.timeout))
		_ = syscall.Kill(target, syscall.SIGKILL)
		<-done
	case <-interrupt:
		s.log.Warn("received interrupt during shutdown, sending SIGKILL")
		_ = syscall.Kill(target, syscall.SIGKILL)
		<-done
	}

	s.restoreTTY()
}

// Stop terminates the managed child and releases supervisor resources. It
// is safe to call more than once.
func (s *Supervisor) Stop() {
	// s.mu is not held here: stop waits on the exit goroutine, which takes
	// s.mu to record lastResult before it reports on done.
	s.stop()
}

// saveTTY captures terminal state before spawning an interactive child so
// it can be restored after the child exits, even if the child left the
// terminal in raw mode.
func (s *Supervisor) saveTTY() {
	if !s.interactive {
		return
	}
	if state, err := term.GetState(int(os.Stdin.Fd())); err == nil {
		s.termState = state
	}
}

func (s *Supervisor) restoreTTY() {
	if s.termState == nil {
		return
	}
	_ = term.Restore(int(os.Stdin.Fd()), s.termState)
}

func translateExit(waitErr error) Result {
	if waitErr == nil {
		return Result{Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return Result{Signaled: true, Signum: int(ws.Signal())}
			}
			return Result{Code: ws.ExitStatus()}
		}
		return Result{Code: exitErr.ExitCode()}
	}
	return Result{Code: -1}
}
