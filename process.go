package faultz

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/zoobzio/clockz"
)

// childProcess wraps one spawned subprocess with its combined stdout+stderr
// capture. The exit code is safe to read once the done channel is closed;
// the output buffer is complete once the drained channel is closed.
type childProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	drained chan struct{}
	mu      sync.Mutex
	buf     bytes.Buffer
	code    int
}

// startChildProcess spawns argv with stdout and stderr merged into a single
// captured pipe. In shell mode the argv elements are joined and handed to
// the shell for interpretation, which is how shell-script tasks run.
func startChildProcess(argv []string, shell bool) (*childProcess, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty argument vector")
	}
	var cmd *exec.Cmd
	if shell {
		cmd = exec.Command("/bin/sh", "-c", strings.Join(argv, " "))
	} else {
		cmd = exec.Command(argv[0], argv[1:]...)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	pw.Close()

	p := &childProcess{cmd: cmd, done: make(chan struct{}), drained: make(chan struct{})}
	go func() {
		p.drain(pr)
		pr.Close()
		close(p.drained)
	}()
	go func() {
		p.code = waitExitCode(cmd)
		close(p.done)
	}()
	return p, nil
}

// waitExitCode reaps the subprocess and maps its termination to an exit
// code. Signal-terminated processes report -1, matching the exec package.
func waitExitCode(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if err == nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (p *childProcess) drain(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			p.mu.Lock()
			p.buf.Write(chunk[:n])
			p.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// wait blocks until the subprocess exits or the timeout elapses on the
// given clock. Returns true when the timeout fired first.
func (p *childProcess) wait(clock clockz.Clock, seconds float64) bool {
	select {
	case <-p.done:
		return false
	case <-clock.After(time.Duration(seconds * float64(time.Second))):
		return true
	}
}

// waitDone blocks until the subprocess exits.
func (p *childProcess) waitDone() {
	<-p.done
}

// exited reports whether the subprocess has been reaped.
func (p *childProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// exitCode returns the subprocess exit code. Valid only after done.
func (p *childProcess) exitCode() int {
	<-p.done
	return p.code
}

// terminate sends a graceful termination signal and waits synchronously for
// the subprocess to be reaped. Safe to call on an already-exited process.
func (p *childProcess) terminate() {
	select {
	case <-p.done:
		return
	default:
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM) //nolint:errcheck // already-finished race is benign
	<-p.done
}

// output returns the combined stdout+stderr of the subprocess. Called after
// exit; waits for the capture pipe to drain so no tail bytes are lost.
func (p *childProcess) output() string {
	<-p.drained
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}
