package bridge

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// EngineConfig describes how to start the engine process.
type EngineConfig struct {
	// Program and Args form the command line, e.g. java -jar /path/api.jar --std.
	Program string
	Args    []string
	// Dir is the child's working directory; empty means the host's.
	Dir string
	// Env is appended to the host environment.
	Env []string

	// ExpectedPath and Hint are reported when the engine cannot be started or dies.
	ExpectedPath string
	Hint         string
}

// Process is a running engine child with piped stdin/stdout and inherited stderr.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	exited chan error
	done   chan struct{}
	result error

	closeOnce sync.Once
}

// Launch starts the engine. Its exit status is delivered once on Exited.
func Launch(engine EngineConfig) (*Process, error) {
	if engine.Program == "" {
		return nil, &BridgeError{Type: BridgeErrorTypeSpawn, Err: fmt.Errorf("no engine program configured")}
	}

	cmd := exec.Command(engine.Program, engine.Args...)
	cmd.Dir = engine.Dir
	if len(engine.Env) > 0 {
		cmd.Env = append(os.Environ(), engine.Env...)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &BridgeError{Type: BridgeErrorTypeSpawn, Err: fmt.Errorf("failed to create stdin pipe: %w", err)}
	}

	// stdout is a plain os.Pipe rather than StdoutPipe: Wait must not close our
	// read end while frames the engine wrote before exiting are still unread.
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, &BridgeError{Type: BridgeErrorTypeSpawn, Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}
	cmd.Stdout = stdoutWrite

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutRead.Close()
		stdoutWrite.Close()
		return nil, &BridgeError{Type: BridgeErrorTypeSpawn, Err: err}
	}
	stdoutWrite.Close()

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutRead,
		exited: make(chan error, 1),
		done:   make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		p.result = err
		close(p.done)
		p.exited <- err
	}()
	return p, nil
}

// Stdin is the engine's input stream.
func (p *Process) Stdin() io.Writer {
	return p.stdin
}

// Stdout is the engine's output stream.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Exited delivers the engine's exit status once: nil for a clean exit.
func (p *Process) Exited() <-chan error {
	return p.exited
}

// Done is closed once the engine has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Result returns the exit status after Done is closed.
func (p *Process) Result() error {
	<-p.done
	return p.result
}

// Pid returns the engine's process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Kill terminates the engine immediately.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Shutdown closes the engine's stdin so it can exit on its own, kills it if it
// is still running after grace, and releases the output stream.
func (p *Process) Shutdown(grace time.Duration) {
	p.closeOnce.Do(func() {
		p.stdin.Close()
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			p.Kill()
			<-p.done
		}
		p.stdout.Close()
	})
}
