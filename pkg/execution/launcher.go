// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package execution

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// Process is a running child whose output streams are read by the Executor.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits and returns its exit code.
	// It must only be called after both streams have been drained.
	Wait() (int, error)
	// Abort kills the process and closes its output streams. Safe to call
	// more than once.
	Abort()
}

// Launcher starts a command.
type Launcher interface {
	Launch(ctx context.Context, command string) (Process, error)
}

// ShellLauncher runs commands through the platform shell: sh -c on Unix,
// cmd /C on Windows.
type ShellLauncher struct {
	// Shell overrides the interpreter; empty selects the platform default.
	Shell string
	Dir   string
	// Env is appended to the current environment.
	Env []string
	// WaitDelay bounds how long output is drained after the shell exits.
	// Streams still held open by background grandchildren are closed once
	// it elapses. Zero means one second.
	WaitDelay time.Duration
}

// Launch starts command. The process is killed when ctx is cancelled.
func (l ShellLauncher) Launch(ctx context.Context, command string) (Process, error) {
	shell, flag := l.Shell, "-c"
	if runtime.GOOS == "windows" {
		if shell == "" {
			shell = "cmd"
		}
		flag = "/C"
	} else if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, flag, command)
	cmd.Dir = l.Dir
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = time.Second
	}

	p := &shellProcess{cmd: cmd, stdout: newStreamBuffer(), stderr: newStreamBuffer(), done: make(chan struct{})}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go p.reap()
	return p, nil
}

type shellProcess struct {
	cmd     *exec.Cmd
	stdout  *streamBuffer
	stderr  *streamBuffer
	done    chan struct{}
	waitErr error
	once    sync.Once
}

// reap waits for the shell and its output copiers, then ends both streams.
func (p *shellProcess) reap() {
	p.waitErr = p.cmd.Wait()
	p.stdout.Close()
	p.stderr.Close()
	close(p.done)
}

func (p *shellProcess) Stdout() io.Reader { return p.stdout }
func (p *shellProcess) Stderr() io.Reader { return p.stderr }

func (p *shellProcess) Wait() (int, error) {
	<-p.done
	err := p.waitErr
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if stderrors.Is(err, exec.ErrWaitDelay) {
		return p.cmd.ProcessState.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return p.cmd.ProcessState.ExitCode(), nil
}

func (p *shellProcess) Abort() {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		p.stdout.Close()
		p.stderr.Close()
	})
}

// streamBufferLimit is the backlog at which writers wait for the reader.
const streamBufferLimit = 4 << 20

// streamBuffer is an in-memory pipe that absorbs up to streamBufferLimit
// bytes ahead of the reader.
type streamBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newStreamBuffer() *streamBuffer {
	b := &streamBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *streamBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.buf.Len() >= streamBufferLimit && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	n, _ := b.buf.Write(data)
	b.cond.Broadcast()
	return n, nil
}

// Read blocks until data is available. It returns io.EOF once the buffer
// is closed and empty.
func (b *streamBuffer) Read(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.buf.Len() == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.buf.Len() == 0 {
		return 0, io.EOF
	}
	n, err := b.buf.Read(data)
	b.cond.Broadcast()
	return n, err
}

func (b *streamBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
