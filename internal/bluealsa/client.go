// Package bluealsa drives the bluealsactl command line client: it queries
// PCM properties and opens a PCM as a raw frame stream over the client's
// standard input and output.
package bluealsa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultBinary is the control client looked up on PATH.
	DefaultBinary = "bluealsactl"

	// DefaultOpenDelay is how long Open waits for the service to open the
	// device before handing out the stream.
	DefaultOpenDelay = time.Second
)

// Client runs bluealsactl. The zero value uses [DefaultBinary] against the
// default service.
type Client struct {
	// Binary is the executable name or path.
	Binary string

	// Service is the BlueALSA D-Bus service name suffix passed as --dbus.
	Service string

	// OpenDelay overrides DefaultOpenDelay. Negative disables the wait.
	OpenDelay time.Duration

	// Stderr receives the client's diagnostics while a stream is open.
	// Nil discards them.
	Stderr io.Writer
}

func (c *Client) binary() string {
	if c.Binary == "" {
		return DefaultBinary
	}
	return c.Binary
}

func (c *Client) openDelay() time.Duration {
	switch {
	case c.OpenDelay == 0:
		return DefaultOpenDelay
	case c.OpenDelay < 0:
		return 0
	}
	return c.OpenDelay
}

// args returns the command line for a subcommand on path.
func (c *Client) args(cmd, path string) []string {
	args := []string{"--verbose"}
	if c.Service != "" {
		args = append(args, "--dbus="+c.Service)
	}
	return append(args, cmd, path)
}

// Info runs the info subcommand for path and parses its report. A failing
// command yields an error wrapping [*exec.ExitError].
func (c *Client) Info(ctx context.Context, path string) (*PCMInfo, error) {
	cmd := exec.CommandContext(ctx, c.binary(), c.args("info", path)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("bluealsa: info %s: %w: %s", path, err, msg)
		}
		return nil, fmt.Errorf("bluealsa: info %s: %w", path, err)
	}
	info, err := ParseInfo(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}
	info.Path = path
	return info, nil
}

// Stream is an open PCM. Frames written to Writer are played on a sink PCM
// and frames captured by a source PCM are read from Reader.
type Stream struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// Open starts the open subcommand for path and waits for the configured
// open delay. The process is killed when ctx is done, which releases any
// blocked Read or Write on the stream.
func (c *Client) Open(ctx context.Context, path string) (*Stream, error) {
	cmd := exec.CommandContext(ctx, c.binary(), c.args("open", path)...)
	cmd.Stderr = c.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bluealsa: open %s: %w", path, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bluealsa: open %s: %w", path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bluealsa: open %s: %w", path, err)
	}
	s := &Stream{ctx: ctx, cmd: cmd, stdin: stdin, stdout: stdout}
	slog.Debug("bluealsa client started", "path", path, "pid", cmd.Process.Pid)

	if d := c.openDelay(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			_ = s.Close()
			return nil, fmt.Errorf("bluealsa: open %s: %w", path, ctx.Err())
		case <-t.C:
		}
	}
	return s, nil
}

// Writer returns the stream's frame sink.
func (s *Stream) Writer() io.Writer { return s.stdin }

// Reader returns the stream's frame source.
func (s *Stream) Reader() io.Reader { return s.stdout }

// Close closes the client's standard input and waits for it to exit. The
// exit status is not reported when the stream was torn down by its context.
func (s *Stream) Close() error {
	closeErr := s.stdin.Close()
	err := s.cmd.Wait()
	if s.ctx.Err() != nil {
		return nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("bluealsa: client exited: %w", err)
		}
		return fmt.Errorf("bluealsa: wait: %w", err)
	}
	if closeErr != nil && !errors.Is(closeErr, io.ErrClosedPipe) {
		return fmt.Errorf("bluealsa: close: %w", closeErr)
	}
	return nil
}
