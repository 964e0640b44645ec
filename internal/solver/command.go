package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/emuforge/emuforge/internal/fingerprint"
)

// Command runs a solver as an external process. The request is written
// to the child's stdin as JSON and a wireResult is read back from its
// stdout. A child that wants a point recorded as unphysical must say so
// in the JSON error payload; every other failure, including a non-zero
// exit or undecodable output, is treated as retryable.
type Command struct {
	// Container is the environment reference recorded in the
	// fingerprint, typically an image tag the Path launches.
	Container string

	// Path and Args form the command line. The request is not passed in
	// argv, only on stdin.
	Path string
	Args []string

	// Env entries are appended to the parent environment.
	Env []string

	// Timeout bounds a single invocation. Zero means no limit beyond
	// the caller's context.
	Timeout time.Duration
}

type wireResult struct {
	Values map[string][]float64 `json:"values,omitempty"`
	Error  *wireError           `json:"error,omitempty"`
}

type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Fingerprint hashes the command line and environment reference. Host
// details are deliberately absent: the container pins the toolchain, so
// results remain valid across machines.
func (c *Command) Fingerprint() fingerprint.Digest {
	h := fingerprint.New()
	h.WriteString("command")
	h.WriteString(c.Container)
	h.WriteString(c.Path)
	for _, a := range c.Args {
		h.WriteString(a)
	}
	for _, e := range c.Env {
		h.WriteString(e)
	}
	return h.Sum()
}

func (c *Command) Run(ctx context.Context, req Request) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode solver request: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, Transient(fmt.Errorf("solver interrupted: %w", ctxErr))
		}
		return nil, Transient(fmt.Errorf("solver process failed: %w: %s", err, firstLine(&stderr)))
	}

	var wr wireResult
	if err := json.Unmarshal(stdout.Bytes(), &wr); err != nil {
		return nil, Transient(fmt.Errorf("failed to decode solver output: %w", err))
	}
	if wr.Error != nil {
		if wr.Error.Kind == "permanent" {
			return nil, &PermanentError{Reason: wr.Error.Message}
		}
		return nil, Transient(errors.New(wr.Error.Message))
	}
	if wr.Values == nil {
		return nil, Transient(errors.New("solver produced neither values nor an error"))
	}
	return &Result{Values: wr.Values}, nil
}

func firstLine(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "(no stderr)"
	}
	return s
}
