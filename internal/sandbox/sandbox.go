// Package sandbox provides isolated execution contexts for task workloads.
// A context is a remote environment (a Sprites.dev sprite or a Docker
// container) in which commands run, long-lived processes are started
// detached, and output streams are consumed line by line.
package sandbox

import (
	"context"
	"time"
)

// ChunkSource identifies which output stream a chunk came from.
const (
	SourceStdout = "stdout"
	SourceStderr = "stderr"
)

// ExecResult holds the outcome of a synchronous command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Success  bool
}

// Chunk is a single line of output from a streaming command.
type Chunk struct {
	Source string // SourceStdout or SourceStderr
	Line   string
}

// RunOpts controls a synchronous command invocation.
type RunOpts struct {
	Dir     string
	Env     []string
	Timeout time.Duration
}

// StartOpts controls a detached process launch.
type StartOpts struct {
	Dir string
	Env []string
}

// Stream is a live line-oriented output stream from a running command.
type Stream interface {
	// Chunks returns the channel of output lines. It is closed when the
	// underlying command exits or the stream is closed.
	Chunks() <-chan Chunk

	// Err reports why the stream ended, if it ended abnormally. Valid
	// after Chunks is closed.
	Err() error

	// Close terminates the underlying command and releases resources.
	Close() error
}

// Context is an isolated execution environment bound to a single key.
type Context interface {
	// Key returns the identifier this context was acquired for.
	Key() string

	// Run executes a command to completion and captures its output.
	// A non-zero exit is not an error; it is reported via ExecResult.
	Run(ctx context.Context, opts RunOpts, name string, args ...string) (*ExecResult, error)

	// StartDetached launches a process that outlives the call. The
	// process is not supervised; callers probe for liveness themselves.
	StartDetached(ctx context.Context, opts StartOpts, name string, args ...string) error

	// OpenStream starts a command and exposes its output as a stream of
	// line chunks. The command runs until it exits or Close is called.
	OpenStream(ctx context.Context, name string, args ...string) (Stream, error)
}

// Provider creates and caches execution contexts.
type Provider interface {
	// Acquire returns the context for key, creating the underlying
	// environment on first use. Acquiring the same key twice returns
	// a context addressing the same environment.
	Acquire(ctx context.Context, key string) (Context, error)

	// Close releases provider-level resources. Environments created for
	// acquired contexts are left running.
	Close() error
}
