package sandbox

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

func collectChunks(t *testing.T, s Stream) []Chunk {
	t.Helper()

	var chunks []Chunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-s.Chunks():
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-timeout:
			t.Fatal("timeout waiting for stream to close")
		}
	}
}

func TestLineStream_SplitsLinesPerSource(t *testing.T) {
	stdout := strings.NewReader("one\ntwo\n")
	stderr := strings.NewReader("oops\n")

	s := newLineStream(stdout, stderr,
		func() error { return nil },
		func() error { return nil },
	)

	chunks := collectChunks(t, s)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	var stdoutLines, stderrLines []string
	for _, c := range chunks {
		switch c.Source {
		case SourceStdout:
			stdoutLines = append(stdoutLines, c.Line)
		case SourceStderr:
			stderrLines = append(stderrLines, c.Line)
		default:
			t.Errorf("unexpected chunk source %q", c.Source)
		}
	}

	if len(stdoutLines) != 2 || stdoutLines[0] != "one" || stdoutLines[1] != "two" {
		t.Errorf("unexpected stdout lines: %v", stdoutLines)
	}
	if len(stderrLines) != 1 || stderrLines[0] != "oops" {
		t.Errorf("unexpected stderr lines: %v", stderrLines)
	}

	if err := s.Err(); err != nil {
		t.Errorf("expected nil stream error, got %v", err)
	}
}

func TestLineStream_WaitErrorSurfacesViaErr(t *testing.T) {
	waitErr := fmt.Errorf("command exited with code 7")

	s := newLineStream(strings.NewReader(""), strings.NewReader(""),
		func() error { return waitErr },
		func() error { return nil },
	)

	collectChunks(t, s)

	if err := s.Err(); err == nil || err.Error() != waitErr.Error() {
		t.Errorf("expected wait error, got %v", err)
	}
}

func TestLineStream_CloseStopsCommand(t *testing.T) {
	stopped := make(chan struct{})

	// A reader that never produces data until closed.
	pr, pw := io.Pipe()

	s := newLineStream(pr, strings.NewReader(""),
		func() error { return nil },
		func() error {
			close(stopped)
			// Simulate process teardown releasing the output pipe.
			return pw.Close()
		},
	)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop hook was not invoked")
	}

	collectChunks(t, s)

	// Close is idempotent
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestLineStream_LongLines(t *testing.T) {
	long := strings.Repeat("x", 256*1024)
	stdout := strings.NewReader(long + "\n")

	s := newLineStream(stdout, strings.NewReader(""),
		func() error { return nil },
		func() error { return nil },
	)

	chunks := collectChunks(t, s)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if len(chunks[0].Line) != len(long) {
		t.Errorf("expected line of %d bytes, got %d", len(long), len(chunks[0].Line))
	}
}
