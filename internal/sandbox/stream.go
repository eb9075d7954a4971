package sandbox

import (
	"bufio"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	streamChunkBuffer = 64
	maxLineBytes      = 1024 * 1024
)

// lineStream adapts a pair of raw output readers into a channel of line
// chunks. Both providers reuse it; they differ only in how the readers
// and the wait/stop hooks are produced.
type lineStream struct {
	chunks chan Chunk
	done   chan struct{}
	stop   func() error

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// newLineStream starts scanning stdout and stderr line by line. wait is
// called after both readers are drained and its error is surfaced via
// Err. stop terminates the underlying command when the stream is closed.
func newLineStream(stdout, stderr io.Reader, wait func() error, stop func() error) *lineStream {
	s := &lineStream{
		chunks: make(chan Chunk, streamChunkBuffer),
		done:   make(chan struct{}),
		stop:   stop,
	}

	var g errgroup.Group
	g.Go(func() error { return s.scan(stdout, SourceStdout) })
	g.Go(func() error { return s.scan(stderr, SourceStderr) })

	go func() {
		scanErr := g.Wait()
		waitErr := wait()

		s.mu.Lock()
		if waitErr != nil {
			s.err = waitErr
		} else {
			s.err = scanErr
		}
		s.mu.Unlock()

		close(s.chunks)
	}()

	return s
}

func (s *lineStream) scan(r io.Reader, source string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case s.chunks <- Chunk{Source: source, Line: scanner.Text()}:
		case <-s.done:
			return nil
		}
	}
	return scanner.Err()
}

func (s *lineStream) Chunks() <-chan Chunk {
	return s.chunks
}

func (s *lineStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *lineStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.stop != nil {
			err = s.stop()
		}
	})
	return err
}
