// Package console provides a context-aware line reader shared by the console
// speech adapters. The wake detector and the transcriber usually read the same
// terminal, so both must consume lines from one Lines value.
package console

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// Lines delivers the lines of an io.Reader one at a time. The underlying read
// runs in a single background goroutine that starts on the first call to Next.
//
// Lines is safe for concurrent use; each line is delivered to exactly one caller.
type Lines struct {
	r     io.Reader
	once  sync.Once
	lines chan string
	done  chan struct{}
	err   error
}

// NewLines returns a Lines reading from r.
func NewLines(r io.Reader) *Lines {
	return &Lines{
		r:     r,
		lines: make(chan string),
		done:  make(chan struct{}),
	}
}

func (l *Lines) start() {
	go func() {
		defer close(l.done)
		sc := bufio.NewScanner(l.r)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			l.lines <- sc.Text()
		}
		l.err = sc.Err()
		if l.err == nil {
			l.err = io.EOF
		}
	}()
}

// Next blocks until a line is available, the reader is exhausted or ctx is
// done. The returned line has its trailing newline removed. At end of input
// Next returns io.EOF.
func (l *Lines) Next(ctx context.Context) (string, error) {
	l.once.Do(l.start)
	select {
	case line := <-l.lines:
		return line, nil
	case <-l.done:
		return "", l.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
