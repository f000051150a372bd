// Package mock provides a scripted test double for [stt.Transcriber].
//
// Example:
//
//	tr := &mock.Transcriber{Results: []mock.Result{
//	    {Transcript: types.Transcript{Text: "Hello"}},
//	    {Err: stt.ErrNoSpeechDetected},
//	}}
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxmem/pkg/provider/stt"
	"github.com/MrWong99/voxmem/pkg/types"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Result is one scripted Transcribe outcome.
type Result struct {
	Transcript types.Transcript
	Err        error
}

// Transcriber returns Results in order. Once they are exhausted it returns
// io.EOF, or blocks until ctx is done when BlockWhenDone is set.
type Transcriber struct {
	mu sync.Mutex

	// Results is consumed one entry per call.
	Results []Result

	// BlockWhenDone makes Transcribe wait for cancellation after the last
	// scripted result instead of returning io.EOF.
	BlockWhenDone bool

	calls int
}

// Transcribe implements [stt.Transcriber].
func (m *Transcriber) Transcribe(ctx context.Context) (types.Transcript, error) {
	m.mu.Lock()
	m.calls++
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return types.Transcript{}, err
	}
	if len(m.Results) > 0 {
		r := m.Results[0]
		m.Results = m.Results[1:]
		m.mu.Unlock()
		return r.Transcript, r.Err
	}
	block := m.BlockWhenDone
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return types.Transcript{}, ctx.Err()
	}
	return types.Transcript{}, io.EOF
}

// CallCount returns how many times Transcribe was called.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
