// Package mock provides a scripted test double for [wake.Detector].
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxmem/pkg/provider/wake"
)

var _ wake.Detector = (*Detector)(nil)

// Detector reports Wakes wake events, then returns io.EOF. A negative Wakes
// value never runs out.
type Detector struct {
	mu sync.Mutex

	// Wakes is the number of wake events left to report.
	Wakes int

	// Err, when non-nil, is returned instead of a wake event.
	Err error

	calls int
}

// WaitForWake implements [wake.Detector].
func (m *Detector) WaitForWake(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Err != nil {
		return m.Err
	}
	if m.Wakes == 0 {
		return io.EOF
	}
	if m.Wakes > 0 {
		m.Wakes--
	}
	return nil
}

// CallCount returns how many times WaitForWake was called.
func (m *Detector) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
