package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// named is a trivial provider type for exercising FallbackGroup.
type named struct {
	name string
	err  error
	hits int
}

func (n *named) call() (string, error) {
	n.hits++
	if n.err != nil {
		return "", n.err
	}
	return n.name, nil
}

func callNamed(n *named) (string, error) { return n.call() }

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary, secondary := &named{name: "primary"}, &named{name: "secondary"}
	fg := NewFallbackGroup(primary, "primary", FallbackConfig{})
	fg.AddFallback("secondary", secondary)

	got, err := ExecuteWithResult(context.Background(), fg, callNamed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "primary" {
		t.Errorf("got %q, want primary", got)
	}
	if secondary.hits != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.hits)
	}
	if fg.Len() != 2 || fg.Primary() != primary {
		t.Errorf("Len = %d, Primary = %v", fg.Len(), fg.Primary())
	}
}

func TestFallbackGroup_Failover(t *testing.T) {
	t.Parallel()

	primary := &named{name: "primary", err: errTest}
	secondary := &named{name: "secondary"}
	fg := NewFallbackGroup(primary, "primary", FallbackConfig{})
	fg.AddFallback("secondary", secondary)

	got, err := ExecuteWithResult(context.Background(), fg, callNamed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "secondary" {
		t.Errorf("got %q, want secondary", got)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()

	lastErr := errors.New("secondary down")
	fg := NewFallbackGroup(&named{err: errTest}, "primary", FallbackConfig{})
	fg.AddFallback("secondary", &named{err: lastErr})

	_, err := ExecuteWithResult(context.Background(), fg, callNamed)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("err = %v, should wrap the last provider's error", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	primary := &named{name: "primary", err: errTest}
	secondary := &named{name: "secondary"}
	fg := NewFallbackGroup(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", secondary)

	for range 4 {
		if _, err := ExecuteWithResult(context.Background(), fg, callNamed); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if primary.hits != 2 {
		t.Errorf("primary called %d times, want 2 (breaker should open)", primary.hits)
	}
	snaps := fg.Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "primary" || snaps[0].State != StateOpen || snaps[1].State != StateClosed {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestFallbackGroup_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	primary := &named{name: "primary", err: context.Canceled}
	secondary := &named{name: "secondary"}
	fg := NewFallbackGroup(primary, "primary", FallbackConfig{})
	fg.AddFallback("secondary", secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ExecuteWithResult(ctx, fg, callNamed)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if primary.hits+secondary.hits != 0 {
		t.Errorf("no provider should be called with a done context, got %d calls", primary.hits+secondary.hits)
	}
}
