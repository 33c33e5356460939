package commit

import (
	"fmt"
)

// GapError reports a batch whose start version leaves uncommitted versions
// between it and the cursor. Committing past a gap would silently lose the
// missing versions, so the pipeline halts instead.
type GapError struct {
	Expected uint64
	Start    uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("batch starts at version %d but version %d has not been committed", e.Start, e.Expected)
}

// A Guard enforces that batches are committed contiguously and in order.
// Batches that overlap already committed versions are admitted, since the
// upsert policies make re-applying them idempotent; batches that skip ahead
// are rejected.
type Guard struct {
	next uint64
}

// NewGuard returns a guard expecting the next batch to start at or before
// next.
func NewGuard(next uint64) *Guard {
	return &Guard{next: next}
}

// NewGuardFromCursor returns a guard seeded from a loaded cursor. When no
// cursor exists the guard expects the configured start version.
func NewGuardFromCursor(cursorVersion uint64, found bool, startVersion uint64) *Guard {
	if !found {
		return NewGuard(startVersion)
	}
	return NewGuard(cursorVersion + 1)
}

// Admit checks a batch covering [start, end]. It returns a GapError when the
// batch would leave a hole, and stale=true when every version in the batch is
// already committed and the batch can be dropped.
func (g *Guard) Admit(start, end uint64) (stale bool, err error) {
	if start > g.next {
		return false, &GapError{Expected: g.next, Start: start}
	}
	if end < g.next {
		return true, nil
	}
	return false, nil
}

// Advance records a committed batch ending at end.
func (g *Guard) Advance(end uint64) {
	if end+1 > g.next {
		g.next = end + 1
	}
}

// Next is the version the guard expects the next batch to include.
func (g *Guard) Next() uint64 {
	return g.next
}
