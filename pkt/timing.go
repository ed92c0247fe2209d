package pkt

import (
	"context"
	"time"

	"github.com/m-lab/domain-kernel/ec"
)

// retryBackoff is the per-retry delay send_internet's retry loop waits
// on, spec.md §4.2 step 4: "wait 25ms on the time event-count."
const retryBackoff = 25 * time.Millisecond

// waitOrQuit blocks for d, or returns early with quit=true if quitEC
// advances past its current value first (a process-quit signal
// arriving mid-backoff), or returns ctx.Err() if ctx itself is done
// for a reason other than the backoff elapsing.
func waitOrQuit(ctx context.Context, quitEC *ec.EC, d time.Duration) (quit bool, err error) {
	deadline, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	_, _, werr := ec.Select(deadline, ec.NextOf(quitEC))
	if werr == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, nil
}
