package ec

import "context"

// Target pairs an EC with the value a waiter considers a wakeup.
type Target struct {
	EC     *EC
	Target uint64
}

// NextOf is a convenience constructor for waiting on the next advance
// of e, regardless of its current value.
func NextOf(e *EC) Target {
	return Target{EC: e, Target: e.Read() + 1}
}

// Select blocks until any one of targets reaches its target value, or
// ctx is done. It returns the index of the target that woke the
// caller (-1 on cancellation) and the observed value.
//
// This is the kernel's "wait on {socket EC, time EC, quit EC}"
// primitive: sar_internet and the ping server both wait on several
// event counts at once and need to know which one fired.
func Select(ctx context.Context, targets ...Target) (int, uint64, error) {
	if len(targets) == 0 {
		<-ctx.Done()
		return -1, 0, ctx.Err()
	}
	type result struct {
		idx int
		val uint64
	}
	selCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, len(targets))
	for i, t := range targets {
		i, t := i, t
		go func() {
			v, err := t.EC.Wait(selCtx, t.Target)
			if err != nil {
				return
			}
			select {
			case results <- result{idx: i, val: v}:
			case <-selCtx.Done():
			}
		}()
	}

	select {
	case r := <-results:
		return r.idx, r.val, nil
	case <-ctx.Done():
		return -1, 0, ctx.Err()
	}
}
