// Package clock drives passive production at a fixed cadence.
package clock

import (
	"context"
	"time"
)

// Run calls step every interval with the seconds elapsed since the previous
// call, until ctx is done. Elapsed time is measured, not assumed, so a slow
// step does not lose production.
func Run(ctx context.Context, interval time.Duration, step func(dt float64)) error {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			dt := now.Sub(last).Seconds()
			last = now
			if dt <= 0 {
				continue
			}
			step(dt)
		}
	}
}
