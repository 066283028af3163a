package serverrun

import (
	"context"
	"time"
)

type addresser interface{ Addr() string }

// waitListening returns once every server reports a bound address or ctx ends.
func waitListening(ctx context.Context, servers ...addresser) {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		ready := true
		for _, s := range servers {
			if s.Addr() == "" {
				ready = false
				break
			}
		}
		if ready {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
