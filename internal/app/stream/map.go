package stream

import "context"

// Map returns a subscription whose snapshots are fn applied to src's
// snapshots. Errors pass through unchanged. Closing the result closes src
// and waits for an in-flight fn call to return; fn should honor ctx.
func Map[A, B any](parent context.Context, src Subscription[A], fn func(context.Context, A) B) Subscription[B] {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	feed := NewFeed[B](1, func() {
		cancel()
		src.Close()
		<-done
	})
	go func() {
		defer feed.Close()
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-src.Events():
				if !ok {
					return
				}
				if ev.Err != nil {
					feed.Fail(ev.Err)
					continue
				}
				out := fn(ctx, ev.Snapshot)
				if ctx.Err() != nil {
					return
				}
				feed.Snapshot(out)
			}
		}
	}()
	return feed
}
