package scylla

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"marketchat/internal/app/stream"
	domainchat "marketchat/internal/domain/chat"
)

const pollBuffer = 2

// poll runs load every interval and publishes the result whenever its
// fingerprint changes. The first load is synchronous so subscribe errors
// reach the caller. Load errors are delivered and polling continues.
func poll[T any](ctx context.Context, interval time.Duration, logger *slog.Logger, load func(context.Context) (T, error), fingerprint func(T) string) (stream.Subscription[T], error) {
	initial, err := load(ctx)
	if err != nil {
		return nil, err
	}
	pollCtx, cancel := context.WithCancel(ctx)
	feed := stream.NewFeed[T](pollBuffer, cancel)
	feed.Snapshot(initial)
	last := fingerprint(initial)

	go func() {
		defer feed.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		failing := false
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
			snapshot, err := load(pollCtx)
			if err != nil {
				if pollCtx.Err() != nil {
					return
				}
				if !failing && logger != nil {
					logger.Warn("scylla poll failed", "error", err)
				}
				failing = true
				feed.Fail(err)
				continue
			}
			next := fingerprint(snapshot)
			if next == last && !failing {
				continue
			}
			failing = false
			last = next
			if !feed.Snapshot(snapshot) {
				return
			}
		}
	}()
	return feed, nil
}

func messagesFingerprint(messages []domainchat.Message) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(messages)))
	for _, m := range messages {
		b.WriteByte('|')
		b.WriteString(string(m.ID))
	}
	return b.String()
}

func conversationsFingerprint(convs []domainchat.Conversation) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(convs)))
	for _, c := range convs {
		b.WriteByte('|')
		b.WriteString(string(c.ID))
		b.WriteByte('@')
		b.WriteString(strconv.FormatInt(c.UpdatedAt.UnixNano(), 10))
	}
	return b.String()
}
