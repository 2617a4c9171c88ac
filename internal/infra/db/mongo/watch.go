package mongo

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketchat/internal/app/stream"
)

const watchBuffer = 4

type watchSpec[T any] struct {
	name       string
	collection *mongo.Collection
	pipeline   mongo.Pipeline
	// lookup requests the post-image of updates so pipelines can match on it.
	lookup bool
	load   func(ctx context.Context) (T, error)
}

// watch opens a change stream and republishes the full query result after
// every matching change. The stream is opened before the initial load so no
// change between the two is missed. When the change stream fails the error
// is delivered and the feed is closed; the live view resubscribes.
func watch[T any](ctx context.Context, logger *slog.Logger, spec watchSpec[T]) (stream.Subscription[T], error) {
	opts := options.ChangeStream()
	if spec.lookup {
		opts.SetFullDocument(options.UpdateLookup)
	}
	cs, err := spec.collection.Watch(ctx, spec.pipeline, opts)
	if err != nil {
		return nil, classify(err)
	}
	initial, err := spec.load(ctx)
	if err != nil {
		_ = cs.Close(context.Background())
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	feed := stream.NewFeed[T](watchBuffer, cancel)
	feed.Snapshot(initial)

	go func() {
		defer feed.Close()
		defer cs.Close(context.Background())
		for cs.Next(watchCtx) {
			snapshot, err := spec.load(watchCtx)
			if err != nil {
				if watchCtx.Err() != nil {
					return
				}
				feed.Fail(err)
				continue
			}
			if !feed.Snapshot(snapshot) {
				return
			}
		}
		if err := cs.Err(); err != nil && watchCtx.Err() == nil {
			if logger != nil {
				logger.Warn("change stream ended", "stream", spec.name, "error", err)
			}
			feed.Fail(classify(err))
		}
	}()
	return feed, nil
}
