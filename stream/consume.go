package stream

import (
	"context"
)

// Processor is a function that will process stream records
type Processor func(context.Context, Batch) error

// consume starts a poller, and calls processor on each batch of records.
// It returns when ctx is cancelled, when processor fails, or when the poller stops.
func consume(ctx context.Context, source Source, opts ConsumerOpts, processor Processor) error {
	for _, middleware := range opts.Middleware {
		processor = middleware(processor, opts)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	poller := newPoller(ctx, source, opts)
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-poller.Ready():
			if !ok {
				return poller.Error()
			}
			err := processor(ctx, batch)
			if err != nil {
				return err
			}
		}
	}
}
