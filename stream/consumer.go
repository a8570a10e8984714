// Package stream consumes partition records in batches.
package stream

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type consumer struct {
	opts ConsumerOpts
}
type consumerOpts func(*ConsumerOpts)

// Committer stores the offset a consumer will resume from.
type Committer interface {
	Commit(ctx context.Context, next uint64) error
}

func FromOffset(o int64) consumerOpts {
	return func(c *ConsumerOpts) { c.FromOffset = o }
}
func WithMaxRecordCount(o int64) consumerOpts {
	return func(c *ConsumerOpts) { c.MaxRecordCount = o }
}
func WithMaxBatchSize(v int) consumerOpts {
	return func(c *ConsumerOpts) { c.MaxBatchSize = v }
}
func WithEOFBehaviour(v eofBehaviour) consumerOpts {
	return func(c *ConsumerOpts) { c.EOFBehaviour = v }
}
func WithPollInterval(v time.Duration) consumerOpts {
	return func(c *ConsumerOpts) { c.PollInterval = v }
}
func WithName(v string) consumerOpts {
	return func(c *ConsumerOpts) { c.Name = v }
}

// WithCommitter commits the offset following each successfully processed batch.
func WithCommitter(committer Committer) consumerOpts {
	return func(c *ConsumerOpts) {
		c.Middleware = append(c.Middleware, func(p Processor, _ ConsumerOpts) Processor {
			return func(ctx context.Context, batch Batch) error {
				if err := p(ctx, batch); err != nil {
					return err
				}
				return committer.Commit(ctx, batch.NextOffset())
			}
		})
	}
}
func WithPerformanceLogging(latenessEstimator LatenessEstimator, logger *zap.Logger) consumerOpts {
	return func(c *ConsumerOpts) {
		c.Middleware = append(c.Middleware, func(p Processor, opts ConsumerOpts) Processor {
			l := logger
			if (opts.Name) != "" {
				l = l.With(zap.String("consumer_name", opts.Name))
			}
			l = l.With(
				zap.Int("consumer_max_batch_size", opts.MaxBatchSize),
			)
			return PerformanceLogger(latenessEstimator, l, p)
		})
	}
}

type Consumer interface {
	Consume(ctx context.Context, source Source, processor Processor) error
}

func NewConsumer(opts ...consumerOpts) Consumer {
	config := ConsumerOpts{
		MaxBatchSize:   10,
		EOFBehaviour:   EOFBehaviourPoll,
		FromOffset:     0,
		MaxRecordCount: -1,
		PollInterval:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return consumer{opts: config}
}

func (c consumer) Consume(ctx context.Context, source Source, processor Processor) error {
	return consume(ctx, source, c.opts, processor)
}
