package stream

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LatenessEstimator returns the most recent known timestamp, in microseconds.
type LatenessEstimator interface {
	Latest() uint64
}

type wallClock struct{}

func (wallClock) Latest() uint64 {
	return uint64(time.Now().UnixNano() / int64(time.Microsecond))
}

// WallClock estimates lateness against the local clock.
func WallClock() LatenessEstimator {
	return wallClock{}
}

func lateness(latest, timestamp uint64) time.Duration {
	if latest < timestamp {
		return 0
	}
	return time.Duration(latest-timestamp) * time.Microsecond
}

func PerformanceLogger(latenessEstimator LatenessEstimator, logger *zap.Logger, processor Processor) Processor {
	return func(ctx context.Context, batch Batch) error {
		if len(batch.Records) > 0 {
			start := time.Now()
			err := processor(ctx, batch)
			l := logger.With(zap.Int("batch_size", len(batch.Records)),
				zap.Uint64("batch_first_offset", batch.FirstOffset),
				zap.Duration("batch_processing_time", time.Since(start)),
				zap.Duration("processor_lateness", lateness(latenessEstimator.Latest(), batch.LastTimestamp)))

			if err == nil {
				l.Debug("stream processed")
			} else {
				l.Error("stream processing failed", zap.Error(err))
			}
			return err
		}
		return nil
	}
}
