package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// SetupJetStream creates the stream for a queue and the record bucket.
func SetupJetStream(ctx context.Context, js jetstream.JetStream, queue string) error {
	// Messages live until a worker acknowledges them; a recurring job's wake-up
	// can be weeks away, so there is no MaxAge.
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName(queue),
		Subjects:  []string{QueueSubject(queue)},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", StreamName(queue), err)
	}

	if _, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  BucketRecords,
		Storage: jetstream.FileStorage,
		History: 1,
	}); err != nil {
		return fmt.Errorf("creating KV bucket %s: %w", BucketRecords, err)
	}

	return nil
}

// EnsureConsumer creates or updates the pull consumer for a queue. AckWait is the
// lease; deliveries are retried until acknowledged.
func EnsureConsumer(ctx context.Context, js jetstream.JetStream, queue string, lease time.Duration) (jetstream.Consumer, error) {
	consumer, err := js.CreateOrUpdateConsumer(ctx, StreamName(queue), jetstream.ConsumerConfig{
		Durable:       ConsumerName(queue),
		FilterSubject: QueueSubject(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       lease,
		MaxDeliver:    -1,
		// Not-yet-due messages are held back with NakWithDelay and stay pending.
		MaxAckPending: -1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer for queue %s: %w", queue, err)
	}
	return consumer, nil
}
