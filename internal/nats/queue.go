package nats

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

// maxNotDueSkips bounds how many not-yet-due messages one Dequeue sets aside
// before reporting an empty queue.
const maxNotDueSkips = 16

var _ core.QueueProvider = (*Queue)(nil)

// QueueOptions configures a JetStream queue.
type QueueOptions struct {
	// Name selects the stream and consumer. Defaults to "default".
	Name string
	// Lease is the consumer's AckWait. Defaults to 5 minutes.
	Lease time.Duration
	// FetchWait bounds how long one fetch waits for a message. Defaults to 100ms.
	FetchWait time.Duration
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Queue is a delay queue on a JetStream work-queue stream.
//
// Delays are carried in a not-before header. A message delivered early is handed
// back with NakWithDelay for the remaining time. The lease is the consumer's
// AckWait: Dequeue's lease argument is only used when it matches, and extending a
// delivery by more than AckWait republishes it hidden behind a not-before header.
type Queue struct {
	js        jetstream.JetStream
	stream    jetstream.Stream
	consumer  jetstream.Consumer
	subject   string
	ackWait   time.Duration
	fetchWait time.Duration
	clock     func() time.Time
	inflight  inflightTable
	log       *slog.Logger
}

// NewQueue sets up the stream and consumer for a queue.
func NewQueue(ctx context.Context, js jetstream.JetStream, opts QueueOptions) (*Queue, error) {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if err := ValidateQueueName(opts.Name); err != nil {
		return nil, err
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.FetchWait <= 0 {
		opts.FetchWait = 100 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := SetupJetStream(ctx, js, opts.Name); err != nil {
		return nil, err
	}
	stream, err := js.Stream(ctx, StreamName(opts.Name))
	if err != nil {
		return nil, err
	}
	consumer, err := EnsureConsumer(ctx, js, opts.Name, opts.Lease)
	if err != nil {
		return nil, err
	}

	return &Queue{
		js:        js,
		stream:    stream,
		consumer:  consumer,
		subject:   QueueSubject(opts.Name),
		ackWait:   opts.Lease,
		fetchWait: opts.FetchWait,
		clock:     opts.Clock,
		log:       opts.Logger.With("queue", opts.Name),
	}, nil
}

func (q *Queue) Enqueue(ctx context.Context, body []byte, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	if _, err := publishMessage(ctx, q.js, q.subject, body, q.clock().Add(delay)); err != nil {
		return core.NewTransientError("enqueue", err)
	}
	return nil
}

// Dequeue takes the next due message. The consumer's AckWait is the lease, so a
// different lease is rejected rather than silently ignored.
func (q *Queue) Dequeue(ctx context.Context, lease time.Duration) (*core.QueueMessage, error) {
	if lease != q.ackWait {
		return nil, core.NewValidationError("lease must equal the consumer ack wait.", map[string]any{
			"lease":    lease.String(),
			"ack_wait": q.ackWait.String(),
		})
	}
	q.inflight.sweep(q.clock())

	for skips := 0; skips < maxNotDueSkips; skips++ {
		m, err := q.fetchOne(ctx)
		if err != nil || m == nil {
			return nil, err
		}

		now := q.clock()
		if nb, ok := notBefore(m.Headers()); ok && nb.After(now) {
			if err := m.NakWithDelay(nb.Sub(now)); err != nil {
				q.log.Warn("failed to defer message", "error", err)
			}
			continue
		}

		meta, err := m.Metadata()
		if err != nil {
			_ = m.Nak()
			return nil, core.NewTransientError("read message metadata", err)
		}

		receipt := uuid.NewString()
		deadline := now.Add(q.ackWait)
		q.inflight.track(receipt, &delivery{
			msg:      m,
			seq:      meta.Sequence.Stream,
			body:     m.Data(),
			deadline: deadline,
		})
		return &core.QueueMessage{
			ID:            strconv.FormatUint(meta.Sequence.Stream, 10),
			Receipt:       receipt,
			Body:          append([]byte(nil), m.Data()...),
			DequeueCount:  int(meta.NumDelivered),
			InsertedAt:    meta.Timestamp,
			NextVisibleAt: deadline,
		}, nil
	}
	return nil, nil
}

func (q *Queue) fetchOne(ctx context.Context) (jetstream.Msg, error) {
	batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(q.fetchWait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, core.NewTransientError("dequeue", err)
	}
	var m jetstream.Msg
	for msg := range batch.Messages() {
		m = msg
	}
	if m == nil {
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			return nil, core.NewTransientError("dequeue", err)
		}
	}
	return m, nil
}

func (q *Queue) Delete(ctx context.Context, msg *core.QueueMessage) error {
	d, err := q.leased(msg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.msg != nil {
		if err := d.msg.DoubleAck(ctx); err != nil {
			return core.NewTransientError("ack message", err)
		}
	} else if err := q.stream.DeleteMsg(ctx, d.seq); err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			q.inflight.release(msg.Receipt)
			return core.NewNotFoundError("Queue message", msg.ID)
		}
		return core.NewTransientError("delete message", err)
	}
	q.inflight.release(msg.Receipt)
	return nil
}

func (q *Queue) UpdateContent(ctx context.Context, msg *core.QueueMessage, body []byte) error {
	d, err := q.leased(msg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := q.replace(ctx, d, body, d.deadline); err != nil {
		return err
	}
	msg.ID = strconv.FormatUint(d.seq, 10)
	msg.Body = append([]byte(nil), body...)
	return nil
}

func (q *Queue) ExtendLease(ctx context.Context, msg *core.QueueMessage, lease time.Duration) error {
	d, err := q.leased(msg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := q.clock()
	if d.msg != nil && lease <= q.ackWait {
		// InProgress restarts the full AckWait.
		if err := d.msg.InProgress(); err != nil {
			return core.NewTransientError("extend lease", err)
		}
		d.deadline = now.Add(q.ackWait)
	} else {
		if err := q.replace(ctx, d, d.body, now.Add(lease)); err != nil {
			return err
		}
		msg.ID = strconv.FormatUint(d.seq, 10)
	}
	msg.NextVisibleAt = d.deadline
	return nil
}

// replace republishes the delivery's message with new content hidden until
// notBefore, then removes the original. d.mu must be held.
func (q *Queue) replace(ctx context.Context, d *delivery, body []byte, notBefore time.Time) error {
	seq, err := publishMessage(ctx, q.js, q.subject, body, notBefore)
	if err != nil {
		return core.NewTransientError("republish message", err)
	}

	if d.msg != nil {
		err = d.msg.DoubleAck(ctx)
	} else if err = q.stream.DeleteMsg(ctx, d.seq); errors.Is(err, jetstream.ErrMsgNotFound) {
		err = nil
	}
	if err != nil {
		if delErr := q.stream.DeleteMsg(ctx, seq); delErr != nil {
			q.log.Error("republished copy left beside original message",
				"reconcile", true, "seq", seq, "original_seq", d.seq, "error", delErr)
		}
		return core.NewTransientError("remove replaced message", err)
	}

	d.msg = nil
	d.seq = seq
	d.body = append([]byte(nil), body...)
	d.deadline = notBefore
	return nil
}

func (q *Queue) leased(msg *core.QueueMessage) (*delivery, error) {
	if msg == nil {
		return nil, core.NewValidationError("queue message is required.", nil)
	}
	d, ok := q.inflight.lookup(msg.Receipt, q.clock())
	if !ok {
		return nil, core.NewNotFoundError("Queue message", msg.ID)
	}
	return d, nil
}

// Depth returns the number of messages held by the stream, due or not.
func (q *Queue) Depth(ctx context.Context) (uint64, error) {
	info, err := q.stream.Info(ctx)
	if err != nil {
		return 0, core.NewTransientError("stream info", err)
	}
	return info.State.Msgs, nil
}

// Leased returns the number of deliveries this process currently holds.
func (q *Queue) Leased() int {
	return q.inflight.len()
}
