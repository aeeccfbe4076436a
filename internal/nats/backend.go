// Package nats implements the scheduler's queue and record store on NATS
// JetStream, and publishes job events on NATS core subjects.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

// Backend owns the NATS connection shared by the queue, the record store and the
// event broker.
type Backend struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	queue  *Queue
	store  *RecordStore
	events *PubSubBroker
}

// New connects to NATS and sets up the stream, consumer and record bucket for a queue.
func New(natsURL string, opts QueueOptions) (*Backend, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("ojs-scheduler"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue, err := NewQueue(ctx, js, opts)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("setting up JetStream: %w", err)
	}
	store, err := NewRecordStore(ctx, js)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Backend{
		nc:     nc,
		js:     js,
		queue:  queue,
		store:  store,
		events: NewPubSubBroker(nc),
	}, nil
}

// Queue returns the JetStream queue provider.
func (b *Backend) Queue() *Queue { return b.queue }

// Store returns the KV record store provider.
func (b *Backend) Store() *RecordStore { return b.store }

// Events returns the event broker.
func (b *Backend) Events() *PubSubBroker { return b.events }

// Conn returns the underlying NATS connection.
func (b *Backend) Conn() *nats.Conn {
	return b.nc
}

func (b *Backend) Close() error {
	_ = b.events.Close()
	b.nc.Close()
	return nil
}

// Health reports connection status, a measured round trip and the queue depth.
func (b *Backend) Health() core.BackendHealth {
	if status := b.nc.Status(); status != nats.CONNECTED {
		return core.BackendHealth{
			Type:   "nats",
			Status: "disconnected",
			Error:  fmt.Sprintf("NATS status: %v", status),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	depth, err := b.queue.Depth(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return core.BackendHealth{Type: "nats", Status: "degraded", LatencyMs: latency, Error: err.Error()}
	}
	d := int64(depth)
	leased := int64(b.queue.Leased())
	return core.BackendHealth{Type: "nats", Status: "connected", LatencyMs: latency, QueueDepth: &d, Inflight: &leased}
}
