package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

// HeaderEventType carries the event type so consumers can filter without decoding.
const HeaderEventType = "Ojs-Event-Type"

const eventBuffer = 64

// PubSubBroker publishes job events on NATS core subjects. Events are
// fire-and-forget: a consumer that is not subscribed when an event is published
// never sees it.
type PubSubBroker struct {
	nc *nats.Conn

	mu      sync.Mutex
	streams map[*EventStream]struct{}
}

// NewPubSubBroker creates a broker on nc.
func NewPubSubBroker(nc *nats.Conn) *PubSubBroker {
	return &PubSubBroker{nc: nc, streams: make(map[*EventStream]struct{})}
}

// PublishJobEvent sends event to the job, job type and global subjects. Only a
// failure on the job subject is returned; the fan-out subjects are best effort.
func (b *PubSubBroker) PublishJobEvent(event *core.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subjects := []string{
		EventJobSubject(event.JobID),
		EventTypeSubject(event.JobType),
		EventAllSubject(),
	}
	for i, subject := range subjects {
		msg := nats.NewMsg(subject)
		msg.Header.Set(HeaderEventType, event.Type)
		msg.Data = data
		if err := b.nc.PublishMsg(msg); err != nil {
			if i == 0 {
				return fmt.Errorf("publish event to %s: %w", subject, err)
			}
			slog.Warn("failed to fan out job event", "subject", subject, "job_id", event.JobID, "error", err)
		}
	}
	return nil
}

// EventStream is a live subscription. Events arrive on C until Close.
type EventStream struct {
	C <-chan *core.JobEvent

	broker *PubSubBroker
	sub    *nats.Subscription
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// Close stops the subscription and closes C.
func (s *EventStream) Close() {
	s.once.Do(func() {
		_ = s.sub.Unsubscribe()
		close(s.done)
		<-s.exited
		s.broker.forget(s)
	})
}

// SubscribeJob streams the events of one job.
func (b *PubSubBroker) SubscribeJob(jobID string) (*EventStream, error) {
	return b.Subscribe(EventJobSubject(jobID))
}

// SubscribeType streams the events of every job of a type.
func (b *PubSubBroker) SubscribeType(jobType string) (*EventStream, error) {
	return b.Subscribe(EventTypeSubject(jobType))
}

// SubscribeAll streams every event.
func (b *PubSubBroker) SubscribeAll() (*EventStream, error) {
	return b.Subscribe(EventAllSubject())
}

// Subscribe streams events published on subject. When the consumer falls
// behind, NATS drops messages for the slow subscription rather than blocking
// publishers.
func (b *PubSubBroker) Subscribe(subject string) (*EventStream, error) {
	raw := make(chan *nats.Msg, eventBuffer)
	sub, err := b.nc.ChanSubscribe(subject, raw)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	events := make(chan *core.JobEvent, eventBuffer)
	s := &EventStream{
		C:      events,
		broker: b,
		sub:    sub,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.decode(raw, events)

	b.mu.Lock()
	b.streams[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

func (s *EventStream) decode(raw <-chan *nats.Msg, events chan<- *core.JobEvent) {
	defer close(s.exited)
	defer close(events)
	for {
		select {
		case <-s.done:
			return
		case m := <-raw:
			var ev core.JobEvent
			if err := json.Unmarshal(m.Data, &ev); err != nil {
				slog.Warn("dropping undecodable job event", "subject", m.Subject, "error", err)
				continue
			}
			select {
			case events <- &ev:
			case <-s.done:
				return
			}
		}
	}
}

func (b *PubSubBroker) forget(s *EventStream) {
	b.mu.Lock()
	delete(b.streams, s)
	b.mu.Unlock()
}

// Close ends every open stream.
func (b *PubSubBroker) Close() error {
	b.mu.Lock()
	streams := make([]*EventStream, 0, len(b.streams))
	for s := range b.streams {
		streams = append(streams, s)
	}
	b.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	return nil
}
