package nats

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// delivery is one leased message. Once its content or lease is changed beyond
// what JetStream can express on a delivery, the message is republished and msg
// is nil; seq then points at the republished copy, which stays hidden until
// deadline by its not-before header.
type delivery struct {
	mu       sync.Mutex
	msg      jetstream.Msg
	seq      uint64
	body     []byte
	deadline time.Time
}

// inflightTable tracks leased deliveries by receipt.
type inflightTable struct {
	entries sync.Map // map[string]*delivery
}

func (t *inflightTable) track(receipt string, d *delivery) {
	t.entries.Store(receipt, d)
}

// lookup returns the delivery for a receipt whose lease has not expired.
func (t *inflightTable) lookup(receipt string, now time.Time) (*delivery, bool) {
	v, ok := t.entries.Load(receipt)
	if !ok {
		return nil, false
	}
	d := v.(*delivery)
	d.mu.Lock()
	expired := !now.Before(d.deadline)
	d.mu.Unlock()
	if expired {
		t.entries.Delete(receipt)
		return nil, false
	}
	return d, true
}

func (t *inflightTable) release(receipt string) {
	t.entries.Delete(receipt)
}

// sweep drops deliveries whose lease has expired.
func (t *inflightTable) sweep(now time.Time) {
	t.entries.Range(func(k, v any) bool {
		d := v.(*delivery)
		d.mu.Lock()
		expired := !now.Before(d.deadline)
		d.mu.Unlock()
		if expired {
			t.entries.Delete(k)
		}
		return true
	})
}

func (t *inflightTable) len() int {
	n := 0
	t.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
