package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// publishMessage publishes body on subject with a not-before header and returns
// the stream sequence it was stored at.
func publishMessage(ctx context.Context, js jetstream.JetStream, subject string, body []byte, notBefore time.Time) (uint64, error) {
	msg := nats.NewMsg(subject)
	msg.Data = body
	setNotBefore(msg.Header, notBefore)

	ack, err := js.PublishMsg(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", subject, err)
	}
	return ack.Sequence, nil
}
