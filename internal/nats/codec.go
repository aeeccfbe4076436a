package nats

import (
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/openjobspec/ojs-scheduler/internal/core"
	"github.com/openjobspec/ojs-scheduler/internal/kv"
)

func setNotBefore(h nats.Header, t time.Time) {
	h.Set(HeaderNotBefore, strconv.FormatInt(t.UnixMilli(), 10))
}

// notBefore reads the earliest delivery time. Messages without the header are
// due immediately.
func notBefore(h nats.Header) (time.Time, bool) {
	v := h.Get(HeaderNotBefore)
	if v == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// encodeRecord serializes a job record for the KV bucket.
func encodeRecord(rec *core.JobRecord) ([]byte, error) {
	return core.MarshalJobRecord(rec)
}

// decodeRecord deserializes a KV entry and stamps its revision as the ETag.
func decodeRecord(data []byte, rev uint64) (*core.JobRecord, error) {
	rec, err := core.UnmarshalJobRecord(data)
	if err != nil {
		return nil, err
	}
	rec.ETag = kv.FormatRevision(rev)
	return rec, nil
}
