package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

func TestRecordKeyRoundTrip(t *testing.T) {
	id := core.NewUUIDv7()
	key := RecordKey("merchant.payout-report", id)
	jobType, jobID, ok := SplitRecordKey(key)
	if !ok || jobType != "merchant.payout-report" || jobID != id {
		t.Fatalf("SplitRecordKey(%q) = %q, %q, %v", key, jobType, jobID, ok)
	}
	for _, bad := range []string{"", "noseparator", ".leading", "trailing."} {
		if _, _, ok := SplitRecordKey(bad); ok {
			t.Errorf("SplitRecordKey(%q) should fail", bad)
		}
	}
}

func TestSubjectNames(t *testing.T) {
	if got := QueueSubject("default"); got != "ojs.sched.default.jobs" {
		t.Errorf("QueueSubject = %q", got)
	}
	if got := StreamName("default"); got != "OJS_SCHED_default" {
		t.Errorf("StreamName = %q", got)
	}
	if got := EventTypeSubject("report.daily"); got != "ojs.sched.events.type.report.daily" {
		t.Errorf("EventTypeSubject = %q", got)
	}
}

func TestValidateQueueName(t *testing.T) {
	for _, ok := range []string{"default", "eu-west_1"} {
		if err := ValidateQueueName(ok); err != nil {
			t.Errorf("ValidateQueueName(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a.b", "a b", "a>", "*"} {
		if err := ValidateQueueName(bad); err == nil {
			t.Errorf("ValidateQueueName(%q) should fail", bad)
		}
	}
}

func TestNotBeforeHeader(t *testing.T) {
	h := nats.Header{}
	if _, ok := notBefore(h); ok {
		t.Fatal("missing header should be due immediately")
	}
	at := time.Date(2025, 6, 1, 12, 0, 0, 123_000_000, time.UTC)
	setNotBefore(h, at)
	got, ok := notBefore(h)
	if !ok || !got.Equal(at) {
		t.Fatalf("notBefore = %v, %v; want %v", got, ok, at)
	}
	h.Set(HeaderNotBefore, "garbage")
	if _, ok := notBefore(h); ok {
		t.Fatal("garbage header should be ignored")
	}
}

func TestDecodeRecordStampsRevision(t *testing.T) {
	rec := &core.JobRecord{JobID: core.NewUUIDv7(), JobType: "a.b", State: core.StateRunning, Version: 3, Recurrence: core.OneShot()}
	data, err := encodeRecord(rec)
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}
	got, err := decodeRecord(data, 17)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if got.ETag != "17" || got.Version != 3 || got.JobID != rec.JobID {
		t.Errorf("decoded %+v", got)
	}
}

func TestInflightTableExpiry(t *testing.T) {
	var table inflightTable
	now := time.Now()
	table.track("a", &delivery{seq: 1, deadline: now.Add(time.Second)})
	table.track("b", &delivery{seq: 2, deadline: now.Add(-time.Second)})

	if _, ok := table.lookup("a", now); !ok {
		t.Error("live delivery not found")
	}
	if _, ok := table.lookup("b", now); ok {
		t.Error("expired delivery returned")
	}
	if _, ok := table.lookup("a", now.Add(time.Second)); ok {
		t.Error("delivery returned at its deadline")
	}
	table.track("c", &delivery{seq: 3, deadline: now.Add(-time.Millisecond)})
	table.sweep(now)
	if n := table.len(); n != 0 {
		t.Errorf("len after sweep = %d, want 0", n)
	}
}
