// Package scheduler coordinates a delay queue and a record store to run one-shot
// and recurring jobs with at-least-once delivery.
//
// The record store is the source of truth. Queue messages only say "wake up at
// this time for this version"; every dequeued message is checked against the
// current record and discarded when it no longer matches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openjobspec/ojs-scheduler/internal/core"
	"github.com/openjobspec/ojs-scheduler/internal/metrics"
)

// DefaultLease is the time a worker has to process an occurrence before redelivery.
const DefaultLease = 5 * time.Minute

// maxConflictRetries bounds the read-modify-write loop of CompleteJobIteration.
const maxConflictRetries = 3

var (
	ErrNilQueue = errors.New("scheduler: queue provider must not be nil")
	ErrNilStore = errors.New("scheduler: record store provider must not be nil")
)

// Scheduler implements the producer and worker operations.
type Scheduler struct {
	queue    core.QueueProvider
	store    core.RecordStoreProvider
	events   core.EventPublisher
	clock    func() time.Time
	lease    time.Duration
	anchored bool
	log      *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock used for delays and run times.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLease sets the lease taken by GetJobToProcess. The NATS queue leases for its
// consumer AckWait only, so there it must match QueueOptions.Lease.
func WithLease(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithAnchoredRecurrence anchors later occurrences to the job's start time
// instead of advancing one interval from each completion.
func WithAnchoredRecurrence(anchored bool) Option {
	return func(s *Scheduler) {
		s.anchored = anchored
	}
}

// WithEventPublisher sets the destination for job events.
func WithEventPublisher(p core.EventPublisher) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.events = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns a Scheduler over the given providers.
func New(queue core.QueueProvider, store core.RecordStoreProvider, opts ...Option) (*Scheduler, error) {
	if queue == nil {
		return nil, ErrNilQueue
	}
	if store == nil {
		return nil, ErrNilStore
	}
	s := &Scheduler{
		queue:  queue,
		store:  store,
		events: core.NopPublisher{},
		clock:  time.Now,
		lease:  DefaultLease,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lease returns the lease duration used by GetJobToProcess.
func (s *Scheduler) Lease() time.Duration {
	return s.lease
}

// ScheduleJob writes a new Running record at version 1 and enqueues its first
// occurrence. A failure after the record is written is logged for reconciliation
// and returned; nothing is rolled back.
func (s *Scheduler) ScheduleJob(ctx context.Context, req *core.ScheduleRequest) (*core.JobRecord, error) {
	if err := core.ValidateScheduleRequest(req); err != nil {
		return nil, err
	}

	now := s.clock()
	recurrence := core.OneShot()
	if req.Recurrence != nil {
		recurrence = *req.Recurrence
	}
	start := now
	if req.StartTime != nil && !req.StartTime.IsZero() {
		start = *req.StartTime
	}
	jobID := req.JobID
	if jobID == "" {
		jobID = core.NewUUIDv7()
	}

	rec := &core.JobRecord{
		JobID:          jobID,
		JobType:        req.JobType,
		State:          core.StateRunning,
		Version:        1,
		Recurrence:     recurrence.Normalize(),
		StartTime:      start,
		Payload:        req.Payload,
		JobDescription: req.JobDescription,
	}

	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert job record %s: %w", rec.JobID, err)
	}

	delay := rec.Recurrence.ComputeNextDelay(now, rec.StartTime, 0, s.anchored)
	if err := s.enqueue(ctx, rec, delay); err != nil {
		s.reconcileFailure("schedule", rec, err)
		return nil, fmt.Errorf("enqueue first occurrence of %s: %w", rec.JobID, err)
	}

	metrics.JobsScheduled.WithLabelValues(rec.JobType).Inc()
	s.log.Info("job scheduled",
		"job_id", rec.JobID,
		"job_type", rec.JobType,
		"frequency", rec.Recurrence.Frequency.String(),
		"delay", delay.String(),
	)
	s.publish(core.EventJobScheduled, rec)
	return rec, nil
}

// GetJobToProcess makes one dequeue attempt. It returns nil, nil when the queue is
// empty or when the dequeued message was orphaned or superseded; such messages are
// deleted and logged. A non-nil result holds the lease on its message.
func (s *Scheduler) GetJobToProcess(ctx context.Context) (*core.JobDetails, error) {
	msg, err := s.queue.Dequeue(ctx, s.lease)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if msg == nil {
		return nil, nil
	}
	metrics.MessagesDequeued.Inc()

	details, err := core.UnmarshalJobDetails(msg.Body)
	if err != nil {
		s.discard(ctx, msg, metrics.ReasonPoison, core.NewInconsistencyError(
			"queue message does not decode as job details",
			map[string]any{"message_id": msg.ID, "error": err.Error()},
		))
		return nil, nil
	}
	details.Message = msg

	rec, err := s.store.Retrieve(ctx, details.JobType, details.JobID)
	if err != nil {
		if core.IsNotFound(err) {
			s.discard(ctx, msg, metrics.ReasonOrphaned, core.NewInconsistencyError(
				"no job record for dequeued message",
				map[string]any{"job_id": details.JobID, "job_type": details.JobType},
			))
			return nil, nil
		}
		// The lease expires and the message is redelivered.
		return nil, fmt.Errorf("retrieve job record %s: %w", details.JobID, err)
	}

	if rec.Version != details.Version {
		s.discard(ctx, msg, metrics.ReasonStale, core.NewInconsistencyError(
			"message version superseded",
			map[string]any{"job_id": rec.JobID, "message_version": details.Version, "record_version": rec.Version},
		))
		return nil, nil
	}
	if rec.State != core.StateRunning {
		s.discard(ctx, msg, metrics.ReasonInactive, core.NewInconsistencyError(
			"job is not running",
			map[string]any{"job_id": rec.JobID, "state": string(rec.State)},
		))
		return nil, nil
	}

	return details, nil
}

// CompleteJobIteration acknowledges one occurrence, advances the record's
// progress and enqueues the next occurrence when one remains.
//
// The record is written before the next message is enqueued, so a retried
// write never produces two messages for the same version. The next occurrence is
// only enqueued while the record is Running at the completing message's version;
// after an UpdateJob the update's own message carries the schedule forward.
func (s *Scheduler) CompleteJobIteration(ctx context.Context, details *core.JobDetails) error {
	if details == nil || details.Message == nil {
		return core.NewValidationError("job details with a leased message are required.", nil)
	}

	if err := s.queue.Delete(ctx, details.Message); err != nil {
		if !core.IsNotFound(err) {
			return fmt.Errorf("delete message for %s: %w", details.JobID, err)
		}
		s.log.Warn("completed message no longer leased; lease may have expired",
			"job_id", details.JobID, "message_id", details.Message.ID)
	}

	now := s.clock()
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		rec, err := s.store.Retrieve(ctx, details.JobType, details.JobID)
		if err != nil {
			if core.IsNotFound(err) {
				s.log.Info("job record gone; nothing to complete", "job_id", details.JobID, "job_type", details.JobType)
				return nil
			}
			return fmt.Errorf("retrieve job record %s: %w", details.JobID, err)
		}
		if rec.State.IsTerminal() {
			s.log.Info("job already terminal; iteration not recorded",
				"job_id", rec.JobID, "state", string(rec.State))
			return nil
		}

		rec.Count++
		rec.LastRunTime = now
		enqueueNext := false
		if rec.Recurrence.IsExhausted(rec.Count) {
			rec.State = core.StateCompleted
			rec.Payload = nil
		} else if rec.State == core.StateRunning && rec.Version == details.Version {
			enqueueNext = true
		}

		if err := s.store.Replace(ctx, rec); err != nil {
			if core.IsConflict(err) {
				metrics.StoreConflicts.WithLabelValues("complete").Inc()
				s.log.Debug("complete iteration conflicted; retrying", "job_id", rec.JobID, "attempt", attempt+1)
				continue
			}
			return fmt.Errorf("replace job record %s: %w", rec.JobID, err)
		}

		metrics.IterationsCompleted.WithLabelValues(rec.JobType).Inc()
		s.publish(core.EventJobIterationCompleted, rec)
		if rec.State == core.StateCompleted {
			metrics.JobsCompleted.WithLabelValues(rec.JobType).Inc()
			s.log.Info("job completed", "job_id", rec.JobID, "job_type", rec.JobType, "occurrences", rec.Count)
			s.publish(core.EventJobCompleted, rec)
			return nil
		}
		if !enqueueNext {
			return nil
		}

		delay := rec.Recurrence.ComputeNextDelay(now, rec.StartTime, rec.Count, s.anchored)
		if err := s.enqueue(ctx, rec, delay); err != nil {
			s.reconcileFailure("complete", rec, err)
			return fmt.Errorf("enqueue next occurrence of %s: %w", rec.JobID, err)
		}
		s.log.Debug("next occurrence enqueued", "job_id", rec.JobID, "occurrence", rec.Count+1, "delay", delay.String())
		return nil
	}

	return core.NewConflictError("job record kept changing while completing an iteration.",
		map[string]any{"job_id": details.JobID, "attempts": maxConflictRetries})
}

// UpdateJob changes state, payload, recurrence or description and bumps the
// version. A Running result enqueues a message for the new version; messages for
// older versions are left in the queue and discarded when they surface.
func (s *Scheduler) UpdateJob(ctx context.Context, req *core.UpdateRequest) (*core.JobRecord, error) {
	if err := core.ValidateUpdateRequest(req); err != nil {
		return nil, err
	}

	rec, err := s.store.Retrieve(ctx, req.JobType, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("retrieve job record %s: %w", req.JobID, err)
	}
	if req.StartTime != nil && !req.StartTime.Equal(rec.StartTime) {
		return nil, core.NewValidationError("start_time is immutable.", map[string]any{
			"field":      "start_time",
			"start_time": core.FormatTime(rec.StartTime),
		})
	}
	if rec.State.IsTerminal() {
		return nil, core.NewValidationError(
			fmt.Sprintf("Job is %s; no transition leaves a terminal state.", rec.State),
			map[string]any{"job_id": rec.JobID, "state": string(rec.State)},
		)
	}

	rec.State = req.State
	rec.Version++
	if req.Payload != nil {
		rec.Payload = *req.Payload
	}
	if req.Recurrence != nil {
		rec.Recurrence = req.Recurrence.Normalize()
	}
	if req.JobDescription != nil {
		rec.JobDescription = *req.JobDescription
	}
	if rec.State == core.StateRunning && rec.Recurrence.IsExhausted(rec.Count) {
		rec.State = core.StateCompleted
		rec.Payload = nil
	}

	if err := s.store.Replace(ctx, rec); err != nil {
		if core.IsConflict(err) {
			metrics.StoreConflicts.WithLabelValues("update").Inc()
		}
		return nil, fmt.Errorf("replace job record %s: %w", rec.JobID, err)
	}
	metrics.JobsUpdated.WithLabelValues(string(rec.State)).Inc()
	s.log.Info("job updated", "job_id", rec.JobID, "job_type", rec.JobType, "state", string(rec.State), "version", rec.Version)
	s.publish(core.EventJobUpdated, rec)
	if rec.State == core.StateCompleted {
		metrics.JobsCompleted.WithLabelValues(rec.JobType).Inc()
		s.publish(core.EventJobCompleted, rec)
	}

	if rec.State == core.StateRunning {
		now := s.clock()
		delay := rec.Recurrence.ComputeNextDelay(now, rec.StartTime, rec.Count, s.anchored)
		if err := s.enqueue(ctx, rec, delay); err != nil {
			s.reconcileFailure("update", rec, err)
			return nil, fmt.Errorf("enqueue version %d of %s: %w", rec.Version, rec.JobID, err)
		}
	}
	return rec, nil
}

// UpdateJobPayload rewrites the payload on the record and on the leased message
// in place, keeping the version and the message's position.
//
// It is not safe for concurrent callers on the same job: interleaved calls can
// leave the record and the message with different payloads. Callers serialize.
func (s *Scheduler) UpdateJobPayload(ctx context.Context, details *core.JobDetails) error {
	if details == nil || details.Message == nil {
		return core.NewValidationError("job details with a leased message are required.", nil)
	}
	if err := core.ValidatePayload(details.Payload); err != nil {
		return err
	}

	rec, err := s.store.Retrieve(ctx, details.JobType, details.JobID)
	if err != nil {
		return fmt.Errorf("retrieve job record %s: %w", details.JobID, err)
	}
	if rec.Version != details.Version {
		return core.NewConflictError("Message version is no longer current.", map[string]any{
			"job_id":          rec.JobID,
			"message_version": details.Version,
			"record_version":  rec.Version,
		})
	}

	rec.Payload = details.Payload
	if err := s.store.Replace(ctx, rec); err != nil {
		if core.IsConflict(err) {
			metrics.StoreConflicts.WithLabelValues("update_payload").Inc()
		}
		return fmt.Errorf("replace job record %s: %w", rec.JobID, err)
	}

	body, err := core.MarshalJobDetails(details)
	if err != nil {
		return fmt.Errorf("marshal job details: %w", err)
	}
	if err := s.queue.UpdateContent(ctx, details.Message, body); err != nil {
		s.reconcileFailure("update_payload", rec, err)
		return fmt.Errorf("update message content for %s: %w", rec.JobID, err)
	}
	return nil
}

// IncreaseVisibilityTimeout extends the lease on the message a worker holds. It
// must be called before the current lease expires.
func (s *Scheduler) IncreaseVisibilityTimeout(ctx context.Context, details *core.JobDetails, lease time.Duration) error {
	if details == nil || details.Message == nil {
		return core.NewValidationError("job details with a leased message are required.", nil)
	}
	if lease <= 0 {
		return core.NewValidationError("lease must be positive.", map[string]any{"lease": lease.String()})
	}
	if err := s.queue.ExtendLease(ctx, details.Message, lease); err != nil {
		return fmt.Errorf("extend lease for %s: %w", details.JobID, err)
	}
	return nil
}

func (s *Scheduler) enqueue(ctx context.Context, rec *core.JobRecord, delay time.Duration) error {
	body, err := core.MarshalJobDetails(rec.Details())
	if err != nil {
		return fmt.Errorf("marshal job details: %w", err)
	}
	return s.queue.Enqueue(ctx, body, delay)
}

func (s *Scheduler) discard(ctx context.Context, msg *core.QueueMessage, reason string, cause *core.Error) {
	metrics.MessagesDiscarded.WithLabelValues(reason).Inc()
	if err := s.queue.Delete(ctx, msg); err != nil && !core.IsNotFound(err) {
		s.log.Warn("failed to delete discarded message; it will surface again",
			"message_id", msg.ID, "reason", reason, "error", err)
		return
	}
	s.log.Info("discarded queue message", "message_id", msg.ID, "reason", reason, "detail", cause.Message, "details", cause.Details)
}

func (s *Scheduler) reconcileFailure(op string, rec *core.JobRecord, err error) {
	metrics.ReconcileFailures.WithLabelValues(op).Inc()
	s.log.Error("job record written but queue operation failed",
		"reconcile", true,
		"operation", op,
		"job_id", rec.JobID,
		"job_type", rec.JobType,
		"version", rec.Version,
		"state", string(rec.State),
		"error", err,
	)
}

func (s *Scheduler) publish(eventType string, rec *core.JobRecord) {
	if err := s.events.PublishJobEvent(core.NewJobEvent(eventType, rec)); err != nil {
		s.log.Warn("failed to publish job event", "event", eventType, "job_id", rec.JobID, "error", err)
	}
}
