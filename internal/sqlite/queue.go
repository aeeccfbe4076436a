package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

var _ core.QueueProvider = (*Queue)(nil)

// Queue is a delay queue in the queue_messages table. A lease is a receipt plus
// a visible_at in the future; redelivery issues a new receipt.
type Queue struct {
	db    *sql.DB
	name  string
	clock func() time.Time
}

func (q *Queue) Enqueue(ctx context.Context, body []byte, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	now := q.clock()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_messages(queue, body, visible_at, dequeue_count, inserted_at) VALUES(?,?,?,0,?)`,
		q.name, body, now.Add(delay).UnixMilli(), now.UnixMilli(),
	)
	return transient("enqueue", err)
}

func (q *Queue) Dequeue(ctx context.Context, lease time.Duration) (*core.QueueMessage, error) {
	now := q.clock()
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transient("begin dequeue", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id, insertedAt, visibleAt int64
		count                     int
		body                      []byte
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, body, dequeue_count, inserted_at, visible_at FROM queue_messages
		 WHERE queue = ? AND visible_at <= ?
		 ORDER BY visible_at, id LIMIT 1`,
		q.name, now.UnixMilli(),
	).Scan(&id, &body, &count, &insertedAt, &visibleAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, transient("dequeue", err)
	}

	receipt := uuid.NewString()
	nextVisible := now.Add(lease)
	res, err := tx.ExecContext(ctx,
		`UPDATE queue_messages SET receipt = ?, visible_at = ?, dequeue_count = dequeue_count + 1
		 WHERE id = ? AND visible_at = ?`,
		receipt, nextVisible.UnixMilli(), id, visibleAt,
	)
	if err != nil {
		return nil, transient("lease message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Leased by another process between select and update.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, transient("commit dequeue", err)
	}

	return &core.QueueMessage{
		ID:            strconv.FormatInt(id, 10),
		Receipt:       receipt,
		Body:          body,
		DequeueCount:  count + 1,
		InsertedAt:    time.UnixMilli(insertedAt).UTC(),
		NextVisibleAt: time.UnixMilli(nextVisible.UnixMilli()).UTC(),
	}, nil
}

func (q *Queue) Delete(ctx context.Context, msg *core.QueueMessage) error {
	return q.leasedExec(ctx, msg, "delete message",
		`DELETE FROM queue_messages WHERE id = ? AND receipt = ?`)
}

func (q *Queue) UpdateContent(ctx context.Context, msg *core.QueueMessage, body []byte) error {
	if err := q.leasedExec(ctx, msg, "update message",
		`UPDATE queue_messages SET body = ? WHERE id = ? AND receipt = ?`, body); err != nil {
		return err
	}
	msg.Body = append([]byte(nil), body...)
	return nil
}

func (q *Queue) ExtendLease(ctx context.Context, msg *core.QueueMessage, lease time.Duration) error {
	visible := q.clock().Add(lease)
	if err := q.leasedExec(ctx, msg, "extend lease",
		`UPDATE queue_messages SET visible_at = ? WHERE id = ? AND receipt = ?`, visible.UnixMilli()); err != nil {
		return err
	}
	msg.NextVisibleAt = time.UnixMilli(visible.UnixMilli()).UTC()
	return nil
}

// leasedExec runs stmt with args followed by the message id and receipt, and
// reports not_found when no row still carries that receipt.
func (q *Queue) leasedExec(ctx context.Context, msg *core.QueueMessage, op, stmt string, args ...any) error {
	if msg == nil {
		return core.NewValidationError("queue message is required.", nil)
	}
	id, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil || msg.Receipt == "" {
		return core.NewNotFoundError("Queue message", msg.ID)
	}
	res, err := q.db.ExecContext(ctx, stmt, append(args, id, msg.Receipt)...)
	if err != nil {
		return transient(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NewNotFoundError("Queue message", msg.ID)
	}
	return nil
}

// Len returns the number of messages held, visible or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_messages WHERE queue = ?`, q.name).Scan(&n)
	return n, transient("count messages", err)
}
