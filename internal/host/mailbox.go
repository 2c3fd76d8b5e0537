package host

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/uplink/internal/protocol"
)

// Mailbox stores launch messages until the worker owning their target claims them.
type Mailbox struct {
	db *sql.DB
}

func NewMailbox(db *sql.DB) *Mailbox {
	return &Mailbox{db: db}
}

// StartBackground queues msg for best-effort background processing.
func (m *Mailbox) StartBackground(ctx context.Context, msg *protocol.Message) error {
	return m.deliver(ctx, ModeBackground, msg)
}

// StartForeground queues msg flagged for foreground processing.
func (m *Mailbox) StartForeground(ctx context.Context, msg *protocol.Message) error {
	return m.deliver(ctx, ModeForeground, msg)
}

func (m *Mailbox) deliver(ctx context.Context, mode Mode, msg *protocol.Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	if msg.Target == "" {
		return fmt.Errorf("message has no target")
	}

	var buf bytes.Buffer
	if err := protocol.WriteMessage(&buf, msg); err != nil {
		return err
	}

	now := formatTime(time.Now())
	_, err := m.db.ExecContext(ctx, `
INSERT INTO mailbox(id, job_id, mode, target, job_kind, message, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), jobIDOf(msg), mode, msg.Target, msg.JobKind, buf.String(), StatusQueued, now)
	if err != nil {
		return fmt.Errorf("deliver launch message: %w", err)
	}
	return nil
}

// jobIDOf peeks at the parameter bundle for status lookups. Validation is the
// codec's job; an unreadable bundle just yields an empty id.
func jobIDOf(msg *protocol.Message) string {
	var peek struct {
		ID string `json:"id"`
	}
	if len(msg.Parameters) == 0 || json.Unmarshal(msg.Parameters, &peek) != nil {
		return ""
	}
	return peek.ID
}

// Claim marks the oldest queued delivery for target as running and returns
// it. Returns (nil, nil) if nothing is queued.
func (m *Mailbox) Claim(ctx context.Context, target string) (*Delivery, error) {
	now := formatTime(time.Now())

	row := m.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM mailbox
  WHERE target = ? AND status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE mailbox
SET status = ?, claimed_at = ?, claims = claims + 1
WHERE id IN (SELECT id FROM next)
RETURNING id, job_id, mode, target, message, claims, created_at;
`, target, StatusQueued, StatusRunning, now)

	var (
		d          Delivery
		mode       string
		raw        string
		createdAtS string
	)
	err := row.Scan(&d.ID, &d.JobID, &mode, &d.Target, &raw, &d.Claims, &createdAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim delivery: %w", err)
	}

	d.Mode = Mode(mode)
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		d.CreatedAt = t
	}
	if msg, err := protocol.ReadMessage(bytes.NewReader([]byte(raw))); err == nil {
		d.Message = msg
	}
	return &d, nil
}

// Complete records the terminal status of a claimed delivery.
func (m *Mailbox) Complete(ctx context.Context, deliveryID string, status Status, lastError *string) error {
	if deliveryID == "" {
		return fmt.Errorf("deliveryID is empty")
	}
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	completedAt := formatTime(time.Now())
	res, err := m.db.ExecContext(ctx, `
UPDATE mailbox
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, status, completedAt, lastError, deliveryID)
	if err != nil {
		return fmt.Errorf("update delivery completion: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("complete delivery %q: %w", deliveryID, ErrJobNotFound)
	}
	return nil
}

// CancelQueued marks queued deliveries of jobID for target as cancelled and
// returns how many it changed. Claimed deliveries are left alone.
func (m *Mailbox) CancelQueued(ctx context.Context, target, jobID string) (int64, error) {
	if jobID == "" {
		return 0, nil
	}
	res, err := m.db.ExecContext(ctx, `
UPDATE mailbox
SET status = ?, completed_at = ?
WHERE target = ? AND job_id = ? AND status = ?;
`, StatusCancelled, formatTime(time.Now()), target, jobID, StatusQueued)
	if err != nil {
		return 0, fmt.Errorf("cancel queued delivery: %w", err)
	}
	return res.RowsAffected()
}

// Get returns the launch record for jobID. A queued or running delivery wins
// over finished ones, so a rejected duplicate never hides a live job;
// otherwise the most recent record is returned.
func (m *Mailbox) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	row := m.db.QueryRowContext(ctx, `
SELECT job_id, job_kind, mode, target, status, created_at, claimed_at, completed_at, last_error
FROM mailbox
WHERE job_id = ?
ORDER BY CASE WHEN status IN (?, ?) THEN 0 ELSE 1 END, created_at DESC, rowid DESC
LIMIT 1;
`, jobID, StatusQueued, StatusRunning)

	var (
		r            JobRecord
		mode, status string
		createdAtS   string
		claimedAtS   sql.NullString
		completedAtS sql.NullString
		lastError    sql.NullString
	)
	err := row.Scan(&r.JobID, &r.Kind, &mode, &r.Target, &status, &createdAtS, &claimedAtS, &completedAtS, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	r.Mode = Mode(mode)
	r.Status = Status(status)
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		r.CreatedAt = t
	}
	r.ClaimedAt = parseNullTime(claimedAtS)
	r.CompletedAt = parseNullTime(completedAtS)
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	return &r, nil
}

// Depth returns the number of queued deliveries for target.
func (m *Mailbox) Depth(ctx context.Context, target string) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mailbox WHERE target = ? AND status = ?;`, target, StatusQueued).Scan(&n); err != nil {
		return 0, fmt.Errorf("mailbox depth: %w", err)
	}
	return n, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
