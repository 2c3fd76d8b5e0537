package host

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Orphan is a delivery left running by a worker that went away.
type Orphan struct {
	ID        string
	JobID     string
	Claims    int
	ClaimedAt *time.Time
}

// Orphans returns deliveries for target still marked running. Only meaningful
// while the caller holds the worker lock for the database.
func (m *Mailbox) Orphans(ctx context.Context, target string) ([]Orphan, error) {
	rows, err := m.db.QueryContext(ctx, `
SELECT id, job_id, claims, claimed_at
FROM mailbox
WHERE target = ? AND status = ?
ORDER BY created_at ASC, rowid ASC;
`, target, StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("find orphaned deliveries: %w", err)
	}
	defer rows.Close()

	var out []Orphan
	for rows.Next() {
		var o Orphan
		var claimedAt sql.NullString
		if err := rows.Scan(&o.ID, &o.JobID, &o.Claims, &claimedAt); err != nil {
			return nil, fmt.Errorf("scan orphaned delivery: %w", err)
		}
		o.ClaimedAt = parseNullTime(claimedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Requeue puts a running delivery back in the queue. It keeps its position
// because ordering is by created_at.
func (m *Mailbox) Requeue(ctx context.Context, deliveryID string) error {
	res, err := m.db.ExecContext(ctx, `
UPDATE mailbox
SET status = ?, claimed_at = NULL
WHERE id = ? AND status = ?;
`, StatusQueued, deliveryID, StatusRunning)
	if err != nil {
		return fmt.Errorf("requeue delivery: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("requeue delivery %q: %w", deliveryID, ErrJobNotFound)
	}
	return nil
}

// Prune deletes finished deliveries completed before cutoff.
func (m *Mailbox) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
DELETE FROM mailbox
WHERE status IN (?, ?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?;
`, StatusSucceeded, StatusFailed, StatusCancelled, StatusRejected, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune mailbox: %w", err)
	}
	return res.RowsAffected()
}
