package host

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/mattjoyce/uplink/internal/protocol"
	"github.com/mattjoyce/uplink/internal/signals"
)

// SignalBus carries signals to the worker owning their target namespace.
// A pending signal is keyed by (target, request code): sending again with
// the same key replaces the pending message instead of adding another.
type SignalBus struct {
	db *sql.DB
}

func NewSignalBus(db *sql.DB) *SignalBus {
	return &SignalBus{db: db}
}

// Send implements signals.Sender.
func (b *SignalBus) Send(ctx context.Context, sig signals.Signal) error {
	if sig.Message.Target == "" {
		return fmt.Errorf("signal has no target namespace")
	}

	var buf bytes.Buffer
	if err := protocol.WriteMessage(&buf, &sig.Message); err != nil {
		return err
	}

	now := formatTime(time.Now())
	_, err := b.db.ExecContext(ctx, `
INSERT INTO signal_outbox(target, request_code, message, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(target, request_code) DO UPDATE SET
  message = excluded.message,
  updated_at = excluded.updated_at;
`, sig.Message.Target, sig.RequestCode, buf.String(), now)
	if err != nil {
		return fmt.Errorf("send signal: %w", err)
	}
	return nil
}

// Drain removes and returns every pending signal for target, oldest first.
// Unreadable documents are dropped.
func (b *SignalBus) Drain(ctx context.Context, target string) ([]*protocol.Message, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
DELETE FROM signal_outbox
WHERE target = ?
RETURNING message, updated_at;
`, target)
	if err != nil {
		return nil, fmt.Errorf("drain signals: %w", err)
	}

	type pending struct {
		msg *protocol.Message
		at  string
	}
	var batch []pending
	for rows.Next() {
		var raw, at string
		if err := rows.Scan(&raw, &at); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		msg, err := protocol.ReadMessage(bytes.NewReader([]byte(raw)))
		if err != nil {
			continue
		}
		batch = append(batch, pending{msg: msg, at: at})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	_ = rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	// RETURNING order is unspecified.
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].at < batch[j].at })
	out := make([]*protocol.Message, 0, len(batch))
	for _, p := range batch {
		out = append(out, p.msg)
	}
	return out, nil
}
