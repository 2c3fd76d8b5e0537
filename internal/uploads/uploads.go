// Package uploads provides the HTTP upload job kinds run by the worker.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/uplink/internal/protocol"
	"github.com/mattjoyce/uplink/internal/task"
)

const (
	KindMultipart = "multipart"
	KindBinary    = "binary"
)

// Register adds every upload kind to reg.
func Register(reg *task.Registry) error {
	for _, k := range []task.Kind{
		{Name: KindMultipart, Capability: task.CapabilityUpload, New: newMultipart},
		{Name: KindBinary, Capability: task.CapabilityUpload, New: newBinary},
	} {
		if err := reg.Register(k); err != nil {
			return err
		}
	}
	return nil
}

// body produces a fresh request body for one attempt.
type body func() (r io.ReadCloser, contentType string, size int64, err error)

type upload struct {
	kind      string
	exec      task.ExecContext
	params    protocol.Parameters
	slot      int
	observers task.Observers
	method    string
	build     body
	backoff   time.Duration
}

func newUpload(kind string, in task.Init, build func(*upload) body) (task.Job, error) {
	method := strings.ToUpper(in.Params.Method)
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return nil, &task.InitError{Kind: kind, Reason: fmt.Sprintf("unsupported method %q", in.Params.Method)}
	}

	u := &upload{
		kind:      kind,
		exec:      in.Exec,
		params:    in.Params,
		slot:      in.NotificationSlot,
		observers: task.Observers(in.Observers),
		method:    method,
		backoff:   2 * time.Second,
	}
	if u.exec.Client == nil {
		u.exec.Client = http.DefaultClient
	}
	u.build = build(u)
	return u, nil
}

func (u *upload) ID() string   { return u.params.ID }
func (u *upload) Kind() string { return u.kind }

// Run uploads with up to MaxRetries retries. Cancellation stops between and
// during attempts.
func (u *upload) Run(ctx context.Context) error {
	info := task.Info{JobID: u.params.ID, Kind: u.kind, StartedAt: time.Now().UTC()}
	u.observers.Start(info, u.slot, u.params.Notification)
	defer func() { u.observers.Completed(info) }()

	var lastErr error
	for attempt := 1; attempt <= u.params.MaxRetries+1; attempt++ {
		info.Attempt = attempt
		if attempt > 1 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				u.observers.Error(info, lastErr)
				return lastErr
			case <-time.After(u.backoff * time.Duration(attempt-1)):
			}
		}

		lastErr = u.attempt(ctx, &info)
		if lastErr == nil {
			u.observers.Success(info)
			u.cleanup()
			return nil
		}
		if ctx.Err() != nil || errors.Is(lastErr, errPermanent) {
			break
		}
		if u.exec.Logger != nil {
			u.exec.Logger.Warn("upload attempt failed", "job_id", u.params.ID, "attempt", attempt, "error", lastErr)
		}
	}

	if ctx.Err() != nil {
		lastErr = ctx.Err()
	}
	u.observers.Error(info, lastErr)
	return lastErr
}

var errPermanent = errors.New("permanent upload failure")

func (u *upload) attempt(ctx context.Context, info *task.Info) error {
	rc, contentType, size, err := u.build()
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	defer rc.Close()

	info.TotalBytes = size
	info.UploadedBytes = 0
	progress := &progressReader{r: rc, onRead: func(n int64) {
		info.UploadedBytes += n
		u.observers.Progress(*info)
	}}

	req, err := http.NewRequestWithContext(ctx, u.method, u.params.ServerURL, progress)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errPermanent, err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range u.params.Headers {
		req.Header.Set(k, v)
	}

	resp, err := u.exec.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("server responded %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: %v", errPermanent, err)
		}
		return err
	}
	return nil
}

func (u *upload) cleanup() {
	if !u.params.AutoDeleteFiles {
		return
	}
	for _, f := range u.params.Files {
		if err := os.Remove(f.Path); err != nil && u.exec.Logger != nil {
			u.exec.Logger.Warn("failed to delete uploaded file", "path", f.Path, "error", err)
		}
	}
}

type progressReader struct {
	r      io.Reader
	onRead func(n int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.onRead(int64(n))
	}
	return n, err
}
