package uploads

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/mattjoyce/uplink/internal/task"
)

// newBinary uploads a single file as the raw request body.
func newBinary(in task.Init) (task.Job, error) {
	if len(in.Params.Files) != 1 {
		return nil, &task.InitError{Kind: KindBinary, Reason: fmt.Sprintf("requires exactly one file, got %d", len(in.Params.Files))}
	}
	return newUpload(KindBinary, in, func(u *upload) body {
		f := u.params.Files[0]
		return func() (io.ReadCloser, string, int64, error) {
			fh, err := os.Open(f.Path)
			if err != nil {
				return nil, "", 0, fmt.Errorf("open %s: %w", f.Path, err)
			}
			st, err := fh.Stat()
			if err != nil {
				_ = fh.Close()
				return nil, "", 0, fmt.Errorf("stat %s: %w", f.Path, err)
			}
			return fh, contentTypeOf(f.ContentType, f.Path), st.Size(), nil
		}
	})
}

func contentTypeOf(declared, path string) string {
	if declared != "" {
		return declared
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
