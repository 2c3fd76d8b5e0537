package uploads

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"

	"github.com/mattjoyce/uplink/internal/task"
)

// newMultipart uploads files and request parameters as multipart/form-data.
func newMultipart(in task.Init) (task.Job, error) {
	if len(in.Params.Files) == 0 {
		return nil, &task.InitError{Kind: KindMultipart, Reason: "requires at least one file"}
	}
	for i, f := range in.Params.Files {
		if f.FieldName == "" {
			return nil, &task.InitError{Kind: KindMultipart, Reason: fmt.Sprintf("files[%d] has no field_name", i)}
		}
	}
	return newUpload(KindMultipart, in, func(u *upload) body {
		return func() (io.ReadCloser, string, int64, error) {
			for _, f := range u.params.Files {
				if _, err := os.Stat(f.Path); err != nil {
					return nil, "", 0, fmt.Errorf("stat %s: %w", f.Path, err)
				}
			}
			pr, pw := io.Pipe()
			mw := multipart.NewWriter(pw)
			go func() {
				pw.CloseWithError(writeForm(mw, u))
			}()
			// Streamed; length unknown.
			return pr, mw.FormDataContentType(), -1, nil
		}
	})
}

func writeForm(mw *multipart.Writer, u *upload) error {
	keys := make([]string, 0, len(u.params.RequestParameters))
	for k := range u.params.RequestParameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, u.params.RequestParameters[k]); err != nil {
			return err
		}
	}

	for _, f := range u.params.Files {
		name := f.RemoteName
		if name == "" {
			name = filepath.Base(f.Path)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.FieldName, name))
		h.Set("Content-Type", contentTypeOf(f.ContentType, f.Path))
		part, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		fh, err := os.Open(f.Path)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, fh)
		_ = fh.Close()
		if err != nil {
			return err
		}
	}
	return mw.Close()
}
