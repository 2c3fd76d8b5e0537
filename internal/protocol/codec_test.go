package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     *Message
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "launch message",
			msg: &Message{
				Action:     "startUpload",
				Target:     "net.example.app",
				JobKind:    "multipart",
				Parameters: []byte(`{"id":"job-1","server_url":"https://example.com"}`),
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"action":"startUpload"`) {
					t.Error("missing action field")
				}
				if !strings.Contains(output, `"job_kind":"multipart"`) {
					t.Error("missing job_kind field")
				}
				if strings.Contains(output, `"job_id"`) {
					t.Error("job_id should be omitted on launch messages")
				}
			},
		},
		{
			name: "signal message",
			msg:  &Message{Action: "cancelUpload", JobID: "job-42"},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"job_id":"job-42"`) {
					t.Error("missing job_id field")
				}
				if strings.Contains(output, `"parameters"`) {
					t.Error("parameters should be omitted on signals")
				}
			},
		},
		{name: "nil message", msg: nil, wantErr: true},
		{name: "missing action", msg: &Message{JobID: "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := WriteMessage(&buf, tt.msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("WriteMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestReadMessage(t *testing.T) {
	msg, err := ReadMessage(strings.NewReader(`{"action":"cancelUpload","target":"ns","job_id":"job-42"}`))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Action != "cancelUpload" || msg.JobID != "job-42" || msg.Target != "ns" {
		t.Fatalf("unexpected message: %#v", msg)
	}

	if _, err := ReadMessage(strings.NewReader(`{"action":"x","extra":1}`)); err == nil {
		t.Error("want error for unknown field")
	}
	if _, err := ReadMessage(strings.NewReader(`{not json}`)); err == nil {
		t.Error("want error for invalid JSON")
	}
}

func TestUnmarshalParameters(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "minimal valid", input: `{"id":"a","server_url":"https://up.example.com/files"}`},
		{name: "with notification", input: `{"id":"a","server_url":"http://h","notification_config":{"channel_id":"uploads"}}`},
		{name: "empty", input: ``, wantErr: true},
		{name: "not json", input: `[1,2`, wantErr: true},
		{name: "missing id", input: `{"server_url":"https://h"}`, wantErr: true},
		{name: "missing server url", input: `{"id":"a"}`, wantErr: true},
		{name: "bad scheme", input: `{"id":"a","server_url":"ftp://h"}`, wantErr: true},
		{name: "no host", input: `{"id":"a","server_url":"https://"}`, wantErr: true},
		{name: "negative retries", input: `{"id":"a","server_url":"https://h","max_retries":-1}`, wantErr: true},
		{name: "file without path", input: `{"id":"a","server_url":"https://h","files":[{"field_name":"f"}]}`, wantErr: true},
		{name: "notification without channel", input: `{"id":"a","server_url":"https://h","notification_config":{}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalParameters([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalParameters() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDigestStable(t *testing.T) {
	a := Digest([]byte(`{"id":"a"}`))
	b := Digest([]byte(`{"id":"a"}`))
	c := Digest([]byte(`{"id":"b"}`))
	if a != b {
		t.Error("digest should be deterministic")
	}
	if a == c {
		t.Error("different input should produce a different digest")
	}
	if len(a) != 64 {
		t.Errorf("want 64 hex chars, got %d", len(a))
	}
}
