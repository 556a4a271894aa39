package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = "json"

	slog.New(newHandler(&buf, cfg)).Info("hello", "prompt", "a red circle")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["prompt"] != "a red circle" {
		t.Errorf("prompt attr = %v", entry["prompt"])
	}
}

func TestFrom_FallsBackToGlobal(t *testing.T) {
	if From(context.Background()) != L() {
		t.Error("From() without a context logger should return L()")
	}
}

func TestWithRequest(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithRequest(With(context.Background(), base), "req-1", "generate")
	From(ctx).Info("submitted")

	out := buf.String()
	for _, want := range []string{"request_id=req-1", "op=generate", "submitted"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("log line %q lacks %q", out, want)
		}
	}
}
