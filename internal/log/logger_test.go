package log

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerAddsComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Component: ComponentApp, Handler: slog.NewTextHandler(&buf, nil)})

	l.WithComponent(ComponentRecorder).Info("hello", FieldTab, "02/2025")

	out := buf.String()
	if strings.Count(out, "component=") != 1 {
		t.Fatalf("expected exactly one component attribute, got %q", out)
	}
	if !strings.Contains(out, "component=recorder") || !strings.Contains(out, "tab=02/2025") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestContextCarriesLogger(t *testing.T) {
	base := Discard().WithComponent(ComponentHTTP)
	var got *Logger
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(NewContext(req.Context(), base)))

	if got == nil || got.Component() != ComponentHTTP {
		t.Fatalf("expected http component logger, got %+v", got)
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatal("expected fallback logger outside a request")
	}
}

func TestLogHTTPEndLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "level=INFO"},
		{404, "level=WARN"},
		{502, "level=ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		l := New(Config{Handler: slog.NewTextHandler(&buf, nil)})
		req := httptest.NewRequest(http.MethodPost, "/api/record", nil)

		NewStructuredLogger(l).LogHTTPEnd(context.Background(), req, tt.status, 3, "10.0.0.1")

		out := buf.String()
		if !strings.Contains(out, tt.level) || !strings.Contains(out, "status_code="+strconv.Itoa(tt.status)) {
			t.Errorf("status %d: unexpected output %q", tt.status, out)
		}
	}
}

func TestLogBatchRecorded(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Handler: slog.NewTextHandler(&buf, nil)})

	NewStructuredLogger(l).LogBatchRecorded(context.Background(), "b-1", 3, 2, 1)

	out := buf.String()
	for _, want := range []string{"batch_id=b-1", "records=3", "recorded=2", "errors=1", "operation=record"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}
