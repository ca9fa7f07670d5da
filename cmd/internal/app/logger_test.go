package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_FormatSelectsHandler(t *testing.T) {
	t.Parallel()

	var jsonBuf, prettyBuf bytes.Buffer
	newLogger(&jsonBuf, "info", "json").Info("session.logout")
	newLogger(&prettyBuf, "info", "pretty").Info("session.logout")

	if !strings.HasPrefix(jsonBuf.String(), "{") || !strings.Contains(jsonBuf.String(), `"msg":"session.logout"`) {
		t.Fatalf("json output=%q", jsonBuf.String())
	}
	if !strings.HasPrefix(prettyBuf.String(), "ts=") || !strings.Contains(prettyBuf.String(), "msg=session.logout") {
		t.Fatalf("pretty output=%q", prettyBuf.String())
	}
}
