package plog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"notice":  LevelNotice,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := LevelFromString(in); got != want {
			t.Errorf("LevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNoticeLevelName(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	Notice("COPY", "path", "docs/readme.txt")

	out := buf.String()
	if !strings.Contains(out, "level=NOTICE") {
		t.Errorf("expected NOTICE level name in output, got: %s", out)
	}
	if !strings.Contains(out, "msg=COPY") {
		t.Errorf("expected message in output, got: %s", out)
	}
}

func TestSetLevelFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(slog.LevelWarn)
	defer SetLevel(slog.LevelInfo)

	Info("should be filtered")
	Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Errorf("info record should have been filtered, got: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn record missing, got: %s", out)
	}
}
