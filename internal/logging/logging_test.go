package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCLIHandlerFormatsAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewCLI(&buf, slog.LevelDebug).With("component", "cache").WithGroup("fetch")
	logger.Info("fetched image", "url", "http://x/f34.qcow2", "note", "two words", "error", errors.New("boom"))

	line := buf.String()
	for _, want := range []string{
		"INFO ",
		" | fetched image",
		" component=cache",
		" fetch.url=http://x/f34.qcow2",
		` fetch.note="two words"`,
		" fetch.error=boom",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %q", line, want)
		}
	}
}

func TestCLIHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var level slog.LevelVar
	level.Set(slog.LevelWarn)
	logger := NewCLI(&buf, &level)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info record to be filtered, got %q", buf.String())
	}

	level.Set(slog.LevelInfo)
	logger.Info("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected record after lowering level, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error = %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	if mode, err := ParseMode("json"); err != nil || mode != ModeJSON {
		t.Fatalf("ParseMode(json) = %v, %v", mode, err)
	}
	if mode, err := ParseMode(""); err != nil || mode != ModeCLI {
		t.Fatalf("ParseMode(\"\") = %v, %v", mode, err)
	}
	if _, err := ParseMode("xml"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
