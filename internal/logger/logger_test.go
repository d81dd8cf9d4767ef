package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRingBuffer_WrapsAndCounts(t *testing.T) {
	rb := newRingBuffer(3)
	for i, level := range []slog.Level{slog.LevelWarn, slog.LevelError, slog.LevelWarn, slog.LevelError} {
		rb.add(LogEntry{Time: time.Unix(int64(i), 0), Level: level, Message: string(rune('a' + i))})
	}

	entries := rb.getAll()
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d; want 3", len(entries))
	}
	if entries[0].Message != "b" || entries[2].Message != "d" {
		t.Errorf("entries = %v; want oldest b, newest d", entries)
	}

	warn, errs := rb.getCounts()
	if warn != 2 || errs != 2 {
		t.Errorf("counts = (%d, %d); want (2, 2)", warn, errs)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		" warn ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestInitLogger_FileConsoleAndCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "eventimport.log")
	var console bytes.Buffer

	InitLogger(LevelInfo, path, &console)
	t.Cleanup(Close)

	Debug("hidden")
	Info("table copied", "table", "JADE.EVENT")
	Warn("restore failed", "object", "JADE.EVENT.FK_CLIENT")
	Error("run failed")

	if LogPath != path {
		t.Errorf("LogPath = %q; want %q", LogPath, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	log := string(data)
	if strings.Contains(log, "hidden") {
		t.Error("debug record written at info level")
	}
	if !strings.Contains(log, `"msg":"table copied"`) {
		t.Errorf("log file missing info record: %s", log)
	}

	out := console.String()
	if strings.Contains(out, "table copied") {
		t.Error("console received an info record")
	}
	if !strings.Contains(out, "restore failed") || !strings.Contains(out, "run failed") {
		t.Errorf("console missing warnings: %s", out)
	}

	warn, errs := GetCounts()
	if warn != 1 || errs != 1 {
		t.Errorf("GetCounts() = (%d, %d); want (1, 1)", warn, errs)
	}
	entries := GetEntries()
	if len(entries) != 2 {
		t.Fatalf("GetEntries() = %v; want 2 entries", entries)
	}
	if got := entries[0].Format(); !strings.HasSuffix(got, "WARN  restore failed object=JADE.EVENT.FK_CLIENT") {
		t.Errorf("entries[0].Format() = %q", got)
	}
	if entries[1].Detail != "" {
		t.Errorf("entries[1].Detail = %q; want empty", entries[1].Detail)
	}
}
