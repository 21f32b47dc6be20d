package alog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"Warn":    WarnLevel,
		"warning": WarnLevel,
		"ERROR":   ErrorLevel,
		"fatal":   FatalLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var out, errOut bytes.Buffer
	l := &Logger{level: WarnLevel, consoleOut: &out, consoleErr: &errOut, fields: map[string]any{}}

	l.Debugf("hidden %d", 1)
	l.Infof("also hidden")
	l.Warnf("shown")

	if out.Len() != 0 {
		t.Fatalf("info output despite warn level: %s", out.String())
	}
	if !strings.Contains(errOut.String(), "shown") {
		t.Fatalf("warn line missing: %s", errOut.String())
	}
}

func TestConsoleLineFormat(t *testing.T) {
	var errOut bytes.Buffer
	l := &Logger{level: DebugLevel, consoleErr: &errOut, fields: map[string]any{}}

	l.WithFields(map[string]any{"b": 2, "a": 1}).ErrorWithErr("it broke", errors.New("cause"))

	line := strings.TrimSpace(errOut.String())
	if !strings.Contains(line, "[ERROR] ❌ it broke") {
		t.Fatalf("level or message missing: %q", line)
	}
	// Field keys are sorted for stable output.
	if !strings.Contains(line, "| a=1 b=2") {
		t.Fatalf("fields missing or unsorted: %q", line)
	}
	if !strings.Contains(line, "error=cause") {
		t.Fatalf("error missing: %q", line)
	}
}

func TestFileWriterEmitsJSONLines(t *testing.T) {
	var file bytes.Buffer
	l := &Logger{level: DebugLevel, fileWriter: &file, fields: map[string]any{}}

	l.Infof("first")
	l.WithField("user", int64(42)).Warnf("second")

	scanner := bufio.NewScanner(&file)
	var entries []Entry
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != "INFO" || entries[0].Message != "first" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Fields["user"] == nil {
		t.Fatalf("fields lost in file output: %+v", entries[1])
	}
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	l := &Logger{level: DebugLevel, fields: map[string]any{"base": true}}
	child := l.WithField("extra", 1)
	if _, ok := l.fields["extra"]; ok {
		t.Fatalf("parent logger mutated")
	}
	if child.fields["base"] != true || child.fields["extra"] != 1 {
		t.Fatalf("child fields wrong: %+v", child.fields)
	}
}

func TestNewCreatesLogDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := New(Config{Level: InfoLevel, LogDir: dir, EnableFile: true})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	l.Infof("hello")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("log directory missing: %v", err)
	}
}

func TestGlobalHelpersAreNilSafe(t *testing.T) {
	old := GlobalLogger
	GlobalLogger = nil
	t.Cleanup(func() { GlobalLogger = old })

	// Must not panic without an initialized global logger.
	Debugf("x")
	Infof("x")
	Warnf("x")
	Errorf("x")
	ErrorWithErr("x", errors.New("y"))
}
