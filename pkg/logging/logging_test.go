package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestInitForCLIWritesFilteredRecords(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Debug("Test", "debug message should be filtered")
	Info("Test", "hello %s", "world")
	Error("Test", errors.New("boom"), "something failed")

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Errorf("Debug record should have been filtered out, got: %s", out)
	}
	if !strings.Contains(out, "hello world") {
		t.Errorf("Expected formatted info record, got: %s", out)
	}
	if !strings.Contains(out, "subsystem=Test") {
		t.Errorf("Expected subsystem attribute, got: %s", out)
	}
	if !strings.Contains(out, "boom") {
		t.Errorf("Expected error attribute, got: %s", out)
	}
}

func TestInitWithChannelDeliversEntries(t *testing.T) {
	ch := InitWithChannel(4)
	defer CloseChannel()

	Warn("Watcher", "token not found after %d attempts", 5)

	select {
	case entry := <-ch:
		if entry.Level != LevelWarn {
			t.Errorf("Expected warn level, got %s", entry.Level)
		}
		if entry.Subsystem != "Watcher" {
			t.Errorf("Expected subsystem Watcher, got %s", entry.Subsystem)
		}
		if !strings.Contains(entry.Message, "5 attempts") {
			t.Errorf("Expected formatted message, got %s", entry.Message)
		}
	default:
		t.Fatal("Expected a log entry on the channel")
	}
}

func TestLogLevelString(t *testing.T) {
	cases := map[LogLevel]string{
		LevelDebug:   "DEBUG",
		LevelInfo:    "INFO",
		LevelWarn:    "WARN",
		LevelError:   "ERROR",
		LogLevel(42): "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("LogLevel(%d).String() = %s, want %s", level, got, want)
		}
	}
}
