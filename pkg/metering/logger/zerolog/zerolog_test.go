package zerolog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mockpress/mockpress/pkg/metering"
)

func TestLogger_New(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

func TestLogger_Levels(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Debug("debug message", metering.Field{Key: "key", Value: "value"})
	logger.Info("info message", metering.Field{Key: "key", Value: "value"})
	logger.Warn("warn message", metering.Field{Key: "key", Value: "value"})
	logger.Error("error message", metering.Field{Key: "key", Value: "value"})

	lines := strings.Count(output.String(), "\n")
	if lines != 4 {
		t.Errorf("Expected 4 log lines, got %d", lines)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	logger.Debug("debug message")
	logger.Info("info message")

	if output.Len() != 0 {
		t.Error("Expected debug and info to be filtered out")
	}

	logger.Warn("warn message")
	logger.Error("error message")

	if output.Len() == 0 {
		t.Error("Expected warn and error to be logged")
	}
}

func TestLogger_Fields(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Info("test message",
		metering.Field{Key: "client_id", Value: "abc"},
		metering.Field{Key: "window", Value: "minute"},
		metering.Field{Key: "remaining", Value: 3},
	)

	got := output.String()
	for _, want := range []string{`"client_id":"abc"`, `"window":"minute"`, `"remaining":3`} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected log output to contain %s, got %s", want, got)
		}
	}
}
