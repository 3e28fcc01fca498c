package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  "debug",
		Pretty: false,
		Output: &buf,
	})

	logger.Trace().Msg("trace message")
	logger.Debug().Msg("debug message")

	output := buf.String()

	if strings.Contains(output, "trace message") {
		t.Error("Expected trace message to NOT be logged at debug level")
	}
	if !strings.Contains(output, "debug message") {
		t.Error("Expected debug message to be logged at debug level")
	}
}

func TestNew_DefaultsToWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "bogus", Output: &buf})

	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")

	output := buf.String()
	if strings.Contains(output, "info message") {
		t.Error("Expected info message to be filtered at warn level")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Expected warn message to be logged")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.WarnLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithComponent(Config{Level: "info", Output: &buf}, "elf-loader")
	logger.Info().Msg("loaded")

	if !strings.Contains(buf.String(), `"component":"elf-loader"`) {
		t.Errorf("Expected component field in output, got %s", buf.String())
	}

	buf.Reset()
	child := Component(zerolog.New(&buf), "dwarf")
	child.Info().Msg("x")
	if !strings.Contains(buf.String(), `"component":"dwarf"`) {
		t.Errorf("Expected component field in output, got %s", buf.String())
	}
}
