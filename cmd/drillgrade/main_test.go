package main

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"strings"
	"testing"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"python", []string{"python"}},
		{"python, lua,,go ", []string{"python", "lua", "go"}},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("splitList(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, "[░░░░]"},
		{0.5, "[██░░]"},
		{1, "[████]"},
		{2, "[████]"},
		{-1, "[░░░░]"},
	}
	for _, tt := range tests {
		if got := renderProgressBar(tt.value, 4); got != tt.want {
			t.Errorf("renderProgressBar(%v, 4) = %q; want %q", tt.value, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestMultiHandler(t *testing.T) {
	var debug, warn bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewJSONHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	logger := slog.New(h).With("component", "test")

	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(debug) = false; want true")
	}

	logger.Debug("quiet")
	logger.Warn("loud")

	if !strings.Contains(debug.String(), "quiet") || !strings.Contains(debug.String(), "loud") {
		t.Errorf("debug handler got %q; want both records", debug.String())
	}
	if strings.Contains(warn.String(), "quiet") || !strings.Contains(warn.String(), `"component":"test"`) {
		t.Errorf("warn handler got %q; want only the warning with attrs", warn.String())
	}
}
