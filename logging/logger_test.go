package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "json debug", level: "debug", format: "json"},
		{name: "json info", level: "info", format: "json"},
		{name: "json warn", level: "warn", format: "json"},
		{name: "json error", level: "error", format: "json"},
		{name: "console info", level: "info", format: "console"},
		{name: "invalid level", level: "verbose", format: "json", wantErr: true},
		{name: "invalid format", level: "info", format: "xml", wantErr: true},
		{name: "empty level", level: "", format: "json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Error("New() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if logger == nil {
				t.Fatal("New() returned nil logger")
			}
			_ = logger.Sync()
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{level: "debug", want: zapcore.DebugLevel},
		{level: "info", want: zapcore.InfoLevel},
		{level: "warn", want: zapcore.WarnLevel},
		{level: "error", want: zapcore.ErrorLevel},
		{level: "trace", wantErr: true},
		{level: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := parseLevel(tt.level)
			if tt.wantErr {
				if err == nil {
					t.Error("parseLevel() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseLevel() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForComponent(t *testing.T) {
	logger, err := New("info", "json")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	child := ForComponent(logger, ComponentCasambi)
	if child == nil {
		t.Fatal("ForComponent() returned nil")
	}
	if child == logger {
		t.Error("ForComponent() returned the parent logger")
	}
}
