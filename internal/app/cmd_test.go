package app

import (
	"io"
	"testing"

	"github.com/hitoshi/stockast/internal/edition"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"empty defaults to serve", []string{}, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"trigger", []string{"trigger", "--date", "2026-10-14"}, CommandTrigger},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"unknown defaults to serve", []string{"unknown"}, CommandServe},
		{"extra args are ignored", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandServe, "serve"},
		{CommandWorker, "worker"},
		{CommandMigrate, "migrate"},
		{CommandTrigger, "trigger"},
		{CommandHealthcheck, "healthcheck"},
	}

	for _, tt := range tests {
		if got := string(tt.cmd); got != tt.want {
			t.Errorf("Command(%q) string = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestParseTriggerOptions_Defaults(t *testing.T) {
	opts, err := ParseTriggerOptions(nil, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Date != nil || opts.Force {
		t.Errorf("opts = %+v, want zero value", opts)
	}
}

func TestParseTriggerOptions_DateAndForce(t *testing.T) {
	opts, err := ParseTriggerOptions([]string{"--date", "2026-10-14", "--force"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Date == nil || !opts.Date.Equal(edition.NewDate(2026, 10, 14)) {
		t.Errorf("Date = %v, want 2026-10-14", opts.Date)
	}
	if !opts.Force {
		t.Error("Force should be true")
	}
}

func TestParseTriggerOptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"invalid date", []string{"--date", "2026-13-01"}},
		{"unknown flag", []string{"--verbose"}},
		{"positional argument", []string{"2026-10-14"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTriggerOptions(tt.args, io.Discard); err == nil {
				t.Errorf("ParseTriggerOptions(%v) should return error", tt.args)
			}
		})
	}
}
