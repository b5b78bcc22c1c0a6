package io

import (
	"bufio"
	"errors"
	"strings"
	"testing"
)

func TestReadLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		max     int
		want    string
		wantErr error
	}{
		{name: "simple line", input: "250 OK\r\n", max: 512, want: "250 OK"},
		{name: "empty line", input: "\r\n", max: 512, want: ""},
		{name: "bare LF rejected", input: "250 OK\n", max: 512, wantErr: ErrBadLineEnding},
		{name: "over limit", input: "250 " + strings.Repeat("x", 600) + "\r\n", max: 512, wantErr: ErrLineTooLong},
		{name: "at limit", input: strings.Repeat("y", 512) + "\r\n", max: 512, want: strings.Repeat("y", 512)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReader(strings.NewReader(tt.input))
			got, err := ReadLine(r, tt.max)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ReadLine error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadLine failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadLine = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadLineLargerThanBuffer(t *testing.T) {
	// Force the slow path with a reader buffer smaller than the line.
	line := strings.Repeat("z", 100)
	r := bufio.NewReaderSize(strings.NewReader(line+"\r\n"), 16)
	got, err := ReadLine(r, 512)
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if got != line {
		t.Errorf("ReadLine = %q, want %q", got, line)
	}
}

func TestReadLineResyncAfterOverlong(t *testing.T) {
	input := strings.Repeat("a", 600) + "\r\n250 OK\r\n"
	r := bufio.NewReaderSize(strings.NewReader(input), 16)
	if _, err := ReadLine(r, 128); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
	got, err := ReadLine(r, 128)
	if err != nil {
		t.Fatalf("ReadLine after drain failed: %v", err)
	}
	if got != "250 OK" {
		t.Errorf("ReadLine = %q, want %q", got, "250 OK")
	}
}
