// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSchema = `
#Probe: {
	name:   string
	count:  int & >=0
	tags?: [...string]
	steps?: [...{call: string, times: int}]
}
`

type probe struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Tags  []string `json:"tags,omitempty"`
	Steps []struct {
		Call  string `json:"call"`
		Times int    `json:"times"`
	} `json:"steps,omitempty"`
}

func TestParseAndDecode(t *testing.T) {
	t.Parallel()

	data := []byte(`
name: "switch"
count: 3
tags: ["a", "b"]
steps: [{call: "sem_wait", times: 2}]
`)
	result, err := ParseAndDecode[probe]([]byte(testSchema), data, "#Probe")
	if err != nil {
		t.Fatalf("ParseAndDecode() unexpected error: %v", err)
	}
	v := result.Value
	if v.Name != "switch" || v.Count != 3 || len(v.Tags) != 2 || len(v.Steps) != 1 || v.Steps[0].Times != 2 {
		t.Errorf("decoded = %+v", v)
	}
	if !result.Unified.Exists() {
		t.Error("Unified value should exist")
	}
}

func TestParseAndDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		opts    []Option
		wantMsg string
	}{
		{"syntax error", `name: "x`, nil, "probe.cue"},
		{"constraint violation", `name: "x", count: -1`, nil, "count"},
		{"nested index", `name: "x", count: 1, steps: [{call: "a", times: 1}, {call: 2, times: 1}]`, nil, "steps[1].call"},
		{"missing required field", `name: "x"`, nil, "count"},
		{"size limit", `name: "x", count: 1`, []Option{WithMaxFileSize(4)}, "exceeds maximum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts := append([]Option{WithFilename("probe.cue")}, tt.opts...)
			_, err := ParseAndDecode[probe]([]byte(testSchema), []byte(tt.data), "#Probe", opts...)
			if err == nil {
				t.Fatal("ParseAndDecode() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParseAndDecode_UnknownDefinition(t *testing.T) {
	t.Parallel()

	_, err := ParseAndDecode[probe]([]byte(testSchema), []byte(`name: "x"`), "#Missing")
	if err == nil || !strings.Contains(err.Error(), "#Missing") {
		t.Errorf("error = %v, want a missing definition error", err)
	}
}

func TestParseFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "p.cue")
	if err := os.WriteFile(path, []byte(`name: "file", count: 7`), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := ParseFile[probe]([]byte(testSchema), path, "#Probe")
	if err != nil {
		t.Fatalf("ParseFile() unexpected error: %v", err)
	}
	if result.Value.Count != 7 {
		t.Errorf("count = %d, want 7", result.Value.Count)
	}

	if _, err := ParseFile[probe]([]byte(testSchema), path, "#Probe", WithMaxFileSize(3)); err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("ParseFile() with tiny limit error = %v", err)
	}

	_, err = ParseFile[probe]([]byte(testSchema), filepath.Join(dir, "absent.cue"), "#Probe")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ParseFile(absent) error = %v, want os.ErrNotExist", err)
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	if FormatError(nil, "x.cue") != nil {
		t.Error("FormatError(nil) should be nil")
	}
	plain := errors.New("some error")
	err := FormatError(plain, "x.cue")
	if !errors.Is(err, plain) || !strings.HasPrefix(err.Error(), "x.cue: ") {
		t.Errorf("FormatError(plain) = %v", err)
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path []string
		want string
	}{
		{nil, ""},
		{[]string{"name"}, "name"},
		{[]string{"sysconf", "nr_pipes"}, "sysconf.nr_pipes"},
		{[]string{"steps", "0", "expect", "status"}, "steps[0].expect.status"},
		{[]string{"threads", "1", "2"}, "threads[1][2]"},
		{[]string{"0"}, "0"},
	}

	for _, tt := range tests {
		if got := formatPath(tt.path); got != tt.want {
			t.Errorf("formatPath(%v) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCheckFileSize(t *testing.T) {
	t.Parallel()

	if err := CheckFileSize(make([]byte, 10), 10, "f"); err != nil {
		t.Errorf("CheckFileSize(at limit) = %v, want nil", err)
	}
	if err := CheckFileSize(make([]byte, 11), 10, "f"); err == nil {
		t.Error("CheckFileSize(over limit) = nil, want error")
	}
}
