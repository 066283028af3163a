package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultDataDirXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != "/custom/data/pollbus" {
		t.Fatalf("DefaultDataDir = %s", got)
	}
}

func TestDefaultDataDirNoHome(t *testing.T) {
	t.Setenv("HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	if got := DefaultDataDir(); got != "./data" {
		t.Fatalf("expected ./data fallback, got %s", got)
	}
}

func TestDefaultDataDirShape(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	got := DefaultDataDir()
	if got == "" {
		t.Fatalf("empty data dir")
	}
	if got == "./data" {
		return
	}
	if !filepath.IsAbs(got) {
		t.Fatalf("expected absolute path, got %s", got)
	}
	if !strings.HasSuffix(got, "pollbus") {
		t.Fatalf("expected pollbus suffix, got %s", got)
	}
	if got != DefaultDataDir() {
		t.Fatalf("DefaultDataDir is not stable")
	}
}

func TestIsDir(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "existing directory", path: ".", expected: true},
		{name: "missing path", path: "/non/existent/path/that/does/not/exist", expected: false},
		{name: "regular file", path: os.Args[0], expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDir(tt.path); got != tt.expected {
				t.Errorf("isDir(%s) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestIsWritable(t *testing.T) {
	dir := t.TempDir()
	if !isWritable(dir) {
		t.Fatalf("temp dir should be writable")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("probe file left behind: %v", entries)
	}
	if isWritable(filepath.Join(dir, "missing")) {
		t.Fatalf("missing dir reported writable")
	}
}
