package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"echoes/internal/providers/fal"
	"echoes/internal/queue"
)

func TestParseInputs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "input.json")
	if err := os.WriteFile(file, []byte(`{"prompt":"from file","duration":"5"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := parseInputs([]string{"prompt=a cat on a skateboard", "cfg_scale=0.7", "turbo=true", "note=x=y"}, file)
	if err != nil {
		t.Fatalf("parseInputs: %v", err)
	}
	want := map[string]any{
		"prompt":    "a cat on a skateboard",
		"duration":  "5",
		"cfg_scale": 0.7,
		"turbo":     true,
		"note":      "x=y",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestParseInputsErrors(t *testing.T) {
	if _, err := parseInputs([]string{"novalue"}, ""); err == nil {
		t.Fatal("expected error for missing '='")
	}
	if _, err := parseInputs([]string{"=x"}, ""); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := parseInputs(nil, filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`[1,2]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := parseInputs(nil, bad); err == nil {
		t.Fatal("expected error for non-object file")
	}
}

func TestListKinds(t *testing.T) {
	registry := queue.NewRegistry()
	if err := fal.Register(registry, fal.Options{}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	listKinds(&buf, registry)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(registry.Kinds()) {
		t.Fatalf("expected %d lines, got %d", len(registry.Kinds()), len(lines))
	}
	if !strings.HasPrefix(lines[0], "audio-to-video") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
}
