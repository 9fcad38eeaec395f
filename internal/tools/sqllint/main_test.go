package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestLintSource(t *testing.T) {
	src := "package q\n\n" +
		"const QOK = `--sql 0b6f3c1e-8d2a-4f7b-9c55-2e41a7d9f310\nselect 1;`\n\n" +
		"const QMissing = `select 2;`\n\n" +
		"const QDup = `--sql 0b6f3c1e-8d2a-4f7b-9c55-2e41a7d9f310\nupdate t set a = 1;`\n\n" +
		"const NotSQL = \"selection of values\"\n"

	l := newLinter()
	if err := l.lintSource("q.go", []byte(src)); err != nil {
		t.Fatalf("lintSource: %v", err)
	}
	if len(l.violations) != 2 {
		t.Fatalf("expected 2 violations, got %+v", l.violations)
	}

	var buf bytes.Buffer
	if !l.report(&buf) {
		t.Fatal("report should flag violations")
	}
	out := buf.String()
	if !strings.Contains(out, "q.go:6 missing or invalid --sql <uuid> marker (QMissing)") {
		t.Fatalf("missing marker not reported:\n%s", out)
	}
	if !strings.Contains(out, "q.go:8 marker already used by QOK (QDup)") {
		t.Fatalf("duplicate marker not reported:\n%s", out)
	}
}

func TestJobQueriesPass(t *testing.T) {
	l := newLinter()
	if err := l.walk("../../sqlinline"); err != nil {
		t.Fatalf("walk: %v", err)
	}
	var buf bytes.Buffer
	if l.report(&buf) {
		t.Fatalf("unexpected violations:\n%s", buf.String())
	}
	if len(l.seen) < 5 {
		t.Fatalf("expected job queries to be linted, saw %d markers", len(l.seen))
	}
}
