// Command sqllint checks that every SQL constant carries a unique
// "--sql <uuid>" marker, the contract infra.SQLRunner enforces at run time.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	statementPattern = regexp.MustCompile(`(?i)^\s*(--[^\n]*\n\s*)?(select|insert|update|delete|with)\b`)
	markerPattern    = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type violation struct {
	pos     token.Position
	name    string
	message string
}

// linter accumulates violations across files so duplicate markers are
// detected package-wide.
type linter struct {
	fset       *token.FileSet
	seen       map[string]string
	violations []violation
}

func newLinter() *linter {
	return &linter{fset: token.NewFileSet(), seen: map[string]string{}}
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"internal/sqlinline"}
	}

	l := newLinter()
	for _, target := range targets {
		if err := l.walk(target); err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
	}
	if l.report(os.Stderr) {
		os.Exit(1)
	}
}

func (l *linter) walk(target string) error {
	return filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != target && (strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") || d.Name() == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return l.lintSource(path, src)
	})
}

func (l *linter) lintSource(path string, src []byte) error {
	file, err := parser.ParseFile(l.fset, path, src, 0)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		spec, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range spec.Values {
			lit, ok := value.(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				continue
			}
			raw, err := strconv.Unquote(lit.Value)
			if err != nil || !statementPattern.MatchString(raw) {
				continue
			}
			name := "_"
			if i < len(spec.Names) {
				name = spec.Names[i].Name
			}
			l.check(l.fset.Position(lit.Pos()), name, raw)
		}
		return true
	})
	return nil
}

func (l *linter) check(pos token.Position, name, query string) {
	m := markerPattern.FindStringSubmatch(firstLine(query))
	if m == nil {
		l.violations = append(l.violations, violation{pos: pos, name: name, message: "missing or invalid --sql <uuid> marker"})
		return
	}
	if other, dup := l.seen[m[1]]; dup {
		l.violations = append(l.violations, violation{pos: pos, name: name, message: "marker already used by " + other})
		return
	}
	l.seen[m[1]] = name
}

// report prints violations sorted by position and reports whether any exist.
func (l *linter) report(w io.Writer) bool {
	if len(l.violations) == 0 {
		return false
	}
	sort.Slice(l.violations, func(i, j int) bool {
		a, b := l.violations[i].pos, l.violations[j].pos
		if a.Filename != b.Filename {
			return a.Filename < b.Filename
		}
		return a.Line < b.Line
	})
	fmt.Fprintln(w, "sqllint: SQL marker violations")
	for _, v := range l.violations {
		fmt.Fprintf(w, "  %s:%d %s (%s)\n", v.pos.Filename, v.pos.Line, v.message, v.name)
	}
	return true
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
