package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	gooseUp    = "-- +goose Up"
	gooseDown  = "-- +goose Down"
	gooseBegin = "-- +goose StatementBegin"
	gooseEnd   = "-- +goose StatementEnd"
)

// ValidateDir checks filenames, duplicate versions and goose annotations.
// Every migration must carry an Up before its Down and balanced statement blocks.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		name := e.Name()

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		version := m[1]
		if prev, ok := seen[version]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", version, prev, name)
		}
		seen[version] = name

		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read file %q: %w", name, err)
		}
		if err := validateAnnotations(string(b)); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

func validateAnnotations(txt string) error {
	up := strings.Index(txt, gooseUp)
	down := strings.Index(txt, gooseDown)
	switch {
	case up < 0:
		return fmt.Errorf("missing %q", gooseUp)
	case down < 0:
		return fmt.Errorf("missing %q", gooseDown)
	case down < up:
		return fmt.Errorf("%q must come before %q", gooseUp, gooseDown)
	}

	open := false
	for i, line := range strings.Split(txt, "\n") {
		switch strings.TrimSpace(line) {
		case gooseBegin:
			if open {
				return fmt.Errorf("line %d: nested %q", i+1, gooseBegin)
			}
			open = true
		case gooseEnd:
			if !open {
				return fmt.Errorf("line %d: %q without begin", i+1, gooseEnd)
			}
			open = false
		case gooseUp, gooseDown:
			if open {
				return fmt.Errorf("line %d: section change inside a statement block", i+1)
			}
		}
	}
	if open {
		return fmt.Errorf("unterminated %q", gooseBegin)
	}
	return nil
}
