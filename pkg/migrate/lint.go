package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"strings"
)

var fileNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	markUp        = "-- +goose Up"
	markDown      = "-- +goose Down"
	markStmtBegin = "-- +goose StatementBegin"
	markStmtEnd   = "-- +goose StatementEnd"
)

// Lint checks every .sql file in fsys: timestamped name, unique version, an
// Up section ahead of a Down section and balanced statement blocks.
func Lint(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	versions := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		match := fileNameRe.FindStringSubmatch(name)
		if match == nil {
			return fmt.Errorf("%s: expected YYYYMMDDHHMMSS_name.sql", name)
		}
		if prev, dup := versions[match[1]]; dup {
			return fmt.Errorf("%s: version %s already used by %s", name, match[1], prev)
		}
		versions[match[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := lintBody(string(body)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func lintBody(body string) error {
	up := strings.Index(body, markUp)
	down := strings.Index(body, markDown)
	switch {
	case up < 0:
		return fmt.Errorf("missing %q", markUp)
	case down < 0:
		return fmt.Errorf("missing %q", markDown)
	case down < up:
		return fmt.Errorf("%q must come before %q", markUp, markDown)
	}
	if begins, ends := strings.Count(body, markStmtBegin), strings.Count(body, markStmtEnd); begins != ends {
		return fmt.Errorf("%d StatementBegin markers but %d StatementEnd", begins, ends)
	}
	return nil
}
