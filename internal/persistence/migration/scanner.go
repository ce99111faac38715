package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	File        string
	SQL         string
	Checksum    string
}

var fileNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`)

// Scan reads every migration file in dir and returns them ordered by version.
func Scan(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, &MigrationError{File: dir, Operation: "read directory", Err: err}
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		matches := fileNamePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			return nil, &MigrationError{
				File:      entry.Name(),
				Operation: "validate filename",
				Err:       fmt.Errorf("%w: %q does not match {version}_{description}.sql", ErrInvalidMigrationFile, entry.Name()),
			}
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil || version <= 0 {
			return nil, &MigrationError{
				File:      entry.Name(),
				Operation: "parse version",
				Err:       fmt.Errorf("%w: version %q must be a positive number", ErrInvalidMigrationFile, matches[1]),
			}
		}
		if existing, ok := seen[version]; ok {
			return nil, &MigrationError{
				Version:   version,
				File:      entry.Name(),
				Operation: "check duplicates",
				Err:       fmt.Errorf("%w: also declared by %s", ErrDuplicateVersion, existing),
			}
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, &MigrationError{Version: version, File: entry.Name(), Operation: "read file", Err: err}
		}
		if len(splitStatements(string(content))) == 0 {
			return nil, &MigrationError{
				Version:   version,
				File:      entry.Name(),
				Operation: "parse SQL",
				Err:       fmt.Errorf("%w: no SQL statements found", ErrInvalidMigrationFile),
			}
		}
		sum := sha256.Sum256(content)
		migrations = append(migrations, Migration{
			Version:     version,
			Description: strings.ReplaceAll(matches[2], "_", " "),
			File:        entry.Name(),
			SQL:         string(content),
			Checksum:    hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// splitStatements splits SQL content on semicolons and drops comment-only
// fragments. Statement bodies must not contain semicolons of their own.
func splitStatements(sql string) []string {
	var statements []string
	for _, fragment := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(fragment, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, trimmed)
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}
