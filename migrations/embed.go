// Package migrations provides the embedded database schema and the tooling
// to apply it. Migration files are compiled into the binary with go:embed,
// so the server and the migrator CLI carry their schema with them and need
// no external files at deploy time.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedFiles embed.FS

// Migration filename format: 001_migration_name.up.sql / 001_migration_name.down.sql.
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type (
	// Source wraps a filesystem of migration files and validates that they
	// form a usable set: well-formed names, paired up/down scripts, and a
	// gap-free sequence starting at 001.
	Source struct {
		fs fs.FS
	}

	// fileInfo is a parsed migration filename.
	fileInfo struct {
		sequence  int
		name      string
		direction string
	}
)

// NewSource creates a migration Source over the given filesystem.
// Pass nil to use the migrations embedded in the binary.
func NewSource(filesystem fs.FS) *Source {
	if filesystem == nil {
		filesystem = embeddedFiles
	}

	return &Source{fs: filesystem}
}

// FS exposes the underlying migration filesystem for the migrate driver.
func (s *Source) FS() fs.FS {
	return s.fs
}

// List returns the migration filenames that conform to the naming standard,
// in lexicographic order.
func (s *Source) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if filenameRegex.MatchString(entry.Name()) {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks the migration set before any state-changing operation:
// every .sql file well-named and readable, every up paired with a down, and
// sequence numbers contiguous from 001.
func (s *Source) Validate() error {
	files, err := s.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no migration files found")
	}

	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}

		if !filenameRegex.MatchString(entry.Name()) {
			return fmt.Errorf(
				"invalid migration filename: %s (expected 001_name.up.sql or 001_name.down.sql)",
				entry.Name(),
			)
		}
	}

	for _, file := range files {
		if _, err := fs.ReadFile(s.fs, file); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
	}

	if err := s.validatePairing(files); err != nil {
		return err
	}

	return s.validateSequence(files)
}

// MaxVersion returns the highest sequence number in the set.
func (s *Source) MaxVersion() int {
	files, err := s.List()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, file := range files {
		if info, err := parseFilename(file); err == nil && info.sequence > maxSequence {
			maxSequence = info.sequence
		}
	}

	return maxSequence
}

func parseFilename(filename string) (*fileInfo, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf("invalid migration filename format: %s", filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &fileInfo{sequence: sequence, name: matches[2], direction: matches[3]}, nil
}

// validatePairing ensures every up migration has a matching down migration.
func (s *Source) validatePairing(files []string) error {
	pairs := make(map[string]map[string]bool)

	for _, file := range files {
		info, err := parseFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", info.sequence, info.name)
		if pairs[key] == nil {
			pairs[key] = make(map[string]bool)
		}

		pairs[key][info.direction] = true
	}

	for key, directions := range pairs {
		if !directions["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !directions["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures sequence numbers start at 001 with no gaps.
func (s *Source) validateSequence(files []string) error {
	seen := make(map[int]bool)

	for _, file := range files {
		info, err := parseFilename(file)
		if err != nil {
			return err
		}

		seen[info.sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for seq := range seen {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf(
				"gap in migration sequence: expected %03d, found %03d",
				sequences[i-1]+1,
				sequences[i],
			)
		}
	}

	return nil
}
