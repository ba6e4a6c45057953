// Package migrations embeds the versioned schema of the store.
//
// Files follow the golang-migrate naming scheme. The first file is the
// baseline written by the last release that versioned the store through
// PRAGMA user_version, older stores are brought up to it by the legacy ladder
// in the database package.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var FS embed.FS

// BaselineVersion is the version of the oldest migration file.
const BaselineVersion = 8

const baselineFile = "8_baseline.up.sql"

// Baseline returns the statements of the baseline schema. Every statement is
// guarded with IF NOT EXISTS so it can be replayed over a partial store.
func Baseline() (string, error) {
	b, err := FS.ReadFile(baselineFile)
	if err != nil {
		return "", fmt.Errorf("error reading baseline schema: %w", err)
	}

	return string(b), nil
}

// Latest returns the highest version among the embedded up migrations.
func Latest() (uint, error) {
	names, err := fs.Glob(FS, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("error listing migrations: %w", err)
	}
	if len(names) == 0 {
		return 0, fmt.Errorf("no migrations embedded")
	}

	versions := make([]uint, 0, len(names))
	for _, name := range names {
		var v uint
		if _, err := fmt.Sscanf(strings.SplitN(name, "_", 2)[0], "%d", &v); err != nil {
			return 0, fmt.Errorf("error parsing version of %q: %w", name, err)
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	return versions[len(versions)-1], nil
}
