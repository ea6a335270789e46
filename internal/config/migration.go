package config

import (
	"fmt"
	"sort"
	"strings"
)

// versionKey is the top-level key holding the document layout version.
const versionKey = "_version"

// Version represents a document layout version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// String returns the version as a string.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare compares two versions.
// Returns -1 if v < other, 0 if v == other, 1 if v > other.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		if v.Major < other.Major {
			return -1
		}
		return 1
	}
	if v.Minor != other.Minor {
		if v.Minor < other.Minor {
			return -1
		}
		return 1
	}
	if v.Patch != other.Patch {
		if v.Patch < other.Patch {
			return -1
		}
		return 1
	}
	return 0
}

// Migration upgrades a document from one layout version to another.
type Migration struct {
	FromVersion Version
	ToVersion   Version
	Description string

	// Migrate performs the migration on the document.
	Migrate func(data map[string]any) (map[string]any, error)
}

// Migrator applies registered migrations in version order.
type Migrator struct {
	migrations []Migration
	current    Version
}

// NewMigrator creates a new Migrator with the current version.
func NewMigrator(current Version) *Migrator {
	return &Migrator{
		current:    current,
		migrations: make([]Migration, 0),
	}
}

// CurrentVersion returns the current layout version.
func (m *Migrator) CurrentVersion() Version {
	return m.current
}

// Register adds a migration to the migrator.
func (m *Migrator) Register(migration Migration) {
	m.migrations = append(m.migrations, migration)
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].FromVersion.Compare(m.migrations[j].FromVersion) < 0
	})
}

// NeedsMigration checks if the document needs migration.
func (m *Migrator) NeedsMigration(data map[string]any) bool {
	return extractVersion(data).Compare(m.current) < 0
}

// Migrate performs all necessary migrations to bring the document to the
// current version and stamps the version key.
func (m *Migrator) Migrate(data map[string]any) (map[string]any, error) {
	fromVersion := extractVersion(data)

	for _, migration := range m.migrations {
		if migration.FromVersion.Compare(fromVersion) < 0 {
			continue
		}
		if migration.ToVersion.Compare(m.current) > 0 {
			continue
		}

		migrated, err := migration.Migrate(data)
		if err != nil {
			return data, fmt.Errorf("migration from %s to %s failed: %w",
				migration.FromVersion, migration.ToVersion, err)
		}
		data = migrated
		fromVersion = migration.ToVersion
	}

	data[versionKey] = m.current.String()
	return data, nil
}

func extractVersion(data map[string]any) Version {
	vStr, ok := data[versionKey].(string)
	if !ok {
		return Version{}
	}

	var v Version
	_, _ = fmt.Sscanf(vStr, "%d.%d.%d", &v.Major, &v.Minor, &v.Patch)
	return v
}

// flatKeys maps the keys of the original flat document layout, where
// servers and options lived at the top level, onto their sections.
var flatKeys = map[string]string{
	"teams":                      SectionServers + ".teams",
	"showTrayIcon":               SectionAppOptions + ".showTrayIcon",
	"trayIconTheme":              SectionAppOptions + ".trayIconTheme",
	"minimizeToTray":             SectionAppOptions + ".minimizeToTray",
	"autostart":                  SectionAppOptions + ".autostart",
	"notifications":              SectionAppOptions + ".notifications",
	"showUnreadBadge":            SectionAppOptions + ".showUnreadBadge",
	"useSpellChecker":            SectionAppOptions + ".useSpellChecker",
	"enableHardwareAcceleration": SectionAppOptions + ".enableHardwareAcceleration",
	"enableServerManagement":     SectionAppOptions + ".enableServerManagement",
	"enableTeamModification":     SectionAppOptions + ".enableTeamModification",
	"helpLink":                   SectionAppOptions + ".helpLink",
}

// DefaultMigrator returns a migrator that upgrades the flat layout to the
// sectioned one.
func DefaultMigrator() *Migrator {
	m := NewMigrator(Version{Major: 1})

	m.Register(Migration{
		FromVersion: Version{},
		ToVersion:   Version{Major: 1},
		Description: "move flat keys into servers/appOptions sections",
		Migrate: func(data map[string]any) (map[string]any, error) {
			keys := make([]string, 0, len(flatKeys))
			for k := range flatKeys {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, oldPath := range keys {
				value, found := getNestedValue(data, oldPath)
				if !found {
					continue
				}
				newPath := flatKeys[oldPath]
				if err := setNestedValue(data, newPath, value); err != nil {
					return nil, fmt.Errorf("setting %s: %w", newPath, err)
				}
				deleteNestedValue(data, oldPath)
			}
			return data, nil
		},
	})

	return m
}

// getNestedValue retrieves a value from a nested map using a dot-separated path.
func getNestedValue(data map[string]any, path string) (any, bool) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, false
	}

	current := any(data)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// setNestedValue sets a value in a nested map using a dot-separated path.
func setNestedValue(data map[string]any, path string, value any) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return ErrInvalidPath
	}

	current := data
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		next, ok := current[part]
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		nextMap, ok := next.(map[string]any)
		if !ok {
			return ErrInvalidPath
		}
		current = nextMap
	}

	current[parts[len(parts)-1]] = value
	return nil
}

// deleteNestedValue deletes a value from a nested map using a dot-separated path.
func deleteNestedValue(data map[string]any, path string) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}

	current := data
	for i := 0; i < len(parts)-1; i++ {
		nextMap, ok := current[parts[i]].(map[string]any)
		if !ok {
			return
		}
		current = nextMap
	}

	delete(current, parts[len(parts)-1])
}

// splitPath splits a dot-separated path into non-empty parts.
func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, ".") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
