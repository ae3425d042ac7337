package config

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultBaseDir = ".daogate"

// Paths holds resolved filesystem paths for daogate data.
type Paths struct {
	Base     string // ~/.daogate
	Config   string // ~/.daogate/daogate.yaml
	Data     string // ~/.daogate/data
	Database string // ~/.daogate/data/sessions.db
	Sessions string // ~/.daogate/data/chats.json
}

// ResolvePaths computes all standard paths from the home directory.
// If DAOGATE_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("DAOGATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	data := filepath.Join(base, "data")
	return Paths{
		Base:     base,
		Config:   filepath.Join(base, "daogate.yaml"),
		Data:     data,
		Database: filepath.Join(data, "sessions.db"),
		Sessions: filepath.Join(data, "chats.json"),
	}, nil
}

// EnsureDirs creates the base and data directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// blockedKeys are keys that must never appear in config paths.
var blockedKeys = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// ParseConfigPath splits a dot-separated config path into segments.
// Returns an error if any segment is blocked or empty.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		switch {
		case p == "":
			return nil, &ConfigError{Message: "config path contains empty segment"}
		case blockedKeys[p]:
			return nil, &ConfigError{Message: "config path contains blocked key: " + p}
		}
	}
	return parts, nil
}

// parent walks to the map holding the last path segment. With create set,
// missing or non-map intermediates are replaced by empty maps.
func parent(root map[string]any, path []string, create bool) (map[string]any, bool) {
	current := root
	for _, key := range path[:len(path)-1] {
		m, ok := current[key].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			m = map[string]any{}
			current[key] = m
		}
		current = m
	}
	return current, true
}

// GetValueAtPath traverses a nested map using the given path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	m, ok := parent(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := m[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath sets a value in a nested map, creating intermediate maps as needed.
func SetValueAtPath(root map[string]any, path []string, value any) {
	m, _ := parent(root, path, true)
	m[path[len(path)-1]] = value
}

// UnsetValueAtPath removes a value at the given path. Returns true if removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	m, ok := parent(root, path, false)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}
