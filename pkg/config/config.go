// Package config discovers and resolves system/workspace configuration
// (paths, XDG directories, env overrides) that sits outside the document
// header merge pkg/header itself performs.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Paths holds the resolved XDG-style directories lectic uses, each
// overridable by its own environment variable (§6 "LECTIC_CONFIG,
// LECTIC_DATA, LECTIC_CACHE, LECTIC_STATE, LECTIC_TEMP override
// XDG-style paths").
type Paths struct {
	Config string
	Data   string
	Cache  string
	State  string
	Temp   string
}

// DefaultPaths resolves Paths from the environment, falling back to the
// standard XDG base directories under the user's home.
func DefaultPaths() Paths {
	home, _ := os.UserHomeDir()
	return Paths{
		Config: firstNonEmpty(os.Getenv("LECTIC_CONFIG"), filepath.Join(home, ".config", "lectic")),
		Data:   firstNonEmpty(os.Getenv("LECTIC_DATA"), filepath.Join(home, ".local", "share", "lectic")),
		Cache:  firstNonEmpty(os.Getenv("LECTIC_CACHE"), filepath.Join(home, ".cache", "lectic")),
		State:  firstNonEmpty(os.Getenv("LECTIC_STATE"), filepath.Join(home, ".local", "state", "lectic")),
		Temp:   firstNonEmpty(os.Getenv("LECTIC_TEMP"), os.TempDir()),
	}
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// SystemConfigPath is the system-level lectic.yaml path, lowest in the
// header-merge precedence order (§6 "Config discovery").
func (p Paths) SystemConfigPath() string {
	return filepath.Join(p.Config, "lectic.yaml")
}

// LoadSystemConfig loads the system lectic.yaml as a *yaml.Node suitable
// for pkg/header.MergeAll, returning nil if the file does not exist.
func LoadSystemConfig(p Paths) (*yaml.Node, error) {
	return loadYAMLFile(p.SystemConfigPath())
}

// LoadIncludes loads each `--Include`/header `imports` path in order,
// suitable for appending to the merge chain between workspace discovery
// and the document header (§6 precedence: "system, workspace, imports,
// document header, in-pipeline :merge_yaml").
func LoadIncludes(paths []string) ([]*yaml.Node, error) {
	docs := make([]*yaml.Node, 0, len(paths))
	for _, p := range paths {
		doc, err := loadYAMLFile(p)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func loadYAMLFile(path string) (*yaml.Node, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// RuntimeSearchPath returns the ordered directories subcommand resolution
// (`lectic-<name>`) searches, per §6: "$LECTIC_RUNTIME, the config
// directory, the data directory, and $PATH in order".
func RuntimeSearchPath(p Paths) []string {
	dirs := make([]string, 0, 4)
	if v := strings.TrimSpace(os.Getenv("LECTIC_RUNTIME")); v != "" {
		dirs = append(dirs, v)
	}
	dirs = append(dirs, p.Config, p.Data)
	dirs = append(dirs, filepath.SplitList(os.Getenv("PATH"))...)
	return dirs
}
