package rule

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/apkscan/apkscan/pkg/types"
)

// Loader reads rule files in any of the four recognized schemas and
// normalizes them into secret locators.
type Loader struct {
	fs      fs.FS // filesystem holding the bundled catalogue
	catalog map[string]string
}

// NewLoader creates a loader backed by the bundled rule catalogue.
func NewLoader() *Loader {
	return NewLoaderWithFS(builtinRulesFS)
}

// NewLoaderWithFS creates a loader with a custom catalogue filesystem.
// The catalogue maps each file's stem to its path, so "default" resolves
// rules/default.yml.
func NewLoaderWithFS(fsys fs.FS) *Loader {
	catalog := make(map[string]string)
	fs.WalkDir(fsys, "rules", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		catalog[stem] = path
		return nil
	})
	return &Loader{fs: fsys, catalog: catalog}
}

// CatalogNames returns the symbolic names of the bundled rule sets, sorted.
func (l *Loader) CatalogNames() []string {
	names := make([]string, 0, len(l.catalog))
	for name := range l.catalog {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Load reads every given path, which may be a file on disk or a symbolic
// name from the bundled catalogue, and returns the normalized locators.
// Duplicate patterns across files collapse: the last occurrence of a raw
// pattern string wins, keeping the position of the first. A file that cannot
// be read or decoded is skipped with a warning; loading never aborts, so a
// run over rule files with zero valid locators simply scans nothing.
func (l *Loader) Load(paths []string) ([]*types.SecretLocator, error) {
	index := make(map[string]int)
	var locators []*types.SecretLocator

	for _, path := range paths {
		for _, loc := range l.loadFile(path) {
			if i, seen := index[loc.Key()]; seen {
				locators[i] = loc
				continue
			}
			index[loc.Key()] = len(locators)
			locators = append(locators, loc)
		}
	}

	if len(locators) == 0 {
		warnf("no locators loaded from %d rule file(s)", len(paths))
	}
	return locators, nil
}

func (l *Loader) loadFile(path string) []*types.SecretLocator {
	data, err := l.readRuleFile(path)
	if err != nil {
		warnf("%v, skipping", err)
		return nil
	}
	decoded, err := decodeRuleFile(data)
	if err != nil {
		warnf("rule file %s: %v, skipping", path, err)
		return nil
	}
	return normalize(decoded, detectSchema(decoded))
}

// readRuleFile reads a rule file from disk, falling back to the bundled
// catalogue when the path does not exist but matches a symbolic name.
func (l *Loader) readRuleFile(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}
	if bundled, ok := l.catalog[path]; ok {
		data, err := fs.ReadFile(l.fs, bundled)
		if err != nil {
			return nil, fmt.Errorf("reading bundled rule set %q: %w", path, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("rule file %s not found and is not a bundled rule set", path)
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[warn] "+format+"\n", args...)
}
