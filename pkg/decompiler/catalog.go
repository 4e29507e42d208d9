package decompiler

import (
	"fmt"
	"os"
	"os/exec"
	"slices"
)

// Binary describes one external decompiler: how to invoke it and which
// artifact extensions it accepts. OutputFlag may be empty for binaries that
// take the output directory as a positional argument (fernflower).
type Binary struct {
	Name       string
	Path       string // resolved executable; defaults to Name via PATH
	OutputFlag string
	DeobfFlag  string // empty when deobfuscation is unsupported
	ExtraArgs  []string
	Extensions []string

	// NeedsClassFiles marks decompilers that consume .jar/.class rather
	// than Dalvik artifacts; .apk/.dex inputs reach them through enjarify.
	NeedsClassFiles bool
}

// Accepts reports whether the binary's extension set contains ext.
func (b Binary) Accepts(ext string) bool {
	return slices.Contains(b.Extensions, ext)
}

// resolve locates the executable and checks that it exists and is runnable.
func (b Binary) resolve() (Binary, error) {
	path := b.Path
	if path == "" {
		path = b.Name
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return b, fmt.Errorf("decompiler %s: %w", b.Name, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return b, fmt.Errorf("decompiler %s: %w", b.Name, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return b, fmt.Errorf("decompiler %s: %s is not executable", b.Name, resolved)
	}
	b.Path = resolved
	return b, nil
}

// dalvikExtensions are the inputs enjarify can convert to .jar.
var dalvikExtensions = []string{".apk", ".dex"}

// Catalog returns the static records for the six supported decompilers.
// Callers pick a subset by name and may override each Path.
func Catalog() map[string]Binary {
	return map[string]Binary{
		"jadx": {
			Name:       "jadx",
			OutputFlag: "--output-dir",
			DeobfFlag:  "--deobf",
			Extensions: []string{".apk", ".xapk", ".dex", ".jar", ".class", ".smali", ".zip", ".aar", ".arsc", ".aab"},
		},
		"apktool": {
			Name:       "apktool",
			OutputFlag: "-o",
			ExtraArgs:  []string{"d", "-f"},
			Extensions: []string{".apk", ".xapk"},
		},
		"cfr": {
			Name:            "cfr",
			OutputFlag:      "--outputdir",
			Extensions:      []string{".jar", ".class", ".zip"},
			NeedsClassFiles: true,
		},
		"procyon": {
			Name:            "procyon",
			OutputFlag:      "-o",
			Extensions:      []string{".jar", ".class"},
			NeedsClassFiles: true,
		},
		"krakatau": {
			Name:            "krakatau",
			OutputFlag:      "-out",
			ExtraArgs:       []string{"-skip"},
			Extensions:      []string{".jar", ".class", ".zip"},
			NeedsClassFiles: true,
		},
		"fernflower": {
			Name:            "fernflower",
			OutputFlag:      "", // output directory is positional
			Extensions:      []string{".jar", ".class", ".zip"},
			NeedsClassFiles: true,
		},
	}
}

// BinaryNames lists the catalogue names in a stable order.
func BinaryNames() []string {
	return []string{"jadx", "apktool", "cfr", "procyon", "krakatau", "fernflower"}
}
