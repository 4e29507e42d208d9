package decompiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apkscan/apkscan/pkg/executor"
	"github.com/apkscan/apkscan/pkg/types"
)

// fakeDecompiler writes a shell script that copies its input into the
// output directory as contents.txt, mimicking a decompiler run.
func fakeDecompiler(t *testing.T) string {
	t.Helper()
	script := `#!/bin/sh
out=""
while [ $# -gt 1 ]; do
    if [ "$1" = "--output-dir" ]; then
        out="$2"
        shift
    fi
    shift
done
mkdir -p "$out"
cp "$1" "$out/contents.txt"
`
	path := filepath.Join(t.TempDir(), "fakedec")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// failingDecompiler always exits non-zero.
func failingDecompiler(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faildec")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 1\n"), 0o755))
	return path
}

func fakeBinary(path string) Binary {
	return Binary{
		Name:       "fakedec",
		Path:       path,
		OutputFlag: "--output-dir",
		DeobfFlag:  "--deobf",
		Extensions: []string{".apk", ".jar"},
	}
}

func writeArtifact(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func runDriver(t *testing.T, d *Driver, inputs ...string) []types.DecompileOutcome {
	t.Helper()
	in := make(chan string, len(inputs))
	for _, i := range inputs {
		in <- i
	}
	close(in)

	var outcomes []types.DecompileOutcome
	for oc := range d.Decompile(context.Background(), in) {
		outcomes = append(outcomes, oc)
	}
	return outcomes
}

func TestNew_DropsMissingBinaries(t *testing.T) {
	fake := fakeBinary(fakeDecompiler(t))
	missing := Binary{Name: "ghost", Path: "/does/not/exist/ghost", Extensions: []string{".apk"}}

	d, err := New(Config{
		Binaries:   []Binary{fake, missing},
		WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Len(t, d.Binaries(), 1)
}

func TestNew_NoValidBinariesFails(t *testing.T) {
	_, err := New(Config{
		Binaries: []Binary{{Name: "ghost", Path: "/does/not/exist/ghost"}},
	})
	assert.Error(t, err)
}

func TestNew_EnjarifyNeverButRequiredFails(t *testing.T) {
	fake := fakeBinary(fakeDecompiler(t))
	fake.NeedsClassFiles = true

	_, err := New(Config{
		Binaries: []Binary{fake},
		Enjarify: EnjarifyNever,
	})
	assert.Error(t, err)
}

func TestDecompile_HappyPath(t *testing.T) {
	work := t.TempDir()
	d, err := New(Config{
		Binaries:   []Binary{fakeBinary(fakeDecompiler(t))},
		WorkingDir: work,
		Executor:   executor.Config{Mode: executor.ModeSerial},
	})
	require.NoError(t, err)

	input := writeArtifact(t, t.TempDir(), "app.apk", "API_KEY=1234567890abcdef\n")
	outcomes := runDriver(t, d, input)
	require.Len(t, outcomes, 1)

	oc := outcomes[0]
	assert.True(t, oc.OK)
	assert.Equal(t, input, oc.InputPath)
	assert.Equal(t, filepath.Join(work, "app-decompiled", "fakedec"), oc.OutputDir)
	require.Len(t, oc.Files, 1)
	assert.Equal(t, filepath.Join(oc.OutputDir, "contents.txt"), oc.Files[0])

	copied, err := os.ReadFile(oc.Files[0])
	require.NoError(t, err)
	assert.Equal(t, "API_KEY=1234567890abcdef\n", string(copied))
}

func TestDecompile_ExtensionFanOut(t *testing.T) {
	work := t.TempDir()
	jarOnly := fakeBinary(fakeDecompiler(t))
	jarOnly.Name = "jaronly"
	jarOnly.Extensions = []string{".jar"}

	d, err := New(Config{
		Binaries:   []Binary{fakeBinary(fakeDecompiler(t)), jarOnly},
		WorkingDir: work,
		Executor:   executor.Config{Mode: executor.ModeSerial},
	})
	require.NoError(t, err)

	apk := writeArtifact(t, t.TempDir(), "app.apk", "x\n")
	jar := writeArtifact(t, t.TempDir(), "lib.jar", "y\n")
	outcomes := runDriver(t, d, apk, jar)

	// app.apk only fans out to the .apk-capable binary; lib.jar to both.
	assert.Len(t, outcomes, 3)
	assert.Equal(t, 1, d.NumBinariesForExt(".apk"))
	assert.Equal(t, 2, d.NumBinariesForExt(".jar"))
	assert.Equal(t, 0, d.NumBinariesForExt(".exe"))
}

func TestDecompile_FailureRemovesOutputDir(t *testing.T) {
	work := t.TempDir()
	d, err := New(Config{
		Binaries:               []Binary{fakeBinary(failingDecompiler(t))},
		WorkingDir:             work,
		RemoveFailedOutputDirs: true,
		Executor:               executor.Config{Mode: executor.ModeSerial},
	})
	require.NoError(t, err)

	input := writeArtifact(t, t.TempDir(), "app.apk", "x\n")
	outcomes := runDriver(t, d, input)
	require.Len(t, outcomes, 1)

	oc := outcomes[0]
	assert.False(t, oc.OK)
	assert.Nil(t, oc.Files)
	assert.NoDirExists(t, oc.OutputDir)
}

func TestDecompile_FailureKeepsOutputDirWhenRetained(t *testing.T) {
	work := t.TempDir()
	d, err := New(Config{
		Binaries:   []Binary{fakeBinary(failingDecompiler(t))},
		WorkingDir: work,
		Executor:   executor.Config{Mode: executor.ModeSerial},
	})
	require.NoError(t, err)

	input := writeArtifact(t, t.TempDir(), "app.apk", "x\n")
	outcomes := runDriver(t, d, input)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK)
	assert.DirExists(t, outcomes[0].OutputDir)
}

func TestDecompile_ExistingOutputReused(t *testing.T) {
	work := t.TempDir()
	outputDir := filepath.Join(work, "app-decompiled", "fakedec")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	writeArtifact(t, outputDir, "stale.txt", "previous run\n")

	// A failing binary proves the subprocess never ran.
	d, err := New(Config{
		Binaries:   []Binary{fakeBinary(failingDecompiler(t))},
		WorkingDir: work,
		Executor:   executor.Config{Mode: executor.ModeSerial},
	})
	require.NoError(t, err)

	input := writeArtifact(t, t.TempDir(), "app.apk", "x\n")
	outcomes := runDriver(t, d, input)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
	require.Len(t, outcomes[0].Files, 1)
}

func TestDecompile_OverwriteReruns(t *testing.T) {
	work := t.TempDir()
	outputDir := filepath.Join(work, "app-decompiled", "fakedec")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))

	d, err := New(Config{
		Binaries:   []Binary{fakeBinary(fakeDecompiler(t))},
		WorkingDir: work,
		Overwrite:  true,
		Executor:   executor.Config{Mode: executor.ModeSerial},
	})
	require.NoError(t, err)

	input := writeArtifact(t, t.TempDir(), "app.apk", "fresh\n")
	outcomes := runDriver(t, d, input)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].OK)
	require.Len(t, outcomes[0].Files, 1)

	copied, err := os.ReadFile(outcomes[0].Files[0])
	require.NoError(t, err)
	assert.Equal(t, "fresh\n", string(copied))
}

func TestDecompile_IgnoreFileFiltersIndex(t *testing.T) {
	work := t.TempDir()
	script := `#!/bin/sh
out=""
while [ $# -gt 1 ]; do
    if [ "$1" = "--output-dir" ]; then
        out="$2"
        shift
    fi
    shift
done
mkdir -p "$out/res"
cp "$1" "$out/Main.java"
cp "$1" "$out/res/icon.png"
`
	path := filepath.Join(t.TempDir(), "fakedec")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	ignorePath := filepath.Join(t.TempDir(), "scanignore")
	require.NoError(t, os.WriteFile(ignorePath, []byte("*.png\n"), 0o644))
	ignore, err := gitignore.CompileIgnoreFile(ignorePath)
	require.NoError(t, err)

	d, err := New(Config{
		Binaries:   []Binary{fakeBinary(path)},
		WorkingDir: work,
		Ignore:     ignore,
		Executor:   executor.Config{Mode: executor.ModeSerial},
	})
	require.NoError(t, err)

	input := writeArtifact(t, t.TempDir(), "app.apk", "x\n")
	outcomes := runDriver(t, d, input)
	require.Len(t, outcomes, 1)
	require.Len(t, outcomes[0].Files, 1)
	assert.Equal(t, "Main.java", filepath.Base(outcomes[0].Files[0]))
}

func TestCleanup_RemovesTrackedDirs(t *testing.T) {
	work := t.TempDir()
	d, err := New(Config{
		Binaries:   []Binary{fakeBinary(fakeDecompiler(t))},
		WorkingDir: work,
		Executor:   executor.Config{Mode: executor.ModeSerial},
	})
	require.NoError(t, err)

	inputDir := t.TempDir()
	outcomes := runDriver(t, d,
		writeArtifact(t, inputDir, "one.apk", "x\n"),
		writeArtifact(t, inputDir, "two.apk", "y\n"))
	require.Len(t, outcomes, 2)
	assert.Equal(t, 2, d.OutputDirCount())

	require.NoError(t, d.Cleanup())
	for _, oc := range outcomes {
		assert.NoDirExists(t, oc.OutputDir)
	}
	assert.Equal(t, 0, d.OutputDirCount())

	// Idempotent.
	require.NoError(t, d.Cleanup())
}

func TestCatalog_CoversAllSixDecompilers(t *testing.T) {
	catalog := Catalog()
	for _, name := range BinaryNames() {
		b, ok := catalog[name]
		require.True(t, ok, "missing %s", name)
		assert.Equal(t, name, b.Name)
		assert.NotEmpty(t, b.Extensions)
	}

	assert.True(t, catalog["jadx"].Accepts(".apk"))
	assert.True(t, catalog["apktool"].Accepts(".xapk"))
	assert.False(t, catalog["apktool"].Accepts(".jar"))
	assert.True(t, catalog["cfr"].NeedsClassFiles)
	assert.Empty(t, catalog["fernflower"].OutputFlag)
}
