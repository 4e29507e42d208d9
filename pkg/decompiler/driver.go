// Package decompiler drives external decompiler binaries over input
// artifacts, fanning out each input to every configured binary that accepts
// its extension and indexing the files each run produces.
package decompiler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/apkscan/apkscan/pkg/executor"
	"github.com/apkscan/apkscan/pkg/types"
)

// EnjarifyChoice controls whether .apk/.dex inputs are converted to .jar for
// decompilers that need class files.
type EnjarifyChoice string

const (
	EnjarifyAuto   EnjarifyChoice = "auto"
	EnjarifyNever  EnjarifyChoice = "never"
	EnjarifyAlways EnjarifyChoice = "always"
)

// ParseEnjarifyChoice validates a choice string from the command line.
func ParseEnjarifyChoice(s string) (EnjarifyChoice, error) {
	switch EnjarifyChoice(s) {
	case EnjarifyAuto, EnjarifyNever, EnjarifyAlways:
		return EnjarifyChoice(s), nil
	}
	return "", fmt.Errorf("unknown enjarify choice %q (auto, never, always)", s)
}

// Config for the decompiler driver.
type Config struct {
	Binaries               []Binary
	Deobfuscate            bool
	WorkingDir             string
	OutputSuffix           string
	ExtraArgs              []string // appended to every binary's own extras
	Overwrite              bool
	RemoveFailedOutputDirs bool
	SuppressOutput         bool
	Enjarify               EnjarifyChoice
	EnjarifyPath           string
	Ignore                 *gitignore.GitIgnore // optional index filter
	Executor               executor.Config
}

// Driver runs the configured binaries over inputs through a shared executor.
type Driver struct {
	cfg      Config
	binaries []Binary
	enjarify bool
	exec     *executor.Executor

	mu         sync.Mutex
	outputDirs map[string]string // input stem -> top-level output dir
	converted  map[string]*jarConversion
}

// jarConversion caches one enjarify run per input.
type jarConversion struct {
	once sync.Once
	jar  string
	err  error
}

// job is one (binary, input) pair from the fan-out.
type job struct {
	binary Binary
	input  string
}

// New validates the requested binaries and builds a driver. Binaries whose
// executables cannot be found are dropped with a warning; no valid binary is
// a configuration error, as is needing enjarify when the choice forbids it.
func New(cfg Config) (*Driver, error) {
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "."
	}
	if cfg.OutputSuffix == "" {
		cfg.OutputSuffix = "-decompiled"
	}
	if cfg.Enjarify == "" {
		cfg.Enjarify = EnjarifyAuto
	}

	var binaries []Binary
	for _, b := range cfg.Binaries {
		resolved, err := b.resolve()
		if err != nil {
			fmt.Fprintf(os.Stderr, "[warn] %v, dropping\n", err)
			continue
		}
		resolved.ExtraArgs = append(resolved.ExtraArgs, cfg.ExtraArgs...)
		binaries = append(binaries, resolved)
	}
	if len(binaries) == 0 {
		return nil, fmt.Errorf("no valid decompiler binaries configured")
	}

	required := false
	for _, b := range binaries {
		if b.NeedsClassFiles {
			required = true
		}
	}
	enjarify := false
	switch cfg.Enjarify {
	case EnjarifyAlways:
		enjarify = true
	case EnjarifyAuto:
		enjarify = required
	case EnjarifyNever:
		if required {
			return nil, fmt.Errorf("enjarify disabled but required by configured decompilers")
		}
	}

	if cfg.Executor.Mode == "" {
		cfg.Executor.Mode = executor.ModeThreaded
	}

	return &Driver{
		cfg:        cfg,
		binaries:   binaries,
		enjarify:   enjarify,
		exec:       executor.New(cfg.Executor),
		outputDirs: make(map[string]string),
		converted:  make(map[string]*jarConversion),
	}, nil
}

// Binaries returns the validated binaries.
func (d *Driver) Binaries() []Binary {
	return d.binaries
}

// Executor returns the driver's executor so callers can shut it down.
func (d *Driver) Executor() *executor.Executor {
	return d.exec
}

// NumBinariesForExt reports how many decompile attempts one input with the
// given extension fans out to: binaries accepting the extension directly,
// plus, when enjarify is active and the input is Dalvik, class-file
// decompilers reached through the converted .jar.
func (d *Driver) NumBinariesForExt(ext string) int {
	n := 0
	for _, b := range d.binaries {
		if b.Accepts(ext) {
			n++
		} else if d.enjarify && slices.Contains(dalvikExtensions, ext) && b.NeedsClassFiles && b.Accepts(".jar") {
			n++
		}
	}
	return n
}

// Decompile fans inputs out over the configured binaries through the
// executor, yielding one outcome per (input, binary) attempt.
func (d *Driver) Decompile(ctx context.Context, inputs <-chan string) <-chan types.DecompileOutcome {
	jobs := make(chan job)
	go func() {
		defer close(jobs)
		for input := range inputs {
			ext := strings.ToLower(filepath.Ext(input))
			for _, b := range d.binaries {
				direct := b.Accepts(ext)
				viaJar := !direct && d.enjarify && slices.Contains(dalvikExtensions, ext) && b.NeedsClassFiles && b.Accepts(".jar")
				if !direct && !viaJar {
					continue
				}
				select {
				case jobs <- job{binary: b, input: input}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return executor.Map(d.exec, ctx, jobs, d.decompileOne)
}

// decompileOne runs one (binary, input) attempt and reports its outcome.
// The outcome's InputPath is always the original input, even when the binary
// consumed an enjarify-converted .jar.
func (d *Driver) decompileOne(ctx context.Context, j job) types.DecompileOutcome {
	input := j.input
	stem := stemOf(input)
	outcome := types.DecompileOutcome{InputPath: input, Binary: j.binary.Name}

	actual := input
	ext := strings.ToLower(filepath.Ext(input))
	if d.enjarify && j.binary.NeedsClassFiles && slices.Contains(dalvikExtensions, ext) {
		jar, err := d.convertToJar(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[warn] enjarify %s: %v, skipping %s\n", filepath.Base(input), err, j.binary.Name)
			return outcome
		}
		actual = jar
	}

	topDir := filepath.Join(d.cfg.WorkingDir, stem+d.cfg.OutputSuffix)
	outputDir := filepath.Join(topDir, j.binary.Name)
	outcome.OutputDir = outputDir

	d.mu.Lock()
	d.outputDirs[stem] = topDir
	d.mu.Unlock()

	if _, err := os.Stat(outputDir); err == nil && !d.cfg.Overwrite {
		// Prior output is reused as a successful run.
		outcome.OK = true
		outcome.Files = d.indexOutputDir(outputDir)
		return outcome
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "[warn] creating %s: %v\n", outputDir, err)
		return outcome
	}

	outcome.OK = d.runBinary(ctx, j.binary, actual, outputDir)

	switch {
	case outcome.OK:
		outcome.Files = d.indexOutputDir(outputDir)
	case d.cfg.RemoveFailedOutputDirs:
		removeDir(outputDir)
	default:
		outcome.Files = d.indexOutputDir(outputDir)
	}
	return outcome
}

// runBinary spawns the decompiler with argv
// [binary, extra..., outputFlag, outputDir, deobfFlag?, input].
// A non-zero exit or a spawn failure is a failed outcome, never an abort.
func (d *Driver) runBinary(ctx context.Context, b Binary, input, outputDir string) bool {
	args := make([]string, 0, len(b.ExtraArgs)+4)
	args = append(args, b.ExtraArgs...)
	if b.OutputFlag != "" {
		args = append(args, b.OutputFlag)
	}
	args = append(args, outputDir)
	if d.cfg.Deobfuscate && b.DeobfFlag != "" {
		args = append(args, b.DeobfFlag)
	}
	args = append(args, input)

	cmd := exec.CommandContext(ctx, b.Path, args...)
	if d.cfg.SuppressOutput {
		cmd.Stdout = nil
		cmd.Stderr = nil
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		if _, isExit := err.(*exec.ExitError); !isExit {
			fmt.Fprintf(os.Stderr, "[warn] running %s on %s: %v\n", b.Name, filepath.Base(input), err)
		}
		return false
	}
	return true
}

// convertToJar runs enjarify once per input, producing
// <working_dir>/<stem><suffix>/enjarify/<stem>.jar. A failed conversion
// drops the partial jar.
func (d *Driver) convertToJar(ctx context.Context, input string) (string, error) {
	stem := stemOf(input)

	d.mu.Lock()
	conv, ok := d.converted[input]
	if !ok {
		conv = &jarConversion{}
		d.converted[input] = conv
	}
	d.mu.Unlock()

	conv.once.Do(func() {
		topDir := filepath.Join(d.cfg.WorkingDir, stem+d.cfg.OutputSuffix)
		jarDir := filepath.Join(topDir, "enjarify")
		if err := os.MkdirAll(jarDir, 0o755); err != nil {
			conv.err = err
			return
		}

		d.mu.Lock()
		d.outputDirs[stem] = topDir
		d.mu.Unlock()

		jar := filepath.Join(jarDir, stem+".jar")
		enjarify := d.cfg.EnjarifyPath
		if enjarify == "" {
			enjarify = "enjarify"
		}
		cmd := exec.CommandContext(ctx, enjarify, input, "-o", jar)
		if d.cfg.SuppressOutput {
			cmd.Stdout = nil
			cmd.Stderr = nil
		} else {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Run(); err != nil {
			os.Remove(jar)
			conv.err = fmt.Errorf("converting to jar: %w", err)
			return
		}
		conv.jar = jar
	})
	return conv.jar, conv.err
}

// indexOutputDir recursively lists regular files under dir, honoring the
// optional ignore file.
func (d *Driver) indexOutputDir(dir string) []string {
	var files []string
	filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			fmt.Fprintf(os.Stderr, "[warn] indexing %s: %v\n", dir, err)
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if d.cfg.Ignore != nil {
			if rel, err := filepath.Rel(dir, path); err == nil && d.cfg.Ignore.MatchesPath(rel) {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files
}

// Cleanup removes every tracked output directory in parallel. Idempotent.
func (d *Driver) Cleanup() error {
	d.mu.Lock()
	dirs := make([]string, 0, len(d.outputDirs))
	for _, dir := range d.outputDirs {
		dirs = append(dirs, dir)
	}
	d.outputDirs = make(map[string]string)
	d.mu.Unlock()

	var g errgroup.Group
	for _, dir := range dirs {
		dir := dir
		g.Go(func() error {
			return removeDir(dir)
		})
	}
	return g.Wait()
}

// OutputDirCount reports how many output directories are currently tracked.
func (d *Driver) OutputDirCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outputDirs)
}

func removeDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		fmt.Fprintf(os.Stderr, "[warn] removing %s: %v\n", dir, err)
		return err
	}
	return nil
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
