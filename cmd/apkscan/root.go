package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/cobra"

	"github.com/apkscan/apkscan/pkg/decompiler"
	"github.com/apkscan/apkscan/pkg/executor"
	"github.com/apkscan/apkscan/pkg/output"
	"github.com/apkscan/apkscan/pkg/pipeline"
	"github.com/apkscan/apkscan/pkg/rule"
	"github.com/apkscan/apkscan/pkg/scanner"
	"github.com/apkscan/apkscan/pkg/store"
	"github.com/apkscan/apkscan/pkg/types"
)

// exitCode follows the scan contract: 0 when any secret was found, 1
// otherwise (including configuration errors).
var exitCode = 1

var (
	rulePaths    []string
	rulesInclude string
	rulesExclude string

	outputPath   string
	outputFormat string
	groupBy      string
	storePath    string

	cleanup       bool
	noCleanup     bool
	quiet         bool
	deobfuscate   bool
	noDeobfuscate bool
	overwrite     bool

	enjarifyChoice string
	enjarifyPath   string
	ignoreFile     string

	workingDir   string
	outputSuffix string
	extraArgs    []string

	decompilerConcurrencyType string
	decompilerResultsOrder    string
	decompilerMaxWorkers      int
	decompilerChunkSize       int
	decompilerTimeout         int

	scannerConcurrencyType string
	scannerResultsOrder    string
	scannerMaxWorkers      int
	scannerChunkSize       int
	scannerTimeout         int
)

var rootCmd = &cobra.Command{
	Use:   "apkscan [flags] FILES_TO_SCAN...",
	Short: "Scan APK, JAR and other Java artifacts for secrets after decompiling",
	Long: `apkscan decompiles Android and Java archive artifacts with one or more
external decompilers, then scans every produced file line by line with a
corpus of regex secret locators.

Rule files may be in SecretLocator JSON, secrets-patterns-db YAML, gitleaks
TOML, or simple name-to-pattern formats; bundled rule sets are addressed by
name (see "apkscan rules").`,
	Args:          cobra.ArbitraryArgs,
	RunE:          runScan,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.Flags()

	f.StringSliceVarP(&rulePaths, "rules", "r", []string{"default"}, "Rule file paths or bundled rule set names")
	f.StringVar(&rulesInclude, "rules-include", "", "Only load locators whose id matches these regex patterns (comma-separated)")
	f.StringVar(&rulesExclude, "rules-exclude", "", "Drop locators whose id matches these regex patterns (comma-separated)")

	f.StringVarP(&outputPath, "output", "o", "", "Output file for secrets found (default ./secrets_output.<format>)")
	f.StringVarP(&outputFormat, "format", "f", "json", "Output format: text, json, yaml")
	f.StringVarP(&groupBy, "groupby", "g", "both", "Group secrets by input file, locator, or both")
	f.StringVar(&storePath, "store", "", "Also persist results to a SQLite database at this path")

	f.BoolVarP(&cleanup, "cleanup", "c", false, "Remove decompiled output directories after scanning")
	f.BoolVar(&noCleanup, "no-cleanup", false, "Keep decompiled output directories")
	f.BoolVarP(&quiet, "quiet", "q", false, "Suppress status output")
	f.BoolVarP(&deobfuscate, "deobfuscate", "d", true, "Enable decompiler deobfuscation where supported")
	f.BoolVar(&noDeobfuscate, "no-deobfuscate", false, "Disable decompiler deobfuscation")
	f.BoolVar(&overwrite, "overwrite", false, "Re-run decompilers even when output directories already exist")

	// Each decompiler flag enables that binary; an optional value overrides
	// the executable path resolved from PATH.
	for _, name := range decompiler.BinaryNames() {
		f.String(name, "", fmt.Sprintf("Enable the %s decompiler (optionally: path to its executable)", name))
		f.Lookup(name).NoOptDefVal = name
	}

	f.StringVar(&enjarifyChoice, "enjarify-choice", "auto", "Convert .apk/.dex to .jar for class-file decompilers: auto, never, always")
	f.StringVar(&enjarifyPath, "enjarify-path", "", "Path to the enjarify executable")
	f.StringVar(&ignoreFile, "ignore-file", "", "Gitignore-style file filtering which decompiled files are scanned")

	f.StringVarP(&workingDir, "decompiler-working-dir", "w", ".", "Working directory where files will be decompiled")
	f.StringVar(&outputSuffix, "decompiler-output-suffix", "-decompiled", "Suffix for decompiled output directory names")
	f.StringSliceVar(&extraArgs, "decompiler-extra-args", nil, "Additional arguments passed to every decompiler")

	f.StringVar(&decompilerConcurrencyType, "decompiler-concurrency-type", "threaded", "Decompile stage concurrency: serial, threaded, processed")
	f.StringVar(&decompilerResultsOrder, "decompiler-results-order", "completed", "Decompile stage result order: completed, submitted")
	f.IntVar(&decompilerMaxWorkers, "decompiler-max-workers", 6, "Maximum concurrent decompile jobs")
	f.IntVar(&decompilerChunkSize, "decompiler-chunksize", 1, "Inputs handed to a decompile worker at a time")
	f.IntVar(&decompilerTimeout, "decompiler-timeout", 0, "Per-decompile timeout in seconds (0 = none)")

	f.StringVar(&scannerConcurrencyType, "scanner-concurrency-type", "processed", "Scan stage concurrency: serial, threaded, processed")
	f.StringVar(&scannerResultsOrder, "scanner-results-order", "completed", "Scan stage result order: completed, submitted")
	f.IntVar(&scannerMaxWorkers, "scanner-max-workers", 0, "Maximum concurrent scan jobs (0 = CPU count)")
	f.IntVar(&scannerChunkSize, "scanner-chunksize", 1, "Files handed to a scan worker at a time")
	f.IntVar(&scannerTimeout, "scanner-timeout", 0, "Per-file scan timeout in seconds (0 = none)")

	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(versionCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	if noCleanup {
		cleanup = false
	}
	if noDeobfuscate {
		deobfuscate = false
	}

	inputs, err := expandInputs(args)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	groupby, err := output.ParseGroupBy(groupBy)
	if err != nil {
		return err
	}
	if outputPath == "" {
		outputPath = output.DefaultPath(format)
	}

	// Rules.
	loader := rule.NewLoader()
	locators, err := loader.Load(rulePaths)
	if err != nil {
		return err
	}
	if rulesInclude != "" || rulesExclude != "" {
		locators, err = rule.Filter(locators, rule.FilterConfig{
			Include: rule.ParsePatterns(rulesInclude),
			Exclude: rule.ParsePatterns(rulesExclude),
		})
		if err != nil {
			return fmt.Errorf("filtering rules: %w", err)
		}
	}

	// Decompiler driver.
	driverCfg, err := buildDriverConfig(cmd)
	if err != nil {
		return err
	}
	driver, err := decompiler.New(driverCfg)
	if err != nil {
		return err
	}

	// Scanner.
	scanCfg, err := stageConfig(scannerConcurrencyType, scannerResultsOrder, scannerMaxWorkers, scannerChunkSize, scannerTimeout)
	if err != nil {
		return err
	}
	sc := scanner.New(locators, executor.New(scanCfg))

	status := pipeline.NewStatusPrinter(os.Stderr, quiet)
	status.Printf("Loaded %d secret locators from %s\n", len(locators), strings.Join(rulePaths, ", "))
	for _, b := range driver.Binaries() {
		status.Printf("Decompiler: %s (%s)\n", b.Name, b.Path)
	}
	status.Printf("Output file: %s\n", outputPath)

	orch := pipeline.New(driver, sc, status)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := orch.Run(ctx, inputs)
	if ctx.Err() != nil {
		status.Printf("\nInterrupted. Writing output, cleaning up, and exiting...\n")
	}

	// Serialize accumulated output even on cancellation.
	grouped := output.Group(results, orch.Outcomes(), groupby)
	if err := output.Write(outputPath, format, grouped); err != nil {
		fmt.Fprintf(os.Stderr, "[warn] %v\n", err)
	} else {
		status.Printf("Output written to %s\n", outputPath)
	}

	if storePath != "" {
		if err := persistResults(storePath, results); err != nil {
			fmt.Fprintf(os.Stderr, "[warn] storing results: %v\n", err)
		}
	}

	if cleanup {
		if err := driver.Cleanup(); err != nil {
			fmt.Fprintf(os.Stderr, "[warn] cleanup: %v\n", err)
		}
	}
	driver.Executor().Shutdown(false, true)
	sc.Executor().Shutdown(false, true)

	if len(results) > 0 {
		status.Printf("\napkscan done. Secrets saved to %s\n", outputPath)
		exitCode = 0
	} else {
		status.Printf("\napkscan done. No secrets found.\n")
		exitCode = 1
	}
	return nil
}

// expandInputs glob-expands the positional arguments. An argument without
// glob metacharacters passes through untouched so missing files surface as
// decompile errors rather than silently matching nothing.
func expandInputs(args []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[{") {
			inputs = append(inputs, arg)
			continue
		}
		matches, err := doublestar.FilepathGlob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", arg, err)
		}
		inputs = append(inputs, matches...)
	}
	return inputs, nil
}

func buildDriverConfig(cmd *cobra.Command) (decompiler.Config, error) {
	var cfg decompiler.Config

	catalog := decompiler.Catalog()
	for _, name := range decompiler.BinaryNames() {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		b := catalog[name]
		if path := flag.Value.String(); path != name {
			b.Path = path
		}
		cfg.Binaries = append(cfg.Binaries, b)
	}
	// jadx is the default decompiler when none is requested.
	if len(cfg.Binaries) == 0 {
		cfg.Binaries = append(cfg.Binaries, catalog["jadx"])
	}

	choice, err := decompiler.ParseEnjarifyChoice(enjarifyChoice)
	if err != nil {
		return cfg, err
	}

	execCfg, err := stageConfig(decompilerConcurrencyType, decompilerResultsOrder, decompilerMaxWorkers, decompilerChunkSize, decompilerTimeout)
	if err != nil {
		return cfg, err
	}

	cfg.Deobfuscate = deobfuscate
	cfg.WorkingDir = workingDir
	cfg.OutputSuffix = outputSuffix
	cfg.ExtraArgs = extraArgs
	cfg.Overwrite = overwrite
	cfg.RemoveFailedOutputDirs = cleanup
	cfg.SuppressOutput = quiet
	cfg.Enjarify = choice
	cfg.EnjarifyPath = enjarifyPath
	cfg.Executor = execCfg

	if ignoreFile != "" {
		ignore, err := gitignore.CompileIgnoreFile(ignoreFile)
		if err != nil {
			return cfg, fmt.Errorf("reading ignore file: %w", err)
		}
		cfg.Ignore = ignore
	}
	return cfg, nil
}

func stageConfig(mode, order string, maxWorkers, chunkSize, timeoutSeconds int) (executor.Config, error) {
	m, err := executor.ParseMode(mode)
	if err != nil {
		return executor.Config{}, err
	}
	o, err := executor.ParseOrder(order)
	if err != nil {
		return executor.Config{}, err
	}
	return executor.Config{
		Mode:       m,
		Order:      o,
		MaxWorkers: maxWorkers,
		ChunkSize:  chunkSize,
		Timeout:    time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

func persistResults(path string, results []*types.SecretResult) error {
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	seen := make(map[string]bool)
	for _, r := range results {
		if !seen[r.Locator.ID] {
			seen[r.Locator.ID] = true
			if err := db.AddLocator(r.Locator); err != nil {
				return err
			}
		}
		if err := db.AddResult(r); err != nil {
			return err
		}
	}
	return nil
}
