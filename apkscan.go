// Package apkscan scans Android and Java archive artifacts for embedded
// secrets by decompiling them with external decompiler binaries and running
// regex secret locators over every produced file.
//
// # Basic Usage
//
// Create a scanner with the bundled rules and scan some artifacts:
//
//	scanner, err := apkscan.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer scanner.Close()
//
//	results, err := scanner.Scan(context.Background(), []string{"app.apk"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, r := range results {
//	    fmt.Printf("%s: %s at %s:%d\n", r.Locator.Name, r.Secret, r.FilePath, r.LineNumber)
//	}
package apkscan

import (
	"context"
	"fmt"

	"github.com/apkscan/apkscan/pkg/decompiler"
	"github.com/apkscan/apkscan/pkg/executor"
	"github.com/apkscan/apkscan/pkg/pipeline"
	"github.com/apkscan/apkscan/pkg/rule"
	"github.com/apkscan/apkscan/pkg/scanner"
	"github.com/apkscan/apkscan/pkg/types"
)

// Re-export commonly used types so callers can import just this package.
type (
	// SecretLocator is a named regex plus metadata identifying a class
	// of secret.
	SecretLocator = types.SecretLocator

	// SecretResult is a single locator match in a scanned file.
	SecretResult = types.SecretResult

	// DecompileOutcome records one (input, decompiler) attempt.
	DecompileOutcome = types.DecompileOutcome
)

// Scanner decompiles artifacts and scans the output for secrets.
type Scanner struct {
	driver *decompiler.Driver
	sc     *scanner.SecretScanner
	orch   *pipeline.Orchestrator
	config *config
}

type config struct {
	rulePaths  []string
	locators   []*types.SecretLocator
	decompiler decompiler.Config
	scanExec   executor.Config
	cleanup    bool
}

// Option configures a Scanner.
type Option func(*config)

// WithRules loads locators from the given rule files or bundled rule set
// names instead of the default bundled set.
func WithRules(paths ...string) Option {
	return func(c *config) {
		c.rulePaths = paths
	}
}

// WithLocators uses pre-built locators, skipping rule loading.
func WithLocators(locators []*SecretLocator) Option {
	return func(c *config) {
		c.locators = locators
	}
}

// WithDecompilers selects decompiler binaries by catalogue name.
// The default is jadx alone.
func WithDecompilers(names ...string) Option {
	return func(c *config) {
		catalog := decompiler.Catalog()
		c.decompiler.Binaries = nil
		for _, name := range names {
			if b, ok := catalog[name]; ok {
				c.decompiler.Binaries = append(c.decompiler.Binaries, b)
			}
		}
	}
}

// WithDecompilerConfig replaces the whole driver configuration for callers
// that need binary path overrides or enjarify control.
func WithDecompilerConfig(cfg decompiler.Config) Option {
	return func(c *config) {
		c.decompiler = cfg
	}
}

// WithWorkingDir sets the directory decompile output is written under.
func WithWorkingDir(dir string) Option {
	return func(c *config) {
		c.decompiler.WorkingDir = dir
	}
}

// WithCleanup removes decompile output directories when the scanner is
// closed.
func WithCleanup() Option {
	return func(c *config) {
		c.cleanup = true
	}
}

// WithScanConcurrency configures the scan stage executor.
func WithScanConcurrency(cfg executor.Config) Option {
	return func(c *config) {
		c.scanExec = cfg
	}
}

// New creates a Scanner. By default it loads the bundled "default" rule set
// and decompiles with jadx resolved from PATH.
func New(opts ...Option) (*Scanner, error) {
	cfg := &config{
		rulePaths: []string{"default"},
		scanExec:  executor.Config{Mode: executor.ModeProcessed},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	locators := cfg.locators
	if locators == nil {
		var err error
		locators, err = rule.NewLoader().Load(cfg.rulePaths)
		if err != nil {
			return nil, fmt.Errorf("loading rules: %w", err)
		}
	}

	if len(cfg.decompiler.Binaries) == 0 {
		cfg.decompiler.Binaries = []decompiler.Binary{decompiler.Catalog()["jadx"]}
	}
	driver, err := decompiler.New(cfg.decompiler)
	if err != nil {
		return nil, fmt.Errorf("configuring decompilers: %w", err)
	}

	sc := scanner.New(locators, executor.New(cfg.scanExec))
	return &Scanner{
		driver: driver,
		sc:     sc,
		orch:   pipeline.New(driver, sc, nil),
		config: cfg,
	}, nil
}

// Scan decompiles and scans the given artifacts, returning every secret
// found. Partial results are returned when ctx is cancelled mid-run.
func (s *Scanner) Scan(ctx context.Context, inputs []string) ([]*SecretResult, error) {
	return s.orch.Run(ctx, inputs), ctx.Err()
}

// Counters returns the run's progress counters.
func (s *Scanner) Counters() pipeline.Counters {
	return s.orch.Counters()
}

// Outcomes returns the decompile history for result attribution.
func (s *Scanner) Outcomes() []DecompileOutcome {
	return s.orch.Outcomes()
}

// Locators returns the loaded locator set.
func (s *Scanner) Locators() []*SecretLocator {
	return s.sc.Locators()
}

// Close releases worker pools and, when cleanup was requested, removes the
// decompile output directories. Always call Close when done.
func (s *Scanner) Close() error {
	var err error
	if s.config.cleanup {
		err = s.driver.Cleanup()
	}
	s.driver.Executor().Shutdown(false, true)
	s.sc.Executor().Shutdown(false, true)
	return err
}

// LoadRules loads locators from rule files or bundled rule set names.
func LoadRules(paths ...string) ([]*SecretLocator, error) {
	return rule.NewLoader().Load(paths)
}
