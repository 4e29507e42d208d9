// Package pipeline couples the decompile and scan stages into one run:
// inputs fan out to decompilers, produced files stream into the scanner as
// soon as each decompile finishes, and results accumulate with status
// tracking and unique-secret accounting.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apkscan/apkscan/pkg/decompiler"
	"github.com/apkscan/apkscan/pkg/scanner"
	"github.com/apkscan/apkscan/pkg/types"
)

// Counters are the run's monotonic progress counters.
type Counters struct {
	NumFiles            int
	NumDecompiled       int
	NumDecompileSuccess int
	NumDecompileErrors  int
	NumScanning         int
	NumScanned          int
	NumSecrets          int
	NumUniqueSecrets    int
}

// Orchestrator drives decompile and scan over a set of inputs.
type Orchestrator struct {
	driver  *decompiler.Driver
	scanner *scanner.SecretScanner
	status  *StatusPrinter

	mu          sync.Mutex
	counters    Counters
	decompiling map[string]int          // input stem -> pending binary count
	scanning    map[string]struct{}     // decompiled files not yet scanned
	outcomes    []types.DecompileOutcome
	results     []*types.SecretResult
	unique      map[uint64]struct{}

	decompileStart time.Time
	scanStart      time.Time
}

// New creates an orchestrator over a configured driver and scanner.
func New(driver *decompiler.Driver, sc *scanner.SecretScanner, status *StatusPrinter) *Orchestrator {
	if status == nil {
		status = NewStatusPrinter(os.Stderr, true)
	}
	return &Orchestrator{
		driver:      driver,
		scanner:     sc,
		status:      status,
		decompiling: make(map[string]int),
		scanning:    make(map[string]struct{}),
		unique:      make(map[uint64]struct{}),
	}
}

// Run decompiles and scans every input, accumulating results until both
// stages drain or ctx is cancelled. It returns the results gathered so far;
// on cancellation the partial results are still valid for serialization.
func (o *Orchestrator) Run(ctx context.Context, inputs []string) []*types.SecretResult {
	inputCh := o.feedInputs(ctx, inputs)
	outcomeCh := o.driver.Decompile(ctx, inputCh)
	fileCh := o.coupleStages(ctx, outcomeCh)
	resultCh := o.scanner.ScanStream(ctx, fileCh)

	for fr := range resultCh {
		o.handleFileResult(fr)
	}

	o.mu.Lock()
	c := o.counters
	o.mu.Unlock()
	o.status.Line(c, false, false)
	if !o.scanStart.IsZero() {
		o.status.Printf("\nScanning COMPLETE. Scanned %d files with %d secrets found in %s.\n",
			c.NumScanned, c.NumSecrets, time.Since(o.scanStart).Round(time.Millisecond))
	}
	return o.Results()
}

// feedInputs streams inputs into the decompile stage, priming the pending
// count for each before it is submitted.
func (o *Orchestrator) feedInputs(ctx context.Context, inputs []string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for _, input := range inputs {
			ext := strings.ToLower(filepath.Ext(input))

			o.mu.Lock()
			o.counters.NumFiles++
			o.decompiling[stemOf(input)] = o.driver.NumBinariesForExt(ext)
			if o.decompileStart.IsZero() {
				o.decompileStart = time.Now()
				o.status.Printf("\nDecompiling started at %s\n", o.decompileStart.Format("15:04:05"))
			}
			c := o.counters
			o.mu.Unlock()
			o.status.Update(c, true, false)

			select {
			case out <- input:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// coupleStages lazily flat-maps decompile outcomes into the scan stream: as
// soon as an outcome lands with files, those files are forwarded, so
// scanning begins before all decompiles have finished.
func (o *Orchestrator) coupleStages(ctx context.Context, outcomes <-chan types.DecompileOutcome) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for oc := range outcomes {
			files := o.handleOutcome(oc)
			for _, f := range files {
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			}
		}

		o.mu.Lock()
		c := o.counters
		o.mu.Unlock()
		if !o.decompileStart.IsZero() {
			o.status.Printf("\nDecompiling COMPLETE. Decompiled %d files with %d errors in %s.\n",
				c.NumDecompiled, c.NumDecompileErrors, time.Since(o.decompileStart).Round(time.Millisecond))
		}
	}()
	return out
}

// handleOutcome folds one decompile outcome into the run state and returns
// the files to forward into the scan stage.
func (o *Orchestrator) handleOutcome(oc types.DecompileOutcome) []string {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, oc)
	stem := stemOf(oc.InputPath)
	o.decompiling[stem]--

	var toScan []string
	if oc.OK && len(oc.Files) > 0 {
		o.counters.NumDecompileSuccess++
		if o.scanStart.IsZero() {
			o.scanStart = time.Now()
		}
		for _, f := range oc.Files {
			o.counters.NumScanning++
			o.scanning[f] = struct{}{}
		}
		toScan = oc.Files
	} else {
		o.counters.NumDecompileErrors++
	}

	inputDone := o.decompiling[stem] <= 0
	if inputDone {
		o.counters.NumDecompiled++
		delete(o.decompiling, stem)
	}
	c := o.counters
	stillDecompiling := len(o.decompiling) > 0
	stillScanning := len(o.scanning) > 0
	o.mu.Unlock()

	if inputDone {
		o.status.Line(c, stillDecompiling, stillScanning)
	} else {
		o.status.Update(c, stillDecompiling, stillScanning)
	}
	return toScan
}

// handleFileResult folds one scanned file into the run state.
func (o *Orchestrator) handleFileResult(fr types.FileResult) {
	o.mu.Lock()
	if _, ok := o.scanning[fr.FilePath]; ok {
		delete(o.scanning, fr.FilePath)
		o.counters.NumScanned++
	}

	var firstSeen []*types.SecretResult
	for _, r := range fr.Results {
		o.counters.NumSecrets++
		o.results = append(o.results, r)
		if _, dup := o.unique[r.Key()]; !dup {
			o.unique[r.Key()] = struct{}{}
			o.counters.NumUniqueSecrets++
			firstSeen = append(firstSeen, r)
		}
	}
	c := o.counters
	stillDecompiling := len(o.decompiling) > 0
	stillScanning := len(o.scanning) > 0
	o.mu.Unlock()

	for _, r := range firstSeen {
		o.status.SecretFound(r)
	}
	o.status.Update(c, stillDecompiling, stillScanning)
}

// Counters returns a snapshot of the run counters.
func (o *Orchestrator) Counters() Counters {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters
}

// Results returns the accumulated results.
func (o *Orchestrator) Results() []*types.SecretResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*types.SecretResult(nil), o.results...)
}

// Outcomes returns the decompile history.
func (o *Orchestrator) Outcomes() []types.DecompileOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]types.DecompileOutcome(nil), o.outcomes...)
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
