// Package scanner applies secret locators line by line to decompiled files.
package scanner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/apkscan/apkscan/pkg/executor"
	"github.com/apkscan/apkscan/pkg/prefilter"
	"github.com/apkscan/apkscan/pkg/types"
)

// SecretScanner streams files line by line and applies every loaded locator
// to each line. Scanning is CPU-bound regex work, so the concurrent path
// defaults to the executor's processed profile.
type SecretScanner struct {
	locators []*types.SecretLocator
	pre      *prefilter.Prefilter
	exec     *executor.Executor
}

// New creates a scanner over the given locators.
func New(locators []*types.SecretLocator, exec *executor.Executor) *SecretScanner {
	if exec == nil {
		exec = executor.New(executor.Config{Mode: executor.ModeProcessed})
	}
	return &SecretScanner{
		locators: locators,
		pre:      prefilter.New(locators),
		exec:     exec,
	}
}

// Locators returns the loaded locator set.
func (s *SecretScanner) Locators() []*types.SecretLocator {
	return s.locators
}

// Executor returns the scanner's executor so callers can shut it down.
func (s *SecretScanner) Executor() *executor.Executor {
	return s.exec
}

// ScanFile scans one file and returns its results. An unreadable file is
// reported with a warning and an empty result list; it never halts the
// stream.
func (s *SecretScanner) ScanFile(ctx context.Context, path string) types.FileResult {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[warn] cannot read %s: %v\n", path, err)
		return types.FileResult{FilePath: path}
	}
	defer f.Close()

	results := s.scanLines(ctx, f, path)
	return types.FileResult{FilePath: path, Results: results}
}

// scanLines walks the byte stream line by line. Lines are terminated by LF
// or CRLF; line numbers are 1-based in reading order. At most one result is
// emitted per locator per line.
func (s *SecretScanner) scanLines(ctx context.Context, r io.Reader, path string) []*types.SecretResult {
	var results []*types.SecretResult
	br := bufio.NewReader(r)
	lineNumber := 0

	for {
		if ctx.Err() != nil {
			return results
		}
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNumber++
			trimmed := bytes.TrimRight(line, "\r\n")
			for _, loc := range s.pre.Filter(trimmed) {
				if res := matchLine(loc, trimmed, path, lineNumber); res != nil {
					results = append(results, res)
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "[warn] reading %s: %v\n", path, err)
			}
			return results
		}
	}
}

// matchLine applies one locator to one line, returning the first match or
// nil. Regex errors and timeouts skip the locator for this line with a
// warning.
func matchLine(loc *types.SecretLocator, line []byte, path string, lineNumber int) *types.SecretResult {
	m, err := loc.Pattern.FindStringMatch(string(line))
	if err != nil {
		if strings.Contains(err.Error(), "match timeout") {
			fmt.Fprintf(os.Stderr, "[warn] locator %s regex timeout on %s:%d (skipping)\n", loc.ID, path, lineNumber)
		} else {
			fmt.Fprintf(os.Stderr, "[warn] locator %s regex error on %s:%d (skipping): %v\n", loc.ID, path, lineNumber, err)
		}
		return nil
	}
	if m == nil {
		return nil
	}

	secret, ok := extractSecret(m, loc.SecretGroup)
	if !ok {
		return nil
	}
	return &types.SecretResult{
		Secret:     secret,
		FilePath:   path,
		LineNumber: lineNumber,
		Locator:    loc,
	}
}

// extractSecret pulls the configured capture group out of a match. A group
// that did not participate in the match produces no result.
func extractSecret(m *regexp2.Match, group types.SecretGroup) ([]byte, bool) {
	var g *regexp2.Group
	if group.Name != "" {
		g = m.GroupByName(group.Name)
	} else {
		g = m.GroupByNumber(group.Number)
	}
	if g == nil || len(g.Captures) == 0 {
		return nil, false
	}
	return []byte(g.String()), true
}

// ScanStream applies ScanFile across the input stream via the executor,
// preserving the per-file result boundary.
func (s *SecretScanner) ScanStream(ctx context.Context, files <-chan string) <-chan types.FileResult {
	return executor.Map(s.exec, ctx, files, s.ScanFile)
}
