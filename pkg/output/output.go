// Package output groups scan results and serializes them to JSON, YAML, or
// plain text.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/apkscan/apkscan/pkg/types"
)

// Format selects the serialization format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format string from the command line.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSON, FormatYAML:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown output format %q (text, json, yaml)", s)
}

// GroupBy selects how results are keyed in the report.
type GroupBy string

const (
	GroupByFile    GroupBy = "file"
	GroupByLocator GroupBy = "locator"
	GroupByBoth    GroupBy = "both"
)

// ParseGroupBy validates a groupby string from the command line.
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(s) {
	case GroupByFile, GroupByLocator, GroupByBoth:
		return GroupBy(s), nil
	}
	return "", fmt.Errorf("unknown groupby %q (file, locator, both)", s)
}

// Record is the serializable form of one result. Secret bytes that are not
// valid UTF-8 render as a quoted escape so nothing is lost.
type Record struct {
	Secret     string `json:"secret" yaml:"secret"`
	FilePath   string `json:"file_path" yaml:"file_path"`
	LineNumber int    `json:"line_number" yaml:"line_number"`
	Locator    string `json:"locator" yaml:"locator"`
}

func newRecord(r *types.SecretResult) Record {
	secret := string(r.Secret)
	if !utf8.Valid(r.Secret) {
		secret = fmt.Sprintf("%q", r.Secret)
	}
	return Record{
		Secret:     secret,
		FilePath:   r.FilePath,
		LineNumber: r.LineNumber,
		Locator:    r.Locator.Name,
	}
}

// ByLocator groups results under their locator's id.
func ByLocator(results []*types.SecretResult) map[string][]Record {
	grouped := make(map[string][]Record)
	for _, r := range results {
		grouped[r.Locator.ID] = append(grouped[r.Locator.ID], newRecord(r))
	}
	return grouped
}

// ByInputFile groups results under the original input artifact, attributing
// each result's file path back through the decompile outcome that produced
// it.
func ByInputFile(results []*types.SecretResult, outcomes []types.DecompileOutcome) map[string][]Record {
	owner := make(map[string]string)
	for _, oc := range outcomes {
		for _, f := range oc.Files {
			if _, ok := owner[f]; !ok {
				owner[f] = oc.InputPath
			}
		}
	}

	grouped := make(map[string][]Record)
	for _, r := range results {
		input, ok := owner[r.FilePath]
		if !ok {
			continue
		}
		grouped[input] = append(grouped[input], newRecord(r))
	}
	return grouped
}

// Group builds the report structure for the chosen grouping.
func Group(results []*types.SecretResult, outcomes []types.DecompileOutcome, groupby GroupBy) any {
	switch groupby {
	case GroupByFile:
		return ByInputFile(results, outcomes)
	case GroupByLocator:
		return ByLocator(results)
	default:
		return map[string]any{
			"by_file":    ByInputFile(results, outcomes),
			"by_locator": ByLocator(results),
		}
	}
}

// DefaultPath returns the default output path for a format.
func DefaultPath(format Format) string {
	return "./secrets_output." + string(format)
}

// Write serializes the grouped report to path.
func Write(path string, format Format, grouped any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(f)
		enc.SetIndent("", "    ")
		if err := enc.Encode(grouped); err != nil {
			return fmt.Errorf("writing JSON output: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		if err := enc.Encode(grouped); err != nil {
			return fmt.Errorf("writing YAML output: %w", err)
		}
	default:
		if _, err := fmt.Fprintf(f, "%v\n", grouped); err != nil {
			return fmt.Errorf("writing text output: %w", err)
		}
	}
	return nil
}
