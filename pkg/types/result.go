package types

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// SecretResult is a single locator match in a scanned file.
type SecretResult struct {
	Secret     []byte
	FilePath   string
	LineNumber int // 1-based
	Locator    *SecretLocator
}

// Key returns the result's identity for unique-secret counting: a hash of
// the raw secret bytes.
func (r *SecretResult) Key() uint64 {
	return xxhash.Sum64(r.Secret)
}

func (r *SecretResult) String() string {
	return fmt.Sprintf("%s:%d %s=%s", r.FilePath, r.LineNumber, r.Locator.ID, r.Secret)
}

// FileResult pairs a scanned file with the results it produced, preserving
// the per-file boundary for later grouping.
type FileResult struct {
	FilePath string
	Results  []*SecretResult
}
