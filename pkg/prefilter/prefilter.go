// Package prefilter narrows the locator set applied to a line using
// Aho-Corasick keyword matching. Locators carrying tags only run when one of
// their tags appears in the line; tag-less locators always run.
package prefilter

import (
	"bytes"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"github.com/apkscan/apkscan/pkg/types"
)

// Prefilter indexes locator tags for keyword prefiltering.
type Prefilter struct {
	matcher      *ahocorasick.Matcher
	keywords     []string
	keywordLocs  map[string][]*types.SecretLocator
	untaggedLocs []*types.SecretLocator
	taggedCount  int
}

// New builds a prefilter from the loaded locators. Tags are matched
// case-insensitively.
func New(locators []*types.SecretLocator) *Prefilter {
	pf := &Prefilter{
		keywordLocs: make(map[string][]*types.SecretLocator),
	}

	seen := make(map[string]bool)
	for _, loc := range locators {
		if len(loc.Tags) == 0 {
			pf.untaggedLocs = append(pf.untaggedLocs, loc)
			continue
		}
		pf.taggedCount++
		for _, tag := range loc.Tags {
			tag = strings.ToLower(tag)
			if !seen[tag] {
				seen[tag] = true
				pf.keywords = append(pf.keywords, tag)
			}
			pf.keywordLocs[tag] = append(pf.keywordLocs[tag], loc)
		}
	}

	if len(pf.keywords) > 0 {
		pf.matcher = ahocorasick.NewStringMatcher(pf.keywords)
	}
	return pf
}

// Filter returns the locators that might match line: all tag-less locators
// plus those whose tags occur in the line.
func (pf *Prefilter) Filter(line []byte) []*types.SecretLocator {
	if pf.matcher == nil {
		return pf.untaggedLocs
	}

	result := make([]*types.SecretLocator, 0, len(pf.untaggedLocs))
	result = append(result, pf.untaggedLocs...)

	hits := pf.matcher.Match(bytes.ToLower(line))
	if len(hits) == 0 {
		return result
	}

	seen := make(map[*types.SecretLocator]bool, pf.taggedCount)
	for _, hit := range hits {
		for _, loc := range pf.keywordLocs[pf.keywords[hit]] {
			if !seen[loc] {
				seen[loc] = true
				result = append(result, loc)
			}
		}
	}
	return result
}
