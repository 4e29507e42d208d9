package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/apkscan/apkscan/pkg/types"
)

// FilterConfig selects locators by id.
type FilterConfig struct {
	Include []string // regex patterns; empty means include all
	Exclude []string // regex patterns; empty means exclude none
}

// ParsePatterns splits a comma-separated pattern list.
func ParsePatterns(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Filter returns the locators whose id matches any include pattern (or all,
// when none are given) and no exclude pattern.
func Filter(locators []*types.SecretLocator, cfg FilterConfig) ([]*types.SecretLocator, error) {
	include, err := compileFilters(cfg.Include)
	if err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	exclude, err := compileFilters(cfg.Exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}

	var out []*types.SecretLocator
	for _, loc := range locators {
		if len(include) > 0 && !anyMatch(include, loc.ID) {
			continue
		}
		if anyMatch(exclude, loc.ID) {
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}

func compileFilters(patterns []string) ([]*regexp.Regexp, error) {
	var res []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
