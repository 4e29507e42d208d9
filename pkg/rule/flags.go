package rule

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// inlineFlags maps Python-style inline flag letters to regexp2 options.
// Letters without an equivalent (ASCII, locale, template) are accepted and
// ignored so rule files written for other engines still load.
var inlineFlags = map[byte]regexp2.RegexOptions{
	'i': regexp2.IgnoreCase,
	'm': regexp2.Multiline,
	's': regexp2.Singleline,
	'u': regexp2.Unicode,
	'x': regexp2.IgnorePatternWhitespace,
}

var ignoredFlags = map[byte]bool{
	'a': true, // ASCII-only classes
	'l': true, // locale-dependent classes
	't': true, // template
}

// matchTimeout bounds backtracking on pathological rule patterns.
const matchTimeout = 5 * time.Second

// extractInlineFlags strips inline flag groups like (?i) and (?-i) from
// anywhere in the pattern string, accumulating the corresponding regexp2
// options. It returns the stripped pattern, the options, and the flag
// letters that were recognized but have no engine equivalent.
func extractInlineFlags(pattern string) (string, regexp2.RegexOptions, []byte) {
	var opts regexp2.RegexOptions
	var ignored []byte

	strip := func(letter byte) bool {
		pos, neg := "(?"+string(letter)+")", "(?-"+string(letter)+")"
		if !strings.Contains(pattern, pos) && !strings.Contains(pattern, neg) {
			return false
		}
		pattern = strings.ReplaceAll(pattern, pos, "")
		pattern = strings.ReplaceAll(pattern, neg, "")
		return true
	}

	for letter, opt := range inlineFlags {
		if strip(letter) {
			opts |= opt
		}
	}
	for letter := range ignoredFlags {
		if strip(letter) {
			ignored = append(ignored, letter)
		}
	}
	return pattern, opts, ignored
}

// compilePattern extracts inline flags from the pattern string and compiles
// the remainder. RE2 mode is tried first (no backtracking); patterns using
// lookarounds or backreferences fall back to full Perl-compatible mode.
func compilePattern(pattern string) (*regexp2.Regexp, error) {
	stripped, opts, ignored := extractInlineFlags(pattern)
	if len(ignored) > 0 {
		warnf("pattern %q: flags %q have no engine equivalent, ignored", pattern, ignored)
	}

	re, err := regexp2.Compile(stripped, regexp2.RE2|opts)
	if err != nil {
		re, err = regexp2.Compile(stripped, opts)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
		}
	}
	re.MatchTimeout = matchTimeout
	return re, nil
}
