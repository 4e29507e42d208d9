package rule

import (
	"testing"

	"github.com/dlclark/regexp2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractInlineFlags(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		stripped string
		opts     regexp2.RegexOptions
	}{
		{"none", "AKIA[A-Z0-9]{16}", "AKIA[A-Z0-9]{16}", 0},
		{"leading ignorecase", "(?i)api_key=.+", "api_key=.+", regexp2.IgnoreCase},
		{"embedded", "aws(?i)key", "awskey", regexp2.IgnoreCase},
		{"negated form also strips", "(?-i)exact", "exact", regexp2.IgnoreCase},
		{"multiple", "(?i)(?m)(?s)x", "x", regexp2.IgnoreCase | regexp2.Multiline | regexp2.Singleline},
		{"verbose", "(?x)a b", "a b", regexp2.IgnorePatternWhitespace},
		{"unicode", "(?u)\\w+", "\\w+", regexp2.Unicode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stripped, opts, _ := extractInlineFlags(tt.pattern)
			assert.Equal(t, tt.stripped, stripped)
			assert.Equal(t, tt.opts, opts)
		})
	}
}

func TestExtractInlineFlags_UnsupportedIgnored(t *testing.T) {
	stripped, opts, ignored := extractInlineFlags("(?a)(?t)ASCII only")
	assert.Equal(t, "ASCII only", stripped)
	assert.Equal(t, regexp2.RegexOptions(0), opts)
	assert.Len(t, ignored, 2)
}

func TestCompilePattern_InlineFlagApplies(t *testing.T) {
	re, err := compilePattern("(?i)API_KEY=[0-9a-z]{4,}")
	require.NoError(t, err)

	m, err := re.FindStringMatch("api_key=abcd1234")
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestCompilePattern_PerlFallback(t *testing.T) {
	// Lookahead is rejected by RE2 mode; the Perl fallback accepts it.
	re, err := compilePattern(`secret(?=:)`)
	require.NoError(t, err)

	m, err := re.FindStringMatch("secret:value")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "secret", m.String())
}

func TestCompilePattern_Invalid(t *testing.T) {
	_, err := compilePattern("([unclosed")
	assert.Error(t, err)
}
