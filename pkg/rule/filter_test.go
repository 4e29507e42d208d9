package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apkscan/apkscan/pkg/types"
)

func makeLocators(t *testing.T, ids ...string) []*types.SecretLocator {
	t.Helper()
	var out []*types.SecretLocator
	for _, id := range ids {
		loc, err := newLocator("AKIA[A-Z0-9]{16}"+id, id, "", types.SecretGroup{})
		require.NoError(t, err)
		out = append(out, loc)
	}
	return out
}

func TestFilter_Include(t *testing.T) {
	locators := makeLocators(t, "aws-access-token", "gcp-api-key", "slack-token")

	got, err := Filter(locators, FilterConfig{Include: ParsePatterns("aws,gcp")})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFilter_Exclude(t *testing.T) {
	locators := makeLocators(t, "aws-access-token", "gcp-api-key")

	got, err := Filter(locators, FilterConfig{Exclude: ParsePatterns("^gcp")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "aws-access-token", got[0].ID)
}

func TestFilter_InvalidPattern(t *testing.T) {
	_, err := Filter(nil, FilterConfig{Include: []string{"["}})
	assert.Error(t, err)
}

func TestParsePatterns(t *testing.T) {
	assert.Nil(t, ParsePatterns(""))
	assert.Equal(t, []string{"a", "b"}, ParsePatterns(" a , b "))
}
