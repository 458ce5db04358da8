package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterUnmarshal(t *testing.T) {
	var f Filter
	err := json.Unmarshal([]byte(`{"ids":["a"],"kinds":[1,7],"since":10,"limit":5,"#e":["x","y"],"#t":[],"search":"go","unknown":true}`), &f)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, f.IDs)
	require.Nil(t, f.Authors)
	require.Equal(t, []int{1, 7}, f.Kinds)
	require.NotNil(t, f.Since)
	require.Equal(t, int64(10), *f.Since)
	require.Nil(t, f.Until)
	require.Equal(t, 5, f.Limit)
	require.Equal(t, "go", f.Search)
	require.Equal(t, []string{"x", "y"}, f.Tags["e"])
	require.NotNil(t, f.Tags["t"])
	require.Empty(t, f.Tags["t"])
}

func TestFilterUnmarshalRejects(t *testing.T) {
	for _, raw := range []string{`[]`, `{"kinds":"1"}`, `{"#e":"x"}`, `{"limit":-1}`, `{"since":"yesterday"}`} {
		var f Filter
		require.ErrorIs(t, json.Unmarshal([]byte(raw), &f), ErrMalformedFilter, raw)
	}
}

func TestFilterMarshalTags(t *testing.T) {
	since := int64(3)
	raw, err := json.Marshal(Filter{Kinds: []int{1}, Since: &since, Tags: map[string][]string{"p": {"k"}, "e": {"i"}}})
	require.NoError(t, err)
	require.JSONEq(t, `{"kinds":[1],"since":3,"#e":["i"],"#p":["k"]}`, string(raw))

	raw, err = json.Marshal(Filter{Tags: map[string][]string{"e": {"i"}}})
	require.NoError(t, err)
	require.JSONEq(t, `{"#e":["i"]}`, string(raw))
}
