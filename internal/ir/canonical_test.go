package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Scalars(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, `null`},
		{true, `true`},
		{"a<b>&c", `"a<b>&c"`},
		{3.0, `3`},
		{int64(-7), `-7`},
		{1.5, `1.5`},
		{json.Number("12"), `12`},
	}
	for _, tt := range tests {
		got, err := MarshalCanonical(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got))
	}
}

func TestMarshalCanonical_KeyOrderUTF16(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...), which sorts before
	// U+FF61 in UTF-16 but after it in UTF-8.
	obj := map[string]any{"｡": 1.0, "😀": 2.0, "b": 3.0, "a": 4.0}
	got, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":4,"b":3,"😀":2,"｡":1}`, string(got))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	got, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshalCanonical_LineSeparators(t *testing.T) {
	got, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(got))

	got, err = MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(got))
}

func TestMarshalCanonical_Nested(t *testing.T) {
	v := map[string]any{"z": []any{map[string]any{"y": 1.0, "x": nil}}, "a": "s"}
	got, err := MarshalCanonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"s","z":[{"x":null,"y":1}]}`, string(got))
}

func TestMarshalCanonical_Structs(t *testing.T) {
	got, err := MarshalCanonical(FactRef{Fact: "now", Params: map[string]any{"add": "1 day"}})
	require.NoError(t, err)
	assert.Equal(t, `{"fact":"now","params":{"add":"1 day"}}`, string(got))
}

func TestMarshalCanonical_RejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	assert.Error(t, err)
	_, err = MarshalCanonical(map[string]any{"x": math.Inf(1)})
	assert.Error(t, err)
}

func TestFactKey(t *testing.T) {
	k, err := FactKey("srcDoc", nil)
	require.NoError(t, err)
	assert.Equal(t, "srcDoc", k)

	a := MustFactKey("now", map[string]any{"subtract": "14 days", "format": "unix"})
	b := MustFactKey("now", map[string]any{"format": "unix", "subtract": "14 days"})
	c := MustFactKey("now", map[string]any{"format": "unix"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "now#")
}

func TestRuleSetHash_Stable(t *testing.T) {
	var rs RuleSet
	require.NoError(t, json.Unmarshal([]byte(sampleRuleSet), &rs))
	h1, err := RuleSetHash(rs)
	require.NoError(t, err)
	h2, err := RuleSetHash(rs)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashWithDomain_Separation(t *testing.T) {
	assert.NotEqual(t, hashWithDomain("a", []byte("bc")), hashWithDomain("ab", []byte("c")))
}
