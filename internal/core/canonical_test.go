package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"e2": 2.0, "e1": 1.0, "a": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","e1":1,"e2":2}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"k": "<a&b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"<a&b>"}`, string(got))
}

func TestMarshalCanonical_Nested(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"list": []any{1.5, true, nil, map[string]any{"z": 1, "y": int64(2)}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"list":[1.5,true,null,{"y":2,"z":1}]}`, string(got))
}

func TestMarshalCanonical_RejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"v": math.NaN()})
	assert.Error(t, err)

	_, err = MarshalCanonical(math.Inf(1))
	assert.Error(t, err)
}

func TestMarshalCanonical_NFC(t *testing.T) {
	a, err := MarshalCanonical("caf\u00e9")
	require.NoError(t, err)
	b, err := MarshalCanonical("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFormatFloat_RoundTrips(t *testing.T) {
	assert.Equal(t, "0.1", FormatFloat(0.1))
	assert.Equal(t, "4", FormatFloat(4))
	assert.Equal(t, "-0.1", FormatFloat(-0.1))
	assert.Equal(t, "0.30000000000000004", FormatFloat(0.1+0.2))
}

func TestSortedKeys_UTF16Order(t *testing.T) {
	// U+FB01 sorts after U+1F600 in UTF-8 byte order but before it in UTF-16.
	keys := SortedKeys(map[string]int{"\U0001F600": 1, "ﬁ": 2, "a": 3})
	assert.Equal(t, []string{"a", "\U0001F600", "ﬁ"}, keys)
}

func TestConfigHash_StableAndNormalized(t *testing.T) {
	assert.Equal(t, ConfigHash("caf\u00e9"), ConfigHash("cafe\u0301"))
	assert.NotEqual(t, ConfigHash("a"), ConfigHash("b"))
	assert.Len(t, ConfigHash(""), 64)
}
