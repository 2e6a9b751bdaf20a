package canonical_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Attestor-Labs/attestor/pkg/canonical"
)

func TestMarshal_SortsKeys(t *testing.T) {
	out, err := canonical.Marshal(map[string]any{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(out))
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	out, err := canonical.Marshal(map[string]any{"cmd": "a<b&c>d"})
	require.NoError(t, err)
	assert.Equal(t, `{"cmd":"a<b&c>d"}`, string(out))
}

func TestHash_StableAcrossKeyOrder(t *testing.T) {
	h1, err := canonical.Hash(map[string]any{"x": "1", "y": []any{"a", "b"}})
	require.NoError(t, err)
	h2, err := canonical.Hash(map[string]any{"y": []any{"a", "b"}, "x": "1"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHash_DistinguishesValues(t *testing.T) {
	h1, err := canonical.Hash(map[string]any{"x": 1})
	require.NoError(t, err)
	h2, err := canonical.Hash(map[string]any{"x": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
