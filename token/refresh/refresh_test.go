package refresh_test

import (
	"strings"
	"testing"

	"github.com/jrsteele09/storefront-auth/token/refresh"
	"github.com/stretchr/testify/require"
)

func TestNewValue(t *testing.T) {
	a, err := refresh.NewValue()
	require.NoError(t, err)
	b, err := refresh.NewValue()
	require.NoError(t, err)

	require.Len(t, a, refresh.ValueLength*2)
	require.NotEqual(t, a, b)
	require.True(t, refresh.WellFormed(a))
}

func TestHash(t *testing.T) {
	value, err := refresh.NewValue()
	require.NoError(t, err)

	require.Equal(t, refresh.Hash(value), refresh.Hash(value))
	require.NotEqual(t, value, refresh.Hash(value))
	require.Len(t, refresh.Hash(value), 64)
}

func TestWellFormed(t *testing.T) {
	require.False(t, refresh.WellFormed(""))
	require.False(t, refresh.WellFormed("abc"))
	require.False(t, refresh.WellFormed(strings.Repeat("z", 64)))
}
