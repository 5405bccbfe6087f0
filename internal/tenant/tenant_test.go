package tenant_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/paybridge/internal/tenant"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"mrch_42":      "mrch_42",
		"wl_mrch_42":   "mrch_42",
		"  wl_mrch_42": "mrch_42",
		"wl_":          "",
		"":             "",
	}
	for in, want := range cases {
		require.Equal(t, want, tenant.Normalize(in), "input %q", in)
	}
}

func TestMatch(t *testing.T) {
	require.True(t, tenant.Match("mrch_42", "mrch_42"))
	require.True(t, tenant.Match("wl_mrch_42", "mrch_42"))
	require.True(t, tenant.Match("mrch_42", "wl_mrch_42"))
	require.False(t, tenant.Match("mrch_42", "mrch_43"))
	require.False(t, tenant.Match("", "mrch_42"))
	require.False(t, tenant.Match("", ""))
	require.False(t, tenant.Match("wl_", "wl_"))
}
