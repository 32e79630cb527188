package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyOptions(t *testing.T) {
	require.Equal(t, DefaultOptions(), ApplyOptions())

	applied := ApplyOptions(WithLimit(10), WithDescending())
	require.Equal(t, 10, applied.Limit)
	require.Equal(t, Descending, applied.Order)

	// Non-positive limits keep the default.
	require.Equal(t, 100, ApplyOptions(WithLimit(0)).Limit)

	require.Equal(t, Ascending, ApplyOptions(WithDescending(), WithOrder(Ascending)).Order)
}

func TestOrder_SQL(t *testing.T) {
	require.Equal(t, "ASC", Ascending.SQL())
	require.Equal(t, "DESC", Descending.SQL())
}
