package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voicegroup/purchasing/billing"
	"github.com/voicegroup/purchasing/history"
	"github.com/voicegroup/purchasing/query"
)

func RunStoreTests(t *testing.T, s history.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s history.Store){
		testHistoryStore_HappyPath,
		testHistoryStore_List,
		testHistoryStore_ListOptions,
	} {
		tf(t, s)
		teardown()
	}
}

func testHistoryStore_HappyPath(t *testing.T, store history.Store) {
	ctx := context.Background()

	expected := &billing.PurchaseHistoryRecord{
		Account:       "account-1",
		ProductIDs:    []string{"com.example.coins", "com.example.gems"},
		ProductType:   billing.ProductTypeInApp,
		PurchaseToken: "token-1",
		PurchaseTime:  time.Now().UTC().Truncate(time.Millisecond),
		Quantity:      2,
	}

	_, err := store.Get(ctx, expected.PurchaseToken)
	require.Equal(t, history.ErrNotFound, err)

	require.NoError(t, store.Record(ctx, expected))

	actual, err := store.Get(ctx, expected.PurchaseToken)
	require.NoError(t, err)
	require.Equal(t, expected.Account, actual.Account)
	require.Equal(t, expected.ProductIDs, actual.ProductIDs)
	require.Equal(t, expected.ProductType, actual.ProductType)
	require.Equal(t, expected.Quantity, actual.Quantity)
	require.True(t, expected.PurchaseTime.Equal(actual.PurchaseTime))

	require.Equal(t, history.ErrExists, store.Record(ctx, expected))
}

func testHistoryStore_List(t *testing.T, store history.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	records := []*billing.PurchaseHistoryRecord{
		{Account: "account-1", ProductIDs: []string{"a"}, ProductType: billing.ProductTypeInApp, PurchaseToken: "t1", PurchaseTime: now.Add(-2 * time.Hour), Quantity: 1},
		{Account: "account-1", ProductIDs: []string{"b"}, ProductType: billing.ProductTypeInApp, PurchaseToken: "t2", PurchaseTime: now, Quantity: 1},
		{Account: "account-1", ProductIDs: []string{"c"}, ProductType: billing.ProductTypeSubs, PurchaseToken: "t3", PurchaseTime: now, Quantity: 1},
		{Account: "account-2", ProductIDs: []string{"a"}, ProductType: billing.ProductTypeInApp, PurchaseToken: "t4", PurchaseTime: now, Quantity: 1},
	}
	for _, r := range records {
		require.NoError(t, store.Record(ctx, r))
	}

	inapp, err := store.List(ctx, "account-1", billing.ProductTypeInApp)
	require.NoError(t, err)
	require.Len(t, inapp, 2)
	require.Equal(t, "t2", inapp[0].PurchaseToken)
	require.Equal(t, "t1", inapp[1].PurchaseToken)

	subs, err := store.List(ctx, "account-1", billing.ProductTypeSubs)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "t3", subs[0].PurchaseToken)

	none, err := store.List(ctx, "account-3", billing.ProductTypeInApp)
	require.NoError(t, err)
	require.Empty(t, none)
}

func testHistoryStore_ListOptions(t *testing.T, store history.Store) {
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Millisecond)

	for i, token := range []string{"t1", "t2", "t3", "t4"} {
		require.NoError(t, store.Record(ctx, &billing.PurchaseHistoryRecord{
			Account:       "account-1",
			ProductIDs:    []string{"a"},
			ProductType:   billing.ProductTypeInApp,
			PurchaseToken: token,
			PurchaseTime:  start.Add(time.Duration(i) * time.Minute),
			Quantity:      1,
		}))
	}

	newest, err := store.List(ctx, "account-1", billing.ProductTypeInApp, query.WithLimit(2))
	require.NoError(t, err)
	require.Len(t, newest, 2)
	require.Equal(t, "t4", newest[0].PurchaseToken)
	require.Equal(t, "t3", newest[1].PurchaseToken)

	oldest, err := store.List(ctx, "account-1", billing.ProductTypeInApp, query.WithAscending(), query.WithLimit(3))
	require.NoError(t, err)
	require.Len(t, oldest, 3)
	require.Equal(t, "t1", oldest[0].PurchaseToken)
	require.Equal(t, "t2", oldest[1].PurchaseToken)
	require.Equal(t, "t3", oldest[2].PurchaseToken)
}
