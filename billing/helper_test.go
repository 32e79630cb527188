package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voicegroup/purchasing/billing"
	"github.com/voicegroup/purchasing/billing/cache"
	"github.com/voicegroup/purchasing/billing/memory"
	"github.com/voicegroup/purchasing/billing/tests"
	"github.com/voicegroup/purchasing/event"
)

const eventTimeout = 5 * time.Second

var coins = &billing.ProductDetails{
	ProductID:    "com.example.coins",
	Type:         billing.ProductTypeInApp,
	Title:        "Coins",
	PriceMicros:  990_000,
	CurrencyCode: "USD",
}

var gems = &billing.ProductDetails{
	ProductID:    "com.example.gems",
	Type:         billing.ProductTypeInApp,
	Title:        "Gems",
	PriceMicros:  1_990_000,
	CurrencyCode: "USD",
}

func newHelper(t *testing.T, client *memory.Client, opts ...billing.Option) (*billing.Helper, *tests.Host) {
	host := tests.NewHost("com.example.app")
	h, err := billing.NewHelper(zap.Must(zap.NewDevelopment()), host, client.Factory(), opts...)
	require.NoError(t, err)
	t.Cleanup(h.EndConnection)
	return h, host
}

func nextEvent(t *testing.T, h *billing.Helper) billing.Event {
	select {
	case e, ok := <-h.Events():
		require.True(t, ok, "event channel closed")
		return e
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func requireNoEvent(t *testing.T, h *billing.Helper) {
	select {
	case e := <-h.Events():
		t.Fatalf("unexpected event %T", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHelper_ServiceConnected(t *testing.T) {
	client := memory.NewClient("account-1")
	h, _ := newHelper(t, client)

	e := nextEvent(t, h)
	require.Equal(t, billing.ServiceConnected{Code: billing.OK}, e)
	require.True(t, h.IsServiceConnected())
	require.Equal(t, 1, client.Connections())
}

func TestHelper_SetupFailureIsSilent(t *testing.T) {
	client := memory.NewClient("account-1")
	client.SetSetupResponse(billing.BillingUnavailable)

	h, _ := newHelper(t, client)
	requireNoEvent(t, h)
	require.Equal(t, billing.StateDisconnected, h.State())
}

func TestHelper_QueryProductDetails(t *testing.T) {
	client := memory.NewClient("account-1")
	client.AddProduct(coins)
	client.AddProduct(gems)

	h, _ := newHelper(t, client)
	require.IsType(t, billing.ServiceConnected{}, nextEvent(t, h))

	require.NoError(t, h.QueryProductDetails(context.Background(), []string{coins.ProductID, gems.ProductID}, billing.ProductTypeInApp))

	e := nextEvent(t, h)
	received, ok := e.(billing.ProductDetailsReceived)
	require.True(t, ok)
	require.Len(t, received.Details, 2)
	require.Equal(t, coins.ProductID, received.Details[0].ProductID)
	require.Equal(t, gems.ProductID, received.Details[1].ProductID)
}

func TestHelper_QueryProductDetailsFailureDeliversNothing(t *testing.T) {
	client := memory.NewClient("account-1")
	client.AddProduct(coins)
	client.SetQueryResponse(billing.ServiceUnavailable)

	h, _ := newHelper(t, client)
	require.IsType(t, billing.ServiceConnected{}, nextEvent(t, h))

	require.NoError(t, h.QueryProductDetails(context.Background(), []string{coins.ProductID}, billing.ProductTypeInApp))
	requireNoEvent(t, h)
}

func TestHelper_InvalidProductType(t *testing.T) {
	client := memory.NewClient("account-1")
	h, _ := newHelper(t, client)

	require.ErrorIs(t, h.QueryProductDetails(context.Background(), nil, "consumable"), billing.ErrInvalidProductType)
	require.ErrorIs(t, h.QueryPurchaseHistory(context.Background(), ""), billing.ErrInvalidProductType)
	require.ErrorIs(t, h.LaunchBillingFlow(context.Background(), "bogus", "id"), billing.ErrInvalidProductType)
}

func TestHelper_RequestsQueuedWhileConnecting(t *testing.T) {
	client := memory.NewClient("account-1")
	client.AddProduct(coins)
	client.HoldSetup()

	h, _ := newHelper(t, client)
	require.Equal(t, billing.StateConnecting, h.State())

	require.NoError(t, h.QueryProductDetails(context.Background(), []string{coins.ProductID}, billing.ProductTypeInApp))
	require.NoError(t, h.QueryPurchaseHistory(context.Background(), billing.ProductTypeInApp))
	require.Equal(t, 1, client.Connections())

	client.ReleaseSetup()

	require.IsType(t, billing.ServiceConnected{}, nextEvent(t, h))
	require.IsType(t, billing.ProductDetailsReceived{}, nextEvent(t, h))
	require.IsType(t, billing.PurchaseHistoryReceived{}, nextEvent(t, h))
}

func TestHelper_ReconnectAfterDisconnect(t *testing.T) {
	client := memory.NewClient("account-1")
	client.AddProduct(coins)

	h, _ := newHelper(t, client)
	require.IsType(t, billing.ServiceConnected{}, nextEvent(t, h))

	client.Disconnect()
	require.Eventually(t, func() bool {
		return h.State() == billing.StateDisconnected
	}, eventTimeout, 10*time.Millisecond)

	require.NoError(t, h.QueryProductDetails(context.Background(), []string{coins.ProductID}, billing.ProductTypeInApp))
	require.IsType(t, billing.ProductDetailsReceived{}, nextEvent(t, h))
	require.Equal(t, 2, client.Connections())
}

func TestHelper_LaunchBillingFlow(t *testing.T) {
	client := memory.NewClient("account-1")
	client.AddProduct(coins)

	h, _ := newHelper(t, client)
	require.IsType(t, billing.ServiceConnected{}, nextEvent(t, h))

	require.NoError(t, h.LaunchBillingFlow(context.Background(), billing.ProductTypeInApp, coins.ProductID))

	e := nextEvent(t, h)
	updated, ok := e.(billing.PurchasesUpdated)
	require.True(t, ok)
	require.Equal(t, billing.OK, updated.Code)
	require.Len(t, updated.Purchases, 1)
	require.Equal(t, []string{coins.ProductID}, updated.Purchases[0].ProductIDs)

	launches := client.Launches()
	require.Len(t, launches, 1)
	require.Equal(t, coins.ProductID, launches[0].ProductDetails.ProductID)

	require.NoError(t, h.QueryPurchaseHistory(context.Background(), billing.ProductTypeInApp))
	history, ok := nextEvent(t, h).(billing.PurchaseHistoryReceived)
	require.True(t, ok)
	require.Len(t, history.Records, 1)
	require.Equal(t, updated.Purchases[0].PurchaseToken, history.Records[0].PurchaseToken)
}

func TestHelper_LaunchUnknownProductNeverPresentsUI(t *testing.T) {
	client := memory.NewClient("account-1")

	h, _ := newHelper(t, client)
	require.IsType(t, billing.ServiceConnected{}, nextEvent(t, h))

	require.NoError(t, h.LaunchBillingFlow(context.Background(), billing.ProductTypeInApp, "missing"))
	requireNoEvent(t, h)
	require.Empty(t, client.Launches())
}

func TestHelper_LaunchCanceled(t *testing.T) {
	client := memory.NewClient("account-1")
	client.AddProduct(coins)
	client.SetPurchaseResponse(billing.UserCanceled)

	h, _ := newHelper(t, client)
	require.IsType(t, billing.ServiceConnected{}, nextEvent(t, h))

	require.NoError(t, h.LaunchBillingFlow(context.Background(), billing.ProductTypeInApp, coins.ProductID))
	require.Equal(t, billing.PurchasesUpdated{Code: billing.UserCanceled}, nextEvent(t, h))
}

func TestHelper_FeatureSupport(t *testing.T) {
	client := memory.NewClient("account-1")
	client.SetFeatureSupported(billing.FeatureSubscriptions, false)

	h, _ := newHelper(t, client)
	require.IsType(t, billing.ServiceConnected{}, nextEvent(t, h))

	require.True(t, h.IsInAppSupported())
	require.False(t, h.IsSubscriptionSupported())
}

func TestHelper_ManageSubscriptions(t *testing.T) {
	client := memory.NewClient("account-1")
	client.HoldSetup()

	h, host := newHelper(t, client)

	require.NoError(t, h.ManageSubscriptions(context.Background()))
	require.NoError(t, h.ManageSubscription(context.Background(), "com.example.premium"))

	require.Equal(t, []string{
		"https://play.google.com/store/account/subscriptions?package=com.example.app",
		"https://play.google.com/store/account/subscriptions?package=com.example.app&sku=com.example.premium",
	}, host.Opened())

	// Opening the management page never touches the connection.
	require.Equal(t, billing.StateConnecting, h.State())
	require.Equal(t, 1, client.Connections())
}

func TestHelper_EndConnectionTwice(t *testing.T) {
	client := memory.NewClient("account-1")

	h, _ := newHelper(t, client)
	require.IsType(t, billing.ServiceConnected{}, nextEvent(t, h))

	h.EndConnection()
	h.EndConnection()

	require.True(t, client.Ended())
	require.Equal(t, billing.StateClosed, h.State())

	_, ok := <-h.Events()
	require.False(t, ok)

	require.ErrorIs(t, h.QueryPurchaseHistory(context.Background(), billing.ProductTypeSubs), billing.ErrClosed)
}

func TestHelper_AdditionalHandlers(t *testing.T) {
	client := memory.NewClient("account-1")

	seen := make(chan billing.Event, 4)
	h, _ := newHelper(t, client, billing.WithHandler(event.HandlerFunc[billing.Event](func(e billing.Event) {
		seen <- e
	})))

	require.IsType(t, billing.ServiceConnected{}, nextEvent(t, h))
	select {
	case e := <-seen:
		require.IsType(t, billing.ServiceConnected{}, e)
	case <-time.After(eventTimeout):
		t.Fatal("handler did not observe event")
	}
}

func TestHelper_CachedCatalogKeepsEventOrder(t *testing.T) {
	client := memory.NewClient("account-1")
	client.AddProduct(coins)
	client.AddProduct(gems)

	host := tests.NewHost("com.example.app")
	h, err := billing.NewHelper(zap.Must(zap.NewDevelopment()), host, cache.Factory(client.Factory(), time.Minute))
	require.NoError(t, err)
	t.Cleanup(h.EndConnection)

	require.IsType(t, billing.ServiceConnected{}, nextEvent(t, h))

	ctx := context.Background()
	require.NoError(t, h.QueryProductDetails(ctx, []string{coins.ProductID}, billing.ProductTypeInApp))
	require.IsType(t, billing.ProductDetailsReceived{}, nextEvent(t, h))

	// gems misses the cache, coins hits it.
	require.NoError(t, h.QueryProductDetails(ctx, []string{gems.ProductID}, billing.ProductTypeInApp))
	require.NoError(t, h.QueryProductDetails(ctx, []string{coins.ProductID}, billing.ProductTypeInApp))
	require.NoError(t, h.QueryPurchaseHistory(ctx, billing.ProductTypeInApp))

	first, ok := nextEvent(t, h).(billing.ProductDetailsReceived)
	require.True(t, ok)
	require.Equal(t, gems.ProductID, first.Details[0].ProductID)

	second, ok := nextEvent(t, h).(billing.ProductDetailsReceived)
	require.True(t, ok)
	require.Equal(t, coins.ProductID, second.Details[0].ProductID)

	require.IsType(t, billing.PurchaseHistoryReceived{}, nextEvent(t, h))
}
