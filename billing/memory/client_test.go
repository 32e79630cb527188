package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voicegroup/purchasing/billing"
	"github.com/voicegroup/purchasing/billing/tests"
)

func testProducts() []*billing.ProductDetails {
	return []*billing.ProductDetails{
		{
			ProductID:    "com.example.coins",
			Type:         billing.ProductTypeInApp,
			Title:        "Coins",
			Description:  "A pile of coins",
			PriceMicros:  990_000,
			CurrencyCode: "USD",
		},
		{
			ProductID:    "com.example.premium",
			Type:         billing.ProductTypeSubs,
			Title:        "Premium",
			Description:  "Monthly premium",
			PriceMicros:  4_990_000,
			CurrencyCode: "EUR",
		},
	}
}

func newFixture(t *testing.T) *tests.Fixture {
	client := NewClient("account-1")
	for _, p := range testProducts() {
		client.AddProduct(p)
	}

	onUpdate, updates := tests.UpdateRecorder()
	c, err := client.Factory()(onUpdate)
	require.NoError(t, err)
	t.Cleanup(c.EndConnection)

	return &tests.Fixture{
		Client:   c,
		Updates:  updates,
		Products: testProducts(),
		Host:     tests.NewHost("com.example.app"),
	}
}

func TestMemoryClient(t *testing.T) {
	tests.RunClientTests(t, newFixture)
}

type listener struct {
	setup        chan billing.Result
	disconnected chan struct{}
}

func newListener() *listener {
	return &listener{
		setup:        make(chan billing.Result, 4),
		disconnected: make(chan struct{}, 4),
	}
}

func (l *listener) OnBillingSetupFinished(result billing.Result) { l.setup <- result }
func (l *listener) OnBillingServiceDisconnected()                { l.disconnected <- struct{}{} }

func TestMemoryClient_SetupFailure(t *testing.T) {
	client := NewClient("account-1")
	client.SetSetupResponse(billing.BillingUnavailable)

	l := newListener()
	client.StartConnection(l)

	select {
	case result := <-l.setup:
		require.Equal(t, billing.BillingUnavailable, result.Code)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for setup")
	}
	require.False(t, client.IsReady())
	require.Equal(t, 1, client.Connections())
}

func TestMemoryClient_HoldAndRelease(t *testing.T) {
	client := NewClient("account-1")
	client.HoldSetup()

	l := newListener()
	client.StartConnection(l)

	select {
	case <-l.setup:
		t.Fatal("setup finished while held")
	case <-time.After(50 * time.Millisecond):
	}

	client.ReleaseSetup()
	select {
	case result := <-l.setup:
		require.True(t, result.OK())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for setup")
	}
	require.True(t, client.IsReady())
}

func TestMemoryClient_Disconnect(t *testing.T) {
	client := NewClient("account-1")

	l := newListener()
	client.StartConnection(l)
	<-l.setup

	client.Disconnect()
	select {
	case <-l.disconnected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
	require.False(t, client.IsReady())
}

func TestMemoryClient_ItemAlreadyOwned(t *testing.T) {
	client := NewClient("account-1")
	product := testProducts()[0]
	client.AddProduct(product)
	client.AddHistory(&billing.PurchaseHistoryRecord{
		Account:       "account-1",
		ProductIDs:    []string{product.ProductID},
		ProductType:   product.Type,
		PurchaseToken: "token",
		PurchaseTime:  time.Now(),
		Quantity:      1,
	})

	onUpdate, updates := tests.UpdateRecorder()
	c, err := client.Factory()(onUpdate)
	require.NoError(t, err)

	l := newListener()
	c.StartConnection(l)
	<-l.setup

	result := c.LaunchBillingFlow(context.Background(), tests.NewHost("com.example.app"), billing.FlowParams{ProductDetails: product})
	require.True(t, result.OK())

	select {
	case update := <-updates:
		require.Equal(t, billing.ItemAlreadyOwned, update.Result.Code)
		require.Nil(t, update.Purchases)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for purchase update")
	}
}

func TestMemoryClient_QueryFailure(t *testing.T) {
	client := NewClient("account-1")
	client.AddProduct(testProducts()[0])
	client.SetQueryResponse(billing.ServiceUnavailable)

	l := newListener()
	client.StartConnection(l)
	<-l.setup

	done := make(chan struct{})
	client.QueryProductDetails(context.Background(), billing.ProductDetailsParams{
		ProductIDs: []string{"com.example.coins"},
		Type:       billing.ProductTypeInApp,
	}, func(result billing.Result, details []*billing.ProductDetails) {
		require.Equal(t, billing.ServiceUnavailable, result.Code)
		require.Nil(t, details)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for product details")
	}
}
