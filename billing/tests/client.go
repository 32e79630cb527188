package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voicegroup/purchasing/billing"
)

const callbackTimeout = 5 * time.Second

// Fixture is a freshly built client whose catalog contains Products.
type Fixture struct {
	Client   billing.Client
	Updates  <-chan Update
	Products []*billing.ProductDetails
	Host     billing.Host
}

type Update struct {
	Result    billing.Result
	Purchases []*billing.Purchase
}

// UpdateRecorder returns a PurchasesUpdatedFunc publishing to a buffered
// channel, for fixtures to hand to their client.
func UpdateRecorder() (billing.PurchasesUpdatedFunc, <-chan Update) {
	ch := make(chan Update, 16)
	return func(result billing.Result, purchases []*billing.Purchase) {
		ch <- Update{Result: result, Purchases: purchases}
	}, ch
}

// RunClientTests runs a set of tests against a billing.Client. newFixture is
// called once per test and must register its own cleanup.
func RunClientTests(t *testing.T, newFixture func(t *testing.T) *Fixture) {
	for name, tf := range map[string]func(t *testing.T, f *Fixture){
		"Connect":               testConnect,
		"QueryBeforeConnect":    testQueryBeforeConnect,
		"QueryProductDetails":   testQueryProductDetails,
		"LaunchAndHistory":      testLaunchAndHistory,
		"LaunchWithoutProduct":  testLaunchWithoutProduct,
		"EndConnection":         testEndConnection,
		"FeatureSupportOffline": testFeatureSupportOffline,
		"CallbacksInOrder":      testCallbacksInOrder,
	} {
		t.Run(name, func(t *testing.T) {
			tf(t, newFixture(t))
		})
	}
}

type stateListener struct {
	setup        chan billing.Result
	disconnected chan struct{}
}

func newStateListener() *stateListener {
	return &stateListener{
		setup:        make(chan billing.Result, 4),
		disconnected: make(chan struct{}, 4),
	}
}

func (l *stateListener) OnBillingSetupFinished(result billing.Result) {
	l.setup <- result
}

func (l *stateListener) OnBillingServiceDisconnected() {
	l.disconnected <- struct{}{}
}

func connect(t *testing.T, c billing.Client) {
	l := newStateListener()
	c.StartConnection(l)

	select {
	case result := <-l.setup:
		require.Equal(t, billing.OK, result.Code)
	case <-time.After(callbackTimeout):
		t.Fatal("timed out waiting for billing setup")
	}
	require.True(t, c.IsReady())
}

func queryDetails(t *testing.T, c billing.Client, params billing.ProductDetailsParams) (billing.Result, []*billing.ProductDetails) {
	type response struct {
		result  billing.Result
		details []*billing.ProductDetails
	}
	ch := make(chan response, 1)
	c.QueryProductDetails(context.Background(), params, func(result billing.Result, details []*billing.ProductDetails) {
		ch <- response{result, details}
	})

	select {
	case r := <-ch:
		return r.result, r.details
	case <-time.After(callbackTimeout):
		t.Fatal("timed out waiting for product details")
		return billing.Result{}, nil
	}
}

func queryHistory(t *testing.T, c billing.Client, productType billing.ProductType) (billing.Result, []*billing.PurchaseHistoryRecord) {
	type response struct {
		result  billing.Result
		records []*billing.PurchaseHistoryRecord
	}
	ch := make(chan response, 1)
	c.QueryPurchaseHistory(context.Background(), productType, func(result billing.Result, records []*billing.PurchaseHistoryRecord) {
		ch <- response{result, records}
	})

	select {
	case r := <-ch:
		return r.result, r.records
	case <-time.After(callbackTimeout):
		t.Fatal("timed out waiting for purchase history")
		return billing.Result{}, nil
	}
}

func testConnect(t *testing.T, f *Fixture) {
	require.False(t, f.Client.IsReady())
	connect(t, f.Client)
}

func testQueryBeforeConnect(t *testing.T, f *Fixture) {
	require.NotEmpty(t, f.Products)

	product := f.Products[0]
	result, details := queryDetails(t, f.Client, billing.ProductDetailsParams{
		ProductIDs: []string{product.ProductID},
		Type:       product.Type,
	})
	require.False(t, result.OK())
	require.Empty(t, details)
}

func testQueryProductDetails(t *testing.T, f *Fixture) {
	connect(t, f.Client)

	for _, product := range f.Products {
		result, details := queryDetails(t, f.Client, billing.ProductDetailsParams{
			ProductIDs: []string{product.ProductID, "does.not.exist"},
			Type:       product.Type,
		})
		require.True(t, result.OK())
		require.Len(t, details, 1)
		require.Equal(t, product.ProductID, details[0].ProductID)
		require.Equal(t, product.Type, details[0].Type)
		require.Equal(t, product.PriceMicros, details[0].PriceMicros)
		require.Equal(t, product.CurrencyCode, details[0].CurrencyCode)
	}

	result, details := queryDetails(t, f.Client, billing.ProductDetailsParams{
		ProductIDs: []string{"does.not.exist"},
		Type:       billing.ProductTypeInApp,
	})
	require.True(t, result.OK())
	require.Empty(t, details)
}

func testLaunchAndHistory(t *testing.T, f *Fixture) {
	connect(t, f.Client)

	product := f.Products[0]
	result := f.Client.LaunchBillingFlow(context.Background(), f.Host, billing.FlowParams{ProductDetails: product})
	require.True(t, result.OK())

	var update Update
	select {
	case update = <-f.Updates:
	case <-time.After(callbackTimeout):
		t.Fatal("timed out waiting for purchase update")
	}
	require.Equal(t, billing.OK, update.Result.Code)
	require.Len(t, update.Purchases, 1)

	purchase := update.Purchases[0]
	require.Equal(t, []string{product.ProductID}, purchase.ProductIDs)
	require.Equal(t, billing.PurchaseStatePurchased, purchase.State)
	require.NotEmpty(t, purchase.PurchaseToken)

	historyResult, records := queryHistory(t, f.Client, product.Type)
	require.True(t, historyResult.OK())

	var found bool
	for _, r := range records {
		if r.PurchaseToken == purchase.PurchaseToken {
			found = true
			require.Equal(t, purchase.ProductIDs, r.ProductIDs)
		}
	}
	require.True(t, found)
}

func testLaunchWithoutProduct(t *testing.T, f *Fixture) {
	connect(t, f.Client)

	result := f.Client.LaunchBillingFlow(context.Background(), f.Host, billing.FlowParams{})
	require.Equal(t, billing.DeveloperError, result.Code)

	select {
	case update := <-f.Updates:
		t.Fatalf("unexpected purchase update: %v", update.Result.Code)
	case <-time.After(50 * time.Millisecond):
	}
}

func testEndConnection(t *testing.T, f *Fixture) {
	connect(t, f.Client)

	f.Client.EndConnection()
	require.False(t, f.Client.IsReady())
}

func testFeatureSupportOffline(t *testing.T, f *Fixture) {
	require.False(t, f.Client.IsFeatureSupported(billing.FeatureSubscriptions).OK())

	connect(t, f.Client)
	require.True(t, f.Client.IsFeatureSupported(billing.FeatureSubscriptions).OK())
	require.True(t, f.Client.IsFeatureSupported(billing.FeatureInApp).OK())
}

// testCallbacksInOrder issues a catalog miss, a repeat lookup and a history
// query back to back. Each call must return before its callback runs, and
// callbacks must arrive in request order.
func testCallbacksInOrder(t *testing.T, f *Fixture) {
	connect(t, f.Client)

	ctx := context.Background()
	product := f.Products[0]
	known := billing.ProductDetailsParams{
		ProductIDs: []string{product.ProductID},
		Type:       product.Type,
	}

	// Look the product up once so caching clients answer the repeat locally.
	result, details := queryDetails(t, f.Client, known)
	require.True(t, result.OK())
	require.Len(t, details, 1)

	release := make(chan struct{})
	order := make(chan string, 3)
	issued := make(chan struct{})

	go func() {
		defer close(issued)

		f.Client.QueryProductDetails(ctx, billing.ProductDetailsParams{
			ProductIDs: []string{"does.not.exist"},
			Type:       product.Type,
		}, func(billing.Result, []*billing.ProductDetails) {
			<-release
			order <- "unknown"
		})
		f.Client.QueryProductDetails(ctx, known, func(billing.Result, []*billing.ProductDetails) {
			<-release
			order <- "known"
		})
		f.Client.QueryPurchaseHistory(ctx, product.Type, func(billing.Result, []*billing.PurchaseHistoryRecord) {
			<-release
			order <- "history"
		})
	}()

	select {
	case <-issued:
	case <-time.After(callbackTimeout):
		close(release)
		t.Fatal("a query ran its callback on the calling goroutine")
	}
	close(release)

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case s := <-order:
			got = append(got, s)
		case <-time.After(callbackTimeout):
			t.Fatalf("timed out waiting for callbacks, got %v", got)
		}
	}
	require.Equal(t, []string{"unknown", "known", "history"}, got)
}
