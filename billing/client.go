package billing

import "context"

// StateListener receives connection lifecycle callbacks from a Client.
type StateListener interface {
	OnBillingSetupFinished(result Result)
	OnBillingServiceDisconnected()
}

type ProductDetailsResponseFunc func(result Result, details []*ProductDetails)

type PurchaseHistoryResponseFunc func(result Result, records []*PurchaseHistoryRecord)

// PurchasesUpdatedFunc receives purchase state changes. purchases may be nil
// when the result is not OK.
type PurchasesUpdatedFunc func(result Result, purchases []*Purchase)

type ProductDetailsParams struct {
	ProductIDs []string
	Type       ProductType
}

type FlowParams struct {
	ProductDetails *ProductDetails
}

// Client is the billing service session. Implementations deliver every
// callback sequentially on a single callback goroutine, and none of the
// asynchronous methods block the caller.
type Client interface {

	// StartConnection begins the setup handshake. The outcome is reported
	// to listener.OnBillingSetupFinished; a later loss of the service is
	// reported to listener.OnBillingServiceDisconnected.
	StartConnection(listener StateListener)

	// EndConnection releases the session. The client must not be used
	// afterwards.
	EndConnection()

	// IsReady reports whether the session is connected.
	IsReady() bool

	IsFeatureSupported(feature Feature) Result

	QueryProductDetails(ctx context.Context, params ProductDetailsParams, fn ProductDetailsResponseFunc)

	QueryPurchaseHistory(ctx context.Context, productType ProductType, fn PurchaseHistoryResponseFunc)

	// Post schedules fn on the callback goroutine, after every callback the
	// client has already scheduled.
	Post(fn func())

	// LaunchBillingFlow presents the purchase UI on host. The purchase
	// outcome is reported through the PurchasesUpdatedFunc the client was
	// built with; the returned Result only covers starting the flow.
	LaunchBillingFlow(ctx context.Context, host Host, params FlowParams) Result
}

// ClientFactory builds a Client that reports purchase changes to onUpdate.
type ClientFactory func(onUpdate PurchasesUpdatedFunc) (Client, error)

// Host is the foreground application the helper runs in.
type Host interface {
	PackageName() string

	// OpenURL hands a deep link to the platform.
	OpenURL(ctx context.Context, rawURL string) error
}
