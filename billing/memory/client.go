package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/voicegroup/purchasing/billing"
)

// Client is an in-memory billing service. Callbacks are delivered in order
// on a single callback goroutine, the way the platform service delivers them
// on its main thread.
type Client struct {
	mu sync.Mutex

	onUpdate billing.PurchasesUpdatedFunc
	account  string

	ready       bool
	ended       bool
	connections int

	setupCode    billing.ResponseCode
	queryCode    billing.ResponseCode
	historyCode  billing.ResponseCode
	launchCode   billing.ResponseCode
	purchaseCode billing.ResponseCode

	listener      billing.StateListener
	holdSetup     bool
	heldListeners []billing.StateListener

	unsupported map[billing.Feature]bool
	catalog     map[billing.ProductType]map[string]*billing.ProductDetails
	history     []*billing.PurchaseHistoryRecord
	launches    []billing.FlowParams

	callbacks billing.CallbackQueue
}

func NewClient(account string) *Client {
	return &Client{
		account:     account,
		unsupported: map[billing.Feature]bool{},
		catalog: map[billing.ProductType]map[string]*billing.ProductDetails{
			billing.ProductTypeInApp: {},
			billing.ProductTypeSubs:  {},
		},
	}
}

// Factory returns a billing.ClientFactory that hands out c.
func (c *Client) Factory() billing.ClientFactory {
	return func(onUpdate billing.PurchasesUpdatedFunc) (billing.Client, error) {
		c.mu.Lock()
		c.onUpdate = onUpdate
		c.mu.Unlock()
		return c, nil
	}
}

func (c *Client) AddProduct(details *billing.ProductDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.catalog[details.Type][details.ProductID] = details.Clone()
}

func (c *Client) AddHistory(record *billing.PurchaseHistoryRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, record.Clone())
}

func (c *Client) SetSetupResponse(code billing.ResponseCode) {
	c.mu.Lock()
	c.setupCode = code
	c.mu.Unlock()
}

func (c *Client) SetQueryResponse(code billing.ResponseCode) {
	c.mu.Lock()
	c.queryCode = code
	c.mu.Unlock()
}

func (c *Client) SetHistoryResponse(code billing.ResponseCode) {
	c.mu.Lock()
	c.historyCode = code
	c.mu.Unlock()
}

// SetLaunchResponse sets the result LaunchBillingFlow returns.
func (c *Client) SetLaunchResponse(code billing.ResponseCode) {
	c.mu.Lock()
	c.launchCode = code
	c.mu.Unlock()
}

// SetPurchaseResponse sets the outcome of launched flows, as reported to the
// purchases updated callback. Anything other than OK reports no purchases.
func (c *Client) SetPurchaseResponse(code billing.ResponseCode) {
	c.mu.Lock()
	c.purchaseCode = code
	c.mu.Unlock()
}

func (c *Client) SetFeatureSupported(feature billing.Feature, supported bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if supported {
		delete(c.unsupported, feature)
	} else {
		c.unsupported[feature] = true
	}
}

// HoldSetup makes connection attempts wait until ReleaseSetup is called.
func (c *Client) HoldSetup() {
	c.mu.Lock()
	c.holdSetup = true
	c.mu.Unlock()
}

// ReleaseSetup completes every held connection attempt with the configured
// setup response.
func (c *Client) ReleaseSetup() {
	c.mu.Lock()
	c.holdSetup = false
	held := c.heldListeners
	c.heldListeners = nil
	c.mu.Unlock()

	for _, listener := range held {
		l := listener
		c.Post(func() { c.finishSetup(l) })
	}
}

// Disconnect simulates the service going away.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.ready = false
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		c.Post(listener.OnBillingServiceDisconnected)
	}
}

// Connections returns how many connection attempts were started.
func (c *Client) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connections
}

// Launches returns the parameters of every billing flow presented.
func (c *Client) Launches() []billing.FlowParams {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]billing.FlowParams(nil), c.launches...)
}

func (c *Client) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ended
}

func (c *Client) StartConnection(listener billing.StateListener) {
	c.mu.Lock()
	c.connections++
	c.listener = listener
	if c.holdSetup {
		c.heldListeners = append(c.heldListeners, listener)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.Post(func() { c.finishSetup(listener) })
}

func (c *Client) finishSetup(listener billing.StateListener) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	code := c.setupCode
	c.ready = code == billing.OK
	c.mu.Unlock()

	listener.OnBillingSetupFinished(billing.ResultOf(code))
}

func (c *Client) EndConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ready = false
	c.ended = true
}

func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ready
}

func (c *Client) IsFeatureSupported(feature billing.Feature) billing.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		return billing.ResultOf(billing.ServiceDisconnected)
	}
	if c.unsupported[feature] {
		return billing.ResultOf(billing.FeatureNotSupported)
	}
	return billing.ResultOf(billing.OK)
}

func (c *Client) QueryProductDetails(ctx context.Context, params billing.ProductDetailsParams, fn billing.ProductDetailsResponseFunc) {
	result, details := c.queryProductDetails(ctx, params)
	c.Post(func() { fn(result, details) })
}

func (c *Client) queryProductDetails(ctx context.Context, params billing.ProductDetailsParams) (billing.Result, []*billing.ProductDetails) {
	if err := ctx.Err(); err != nil {
		return billing.Result{Code: billing.Error, DebugMessage: err.Error()}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		return billing.ResultOf(billing.ServiceDisconnected), nil
	}
	if c.queryCode != billing.OK {
		return billing.ResultOf(c.queryCode), nil
	}

	products, ok := c.catalog[params.Type]
	if !ok {
		return billing.Result{Code: billing.DeveloperError, DebugMessage: "unknown product type"}, nil
	}

	details := []*billing.ProductDetails{}
	for _, id := range params.ProductIDs {
		if d, ok := products[id]; ok {
			details = append(details, d.Clone())
		}
	}
	return billing.ResultOf(billing.OK), details
}

func (c *Client) QueryPurchaseHistory(ctx context.Context, productType billing.ProductType, fn billing.PurchaseHistoryResponseFunc) {
	result, records := c.queryPurchaseHistory(ctx, productType)
	c.Post(func() { fn(result, records) })
}

func (c *Client) queryPurchaseHistory(ctx context.Context, productType billing.ProductType) (billing.Result, []*billing.PurchaseHistoryRecord) {
	if err := ctx.Err(); err != nil {
		return billing.Result{Code: billing.Error, DebugMessage: err.Error()}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		return billing.ResultOf(billing.ServiceDisconnected), nil
	}
	if c.historyCode != billing.OK {
		return billing.ResultOf(c.historyCode), nil
	}

	records := []*billing.PurchaseHistoryRecord{}
	for _, r := range c.history {
		if r.ProductType == productType {
			records = append(records, r.Clone())
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].PurchaseTime.After(records[j].PurchaseTime)
	})
	return billing.ResultOf(billing.OK), records
}

func (c *Client) LaunchBillingFlow(_ context.Context, _ billing.Host, params billing.FlowParams) billing.Result {
	c.mu.Lock()

	if !c.ready {
		c.mu.Unlock()
		return billing.ResultOf(billing.ServiceDisconnected)
	}
	if params.ProductDetails == nil {
		c.mu.Unlock()
		return billing.Result{Code: billing.DeveloperError, DebugMessage: "missing product details"}
	}
	if c.launchCode != billing.OK {
		code := c.launchCode
		c.mu.Unlock()
		return billing.ResultOf(code)
	}

	c.launches = append(c.launches, billing.FlowParams{ProductDetails: params.ProductDetails.Clone()})

	outcome := c.purchaseCode
	product := params.ProductDetails
	if outcome == billing.OK && product.Type == billing.ProductTypeInApp && c.ownsLocked(product.ProductID) {
		outcome = billing.ItemAlreadyOwned
	}

	var purchases []*billing.Purchase
	if outcome == billing.OK {
		purchase := &billing.Purchase{
			OrderID:       "GPA." + uuid.NewString(),
			ProductIDs:    []string{product.ProductID},
			PurchaseToken: newPurchaseToken(),
			PurchaseTime:  time.Now(),
			State:         billing.PurchaseStatePurchased,
			Quantity:      1,
		}
		c.history = append(c.history, billing.HistoryRecordOf(c.account, product.Type, purchase))
		purchases = []*billing.Purchase{purchase}
	}
	onUpdate := c.onUpdate
	c.mu.Unlock()

	if onUpdate != nil {
		c.Post(func() { onUpdate(billing.ResultOf(outcome), purchases) })
	}
	return billing.ResultOf(billing.OK)
}

func (c *Client) ownsLocked(productID string) bool {
	for _, r := range c.history {
		for _, id := range r.ProductIDs {
			if id == productID {
				return true
			}
		}
	}
	return false
}

func (c *Client) Post(fn func()) {
	c.callbacks.Post(fn)
}

// newPurchaseToken returns an opaque token shaped like the store's: random
// bytes in base58.
func newPurchaseToken() string {
	id := uuid.New()
	return base58.Encode(id[:])
}
