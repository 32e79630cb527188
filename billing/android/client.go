package android

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/voicegroup/purchasing/billing"
	"github.com/voicegroup/purchasing/history"
	"github.com/voicegroup/purchasing/query"
)

const (
	defaultLanguage       = "en-US"
	defaultRegion         = "US"
	defaultConnectTimeout = 30 * time.Second

	basePlanStateActive = "ACTIVE"

	purchaseTypeManaged      = "managedUser"
	purchaseTypeSubscription = "subscription"
)

// ErrUserCanceled is returned by a PurchaseUI when the user backs out of the
// purchase.
var ErrUserCanceled = errors.New("purchase canceled by user")

// PurchaseUI presents the store's purchase screen on the device and returns
// the purchase token Google Play issued for the completed purchase.
type PurchaseUI interface {
	Present(ctx context.Context, host billing.Host, details *billing.ProductDetails) (purchaseToken string, err error)
}

type Config struct {
	// The contents of a service account JSON file.
	ServiceAccountJSON []byte

	// PackageName is the Android app's package name.
	PackageName string

	// Account owns the purchases made through this client.
	Account string

	// Language selects the store listing used for titles and descriptions.
	Language string

	// Region selects the regional base plan price of subscriptions.
	Region string

	// Endpoint overrides the Google Play Developer API endpoint. Requests to
	// an overridden endpoint are sent without credentials.
	Endpoint string

	// HTTPClient overrides the transport used for API calls.
	HTTPClient *http.Client

	// HistoryLimit caps the records returned by a history query. Zero keeps
	// the store default.
	HistoryLimit int
}

// Client is a billing.Client backed by the Google Play Developer API.
// One-time product details come from the in-app product catalog and
// subscription details from the monetization subscriptions catalog.
// Purchases are verified against Play before being reported, and purchase
// history is answered from a history.Store fed by verified purchases.
type Client struct {
	log      *zap.Logger
	cfg      Config
	ui       PurchaseUI
	history  history.Store
	onUpdate billing.PurchasesUpdatedFunc

	mu       sync.Mutex
	svc      *androidpublisher.Service
	verifier *verifier
	ready    bool
	ended    bool

	callbacks billing.CallbackQueue
}

// NewFactory returns a billing.ClientFactory building Play backed clients.
func NewFactory(log *zap.Logger, cfg Config, ui PurchaseUI, store history.Store) billing.ClientFactory {
	return func(onUpdate billing.PurchasesUpdatedFunc) (billing.Client, error) {
		return NewClient(log, cfg, ui, store, onUpdate), nil
	}
}

func NewClient(log *zap.Logger, cfg Config, ui PurchaseUI, store history.Store, onUpdate billing.PurchasesUpdatedFunc) *Client {
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}

	return &Client{
		log:      log.With(zap.String("package", cfg.PackageName)),
		cfg:      cfg,
		ui:       ui,
		history:  store,
		onUpdate: onUpdate,
	}
}

func (c *Client) StartConnection(listener billing.StateListener) {
	c.callbacks.Post(func() {
		result := c.connect()
		listener.OnBillingSetupFinished(result)
	})
}

func (c *Client) connect() billing.Result {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return billing.ResultOf(billing.ServiceDisconnected)
	}
	if c.ready {
		c.mu.Unlock()
		return billing.ResultOf(billing.OK)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	svc, err := androidpublisher.NewService(ctx, c.clientOptions()...)
	if err != nil {
		c.log.Warn("Failed to create android publisher client", zap.Error(err))
		return billing.Result{Code: billing.BillingUnavailable, DebugMessage: err.Error()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return billing.ResultOf(billing.ServiceDisconnected)
	}
	c.svc = svc
	c.verifier = &verifier{svc: svc, packageName: c.cfg.PackageName}
	c.ready = true
	return billing.ResultOf(billing.OK)
}

func (c *Client) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.cfg.Endpoint), option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithCredentialsJSON(c.cfg.ServiceAccountJSON))
	}
	if c.cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(c.cfg.HTTPClient))
	}
	return opts
}

func (c *Client) EndConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ready = false
	c.ended = true
	c.svc = nil
	c.verifier = nil
}

func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ready
}

func (c *Client) IsFeatureSupported(feature billing.Feature) billing.Result {
	if !c.IsReady() {
		return billing.ResultOf(billing.ServiceDisconnected)
	}

	switch feature {
	case billing.FeatureInApp, billing.FeatureSubscriptions:
		return billing.ResultOf(billing.OK)
	default:
		return billing.ResultOf(billing.FeatureNotSupported)
	}
}

func (c *Client) service() (*androidpublisher.Service, *verifier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.svc, c.verifier, c.ready
}

func (c *Client) QueryProductDetails(ctx context.Context, params billing.ProductDetailsParams, fn billing.ProductDetailsResponseFunc) {
	svc, _, ready := c.service()
	if !ready {
		c.callbacks.Post(func() { fn(billing.ResultOf(billing.ServiceDisconnected), nil) })
		return
	}

	deliver := c.callbacks.Reserve()
	go func() {
		result, details := c.queryProductDetails(ctx, svc, params)
		deliver(func() { fn(result, details) })
	}()
}

func (c *Client) queryProductDetails(ctx context.Context, svc *androidpublisher.Service, params billing.ProductDetailsParams) (billing.Result, []*billing.ProductDetails) {
	details := []*billing.ProductDetails{}
	for _, id := range params.ProductIDs {
		d, err := c.getProductDetails(ctx, svc, params.Type, id)
		if isNotFound(err) {
			continue
		} else if err != nil {
			c.log.Debug("Failed to get product", zap.String("product_id", id), zap.Error(err))
			return resultFromError(err), nil
		}

		if d == nil || d.Type != params.Type {
			continue
		}
		details = append(details, d)
	}
	return billing.ResultOf(billing.OK), details
}

func (c *Client) getProductDetails(ctx context.Context, svc *androidpublisher.Service, productType billing.ProductType, id string) (*billing.ProductDetails, error) {
	if productType == billing.ProductTypeSubs {
		subscription, err := svc.Monetization.Subscriptions.Get(c.cfg.PackageName, id).Context(ctx).Do()
		if err != nil {
			return nil, err
		}
		return fromSubscription(subscription, c.cfg.Language, c.cfg.Region), nil
	}

	product, err := svc.Inappproducts.Get(c.cfg.PackageName, id).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	d, ok := fromInAppProduct(product, c.cfg.Language)
	if !ok {
		return nil, nil
	}
	return d, nil
}

func (c *Client) QueryPurchaseHistory(ctx context.Context, productType billing.ProductType, fn billing.PurchaseHistoryResponseFunc) {
	if !c.IsReady() {
		c.callbacks.Post(func() { fn(billing.ResultOf(billing.ServiceDisconnected), nil) })
		return
	}

	deliver := c.callbacks.Reserve()
	go func() {
		records, err := c.history.List(ctx, c.cfg.Account, productType, query.WithLimit(c.cfg.HistoryLimit))
		if err != nil {
			c.log.Warn("Failed to list purchase history", zap.Error(err))
			deliver(func() { fn(billing.Result{Code: billing.Error, DebugMessage: err.Error()}, nil) })
			return
		}
		if records == nil {
			records = []*billing.PurchaseHistoryRecord{}
		}
		deliver(func() { fn(billing.ResultOf(billing.OK), records) })
	}()
}

func (c *Client) Post(fn func()) {
	c.callbacks.Post(fn)
}

func (c *Client) LaunchBillingFlow(ctx context.Context, host billing.Host, params billing.FlowParams) billing.Result {
	_, v, ready := c.service()
	if !ready {
		return billing.ResultOf(billing.ServiceDisconnected)
	}
	if params.ProductDetails == nil {
		return billing.Result{Code: billing.DeveloperError, DebugMessage: "missing product details"}
	}
	if c.ui == nil {
		return billing.Result{Code: billing.FeatureNotSupported, DebugMessage: "no purchase ui configured"}
	}

	details := params.ProductDetails.Clone()
	go c.runBillingFlow(ctx, v, host, details)

	return billing.ResultOf(billing.OK)
}

func (c *Client) runBillingFlow(ctx context.Context, v *verifier, host billing.Host, details *billing.ProductDetails) {
	log := c.log.With(zap.String("product_id", details.ProductID))

	token, err := c.ui.Present(ctx, host, details)
	if errors.Is(err, ErrUserCanceled) {
		c.notify(billing.ResultOf(billing.UserCanceled), nil)
		return
	} else if err != nil {
		log.Warn("Purchase flow failed", zap.Error(err))
		c.notify(billing.Result{Code: billing.Error, DebugMessage: err.Error()}, nil)
		return
	}

	purchase, err := v.Verify(ctx, details.Type, details.ProductID, token)
	if err != nil {
		log.Warn("Failed to verify purchase token", zap.Error(err))
		c.notify(resultFromError(err), nil)
		return
	} else if purchase == nil {
		log.Debug("Purchase token refers to a canceled purchase")
		c.notify(billing.ResultOf(billing.ItemUnavailable), nil)
		return
	}

	if purchase.State == billing.PurchaseStatePurchased {
		err = c.history.Record(ctx, billing.HistoryRecordOf(c.cfg.Account, details.Type, purchase))
		if err != nil && !errors.Is(err, history.ErrExists) {
			log.Warn("Failed to record purchase history", zap.Error(err))
		}
	}

	c.notify(billing.ResultOf(billing.OK), []*billing.Purchase{purchase})
}

func (c *Client) notify(result billing.Result, purchases []*billing.Purchase) {
	if c.onUpdate == nil {
		return
	}
	c.callbacks.Post(func() { c.onUpdate(result, purchases) })
}

func fromInAppProduct(p *androidpublisher.InAppProduct, language string) (*billing.ProductDetails, bool) {
	var productType billing.ProductType
	switch p.PurchaseType {
	case purchaseTypeManaged:
		productType = billing.ProductTypeInApp
	case purchaseTypeSubscription:
		productType = billing.ProductTypeSubs
	default:
		return nil, false
	}

	d := &billing.ProductDetails{
		ProductID: p.Sku,
		Type:      productType,
	}

	listing, ok := p.Listings[language]
	if !ok {
		listing, ok = p.Listings[p.DefaultLanguage]
	}
	if ok {
		d.Title = listing.Title
		d.Description = listing.Description
	}

	if p.DefaultPrice != nil {
		d.CurrencyCode = p.DefaultPrice.Currency
		if micros, err := strconv.ParseInt(p.DefaultPrice.PriceMicros, 10, 64); err == nil {
			d.PriceMicros = micros
		}
	}

	return d, true
}

// fromSubscription takes the price of the first active base plan offered in
// region, falling back to its first regional config.
func fromSubscription(s *androidpublisher.Subscription, language, region string) *billing.ProductDetails {
	d := &billing.ProductDetails{
		ProductID: s.ProductId,
		Type:      billing.ProductTypeSubs,
	}

	var listing *androidpublisher.SubscriptionListing
	for _, l := range s.Listings {
		if l.LanguageCode == language {
			listing = l
			break
		}
	}
	if listing == nil && len(s.Listings) > 0 {
		listing = s.Listings[0]
	}
	if listing != nil {
		d.Title = listing.Title
		d.Description = listing.Description
	}

	for _, plan := range s.BasePlans {
		if plan.State != basePlanStateActive || len(plan.RegionalConfigs) == 0 {
			continue
		}

		config := plan.RegionalConfigs[0]
		for _, rc := range plan.RegionalConfigs {
			if rc.RegionCode == region {
				config = rc
				break
			}
		}
		if config.Price != nil {
			d.CurrencyCode = config.Price.CurrencyCode
			d.PriceMicros = config.Price.Units*1_000_000 + config.Price.Nanos/1_000
		}
		break
	}

	return d
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func resultFromError(err error) billing.Result {
	result := billing.Result{Code: billing.Error, DebugMessage: err.Error()}

	var apiErr *googleapi.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Code = billing.ServiceTimeout
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Code == http.StatusNotFound:
			result.Code = billing.ItemUnavailable
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
			result.Code = billing.DeveloperError
		case apiErr.Code >= http.StatusInternalServerError:
			result.Code = billing.ServiceUnavailable
		}
	case errors.As(err, &netErr):
		result.Code = billing.NetworkError
	}
	return result
}
