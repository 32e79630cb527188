package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/voicegroup/purchasing/billing"
)

// Client serves product details from a TTL cache, going to the wrapped
// client only for ids it has not seen recently. Everything else passes
// through.
//
// Product details responses are delivered on the wrapped client's callback
// goroutine in the order they were requested, whether they were answered
// from the cache or not.
type Client struct {
	billing.Client

	cache *ttlcache.Cache

	mu      sync.Mutex
	queries []*pendingQuery
}

type pendingQuery struct {
	deliver func()
	ready   bool
}

func NewInCache(client billing.Client, ttl time.Duration) *Client {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	return &Client{
		Client: client,
		cache:  cache,
	}
}

// Factory wraps a billing.ClientFactory so every client it builds is cached.
func Factory(newClient billing.ClientFactory, ttl time.Duration) billing.ClientFactory {
	return func(onUpdate billing.PurchasesUpdatedFunc) (billing.Client, error) {
		client, err := newClient(onUpdate)
		if err != nil {
			return nil, err
		}
		return NewInCache(client, ttl), nil
	}
}

func (c *Client) QueryProductDetails(ctx context.Context, params billing.ProductDetailsParams, fn billing.ProductDetailsResponseFunc) {
	q := &pendingQuery{}
	c.mu.Lock()
	c.queries = append(c.queries, q)
	c.mu.Unlock()

	var (
		cached  = map[string]*billing.ProductDetails{}
		missing []string
	)
	for _, id := range params.ProductIDs {
		if v, ok := c.cache.Get(toCacheKey(params.Type, id)); ok {
			cached[id] = v.(*billing.ProductDetails)
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 && c.Client.IsReady() {
		details := ordered(params.ProductIDs, cached)
		c.complete(q, func() { fn(billing.ResultOf(billing.OK), details) }, false)
		return
	}

	c.Client.QueryProductDetails(ctx, billing.ProductDetailsParams{
		ProductIDs: missing,
		Type:       params.Type,
	}, func(result billing.Result, details []*billing.ProductDetails) {
		if !result.OK() {
			c.complete(q, func() { fn(result, details) }, true)
			return
		}

		for _, d := range details {
			c.cache.Set(toCacheKey(d.Type, d.ProductID), d.Clone())
			cached[d.ProductID] = d
		}
		merged := ordered(params.ProductIDs, cached)
		c.complete(q, func() { fn(result, merged) }, true)
	})
}

// complete marks q answered and releases every answered query at the head of
// the queue. From the wrapped client's callback goroutine they run inline;
// from anywhere else they are posted to it.
func (c *Client) complete(q *pendingQuery, deliver func(), onCallbackGoroutine bool) {
	c.mu.Lock()
	q.deliver = deliver
	q.ready = true

	var released []func()
	for len(c.queries) > 0 && c.queries[0].ready {
		released = append(released, c.queries[0].deliver)
		c.queries[0] = nil
		c.queries = c.queries[1:]
	}

	if !onCallbackGoroutine {
		for _, fn := range released {
			c.Client.Post(fn)
		}
	}
	c.mu.Unlock()

	if onCallbackGoroutine {
		for _, fn := range released {
			fn()
		}
	}
}

func (c *Client) EndConnection() {
	c.Client.EndConnection()
	c.cache.Purge()
}

func ordered(ids []string, found map[string]*billing.ProductDetails) []*billing.ProductDetails {
	details := make([]*billing.ProductDetails, 0, len(ids))
	for _, id := range ids {
		if d, ok := found[id]; ok {
			details = append(details, d.Clone())
		}
	}
	return details
}

func toCacheKey(productType billing.ProductType, productID string) string {
	return string(productType) + "/" + productID
}
