package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voicegroup/purchasing/event"
)

const (
	defaultEventBuffer   = 64
	defaultNotifyTimeout = 5 * time.Second
)

type options struct {
	eventBuffer   int
	notifyTimeout time.Duration
	handlers      []event.Handler[Event]
}

type Option func(*options)

// WithEventBuffer sets the capacity of the channel returned by Events.
func WithEventBuffer(size int) Option {
	return func(o *options) {
		o.eventBuffer = size
	}
}

// WithNotifyTimeout bounds how long an event waits for room in the Events
// channel before the channel is closed.
func WithNotifyTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.notifyTimeout = timeout
	}
}

// WithHandler registers an additional observer of every event, invoked
// after the Events channel has been notified.
func WithHandler(h event.Handler[Event]) Option {
	return func(o *options) {
		o.handlers = append(o.handlers, h)
	}
}

// Helper is the application facing billing API. Results are never returned
// from its methods; they arrive as events on the Events channel.
type Helper struct {
	log        *zap.Logger
	host       Host
	client     Client
	dispatcher *Dispatcher

	bus           *event.Bus[Event]
	stream        *event.ChannelStream[Event]
	notifyTimeout time.Duration
}

// NewHelper builds the billing client through newClient and starts
// connecting. A ServiceConnected event is emitted once the first connection
// succeeds.
func NewHelper(log *zap.Logger, host Host, newClient ClientFactory, opts ...Option) (*Helper, error) {
	o := options{
		eventBuffer:   defaultEventBuffer,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	log = log.With(zap.String("package", host.PackageName()))

	h := &Helper{
		log:           log,
		host:          host,
		bus:           event.NewBus[Event](),
		stream:        event.NewChannelStream[Event](host.PackageName(), o.eventBuffer),
		notifyTimeout: o.notifyTimeout,
	}

	client, err := newClient(h.onPurchasesUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to create billing client: %w", err)
	}
	h.client = client
	h.dispatcher = NewDispatcher(log, client)

	h.bus.AddHandler(event.HandlerFunc[Event](h.notifyStream))
	for _, handler := range o.handlers {
		h.bus.AddHandler(handler)
	}

	if err := h.dispatcher.Dispatch(h.serviceConnectedRequest()); err != nil {
		return nil, err
	}

	return h, nil
}

// Events returns the channel events are delivered on. It is closed by
// EndConnection, or when the consumer falls behind by more than the notify
// timeout.
func (h *Helper) Events() <-chan Event {
	return h.stream.Channel()
}

func (h *Helper) State() ConnectionState {
	return h.dispatcher.State()
}

func (h *Helper) IsServiceConnected() bool {
	return h.dispatcher.State() == StateConnected
}

// EndConnection releases the billing connection and closes the Events
// channel. Calling it again is a no-op.
func (h *Helper) EndConnection() {
	prev := h.dispatcher.Close()
	if prev == StateClosed {
		return
	}

	if prev != StateDisconnected || h.client.IsReady() {
		h.client.EndConnection()
	}
	h.stream.Close()

	h.log.Debug("Ended billing connection", zap.Stringer("previous_state", prev))
}

// QueryProductDetails requests details for ids. Only an OK response is
// forwarded, as a ProductDetailsReceived event.
func (h *Helper) QueryProductDetails(ctx context.Context, ids []string, productType ProductType) error {
	if !productType.Valid() {
		return ErrInvalidProductType
	}

	params := ProductDetailsParams{
		ProductIDs: append([]string(nil), ids...),
		Type:       productType,
	}

	return h.dispatcher.Dispatch(func() {
		h.client.QueryProductDetails(ctx, params, func(result Result, details []*ProductDetails) {
			if !result.OK() || details == nil {
				h.log.Debug("Dropping product details response", zap.Stringer("code", result.Code))
				return
			}
			h.emit(ProductDetailsReceived{Details: details})
		})
	})
}

// QueryPurchaseHistory requests the purchase history for productType. Only
// an OK response is forwarded, as a PurchaseHistoryReceived event.
func (h *Helper) QueryPurchaseHistory(ctx context.Context, productType ProductType) error {
	if !productType.Valid() {
		return ErrInvalidProductType
	}

	return h.dispatcher.Dispatch(func() {
		h.client.QueryPurchaseHistory(ctx, productType, func(result Result, records []*PurchaseHistoryRecord) {
			if !result.OK() {
				h.log.Debug("Dropping purchase history response", zap.Stringer("code", result.Code))
				return
			}
			h.emit(PurchaseHistoryReceived{Records: records})
		})
	})
}

// LaunchBillingFlow resolves productID and presents the purchase UI for it.
// The outcome arrives as a PurchasesUpdated event. Nothing is presented when
// the product cannot be resolved.
func (h *Helper) LaunchBillingFlow(ctx context.Context, productType ProductType, productID string) error {
	if !productType.Valid() {
		return ErrInvalidProductType
	}

	log := h.log.With(
		zap.String("product_id", productID),
		zap.String("product_type", string(productType)),
	)

	params := ProductDetailsParams{
		ProductIDs: []string{productID},
		Type:       productType,
	}

	return h.dispatcher.Dispatch(func() {
		h.client.QueryProductDetails(ctx, params, func(result Result, details []*ProductDetails) {
			if !result.OK() || len(details) == 0 {
				log.Warn("Product unavailable, not launching billing flow", zap.Stringer("code", result.Code))
				return
			}

			launch := h.client.LaunchBillingFlow(ctx, h.host, FlowParams{ProductDetails: details[0]})
			if !launch.OK() {
				log.Warn("Failed to launch billing flow",
					zap.Stringer("code", launch.Code),
					zap.String("debug_message", launch.DebugMessage),
				)
			}
		})
	})
}

// ManageSubscriptions opens the store's subscription management page for the
// host application. It does not touch the billing connection.
func (h *Helper) ManageSubscriptions(ctx context.Context) error {
	target := ManageSubscriptionsURL(h.host.PackageName())
	h.log.Debug("Opening subscription management", zap.String("url", target))
	return h.host.OpenURL(ctx, target)
}

// ManageSubscription opens the management page of a single subscription.
func (h *Helper) ManageSubscription(ctx context.Context, productID string) error {
	target := ManageSubscriptionURL(h.host.PackageName(), productID)
	h.log.Debug("Opening subscription management", zap.String("url", target))
	return h.host.OpenURL(ctx, target)
}

func (h *Helper) IsSubscriptionSupported() bool {
	return h.isFeatureSupported(FeatureSubscriptions)
}

func (h *Helper) IsInAppSupported() bool {
	return h.isFeatureSupported(FeatureInApp)
}

func (h *Helper) isFeatureSupported(feature Feature) bool {
	result := h.client.IsFeatureSupported(feature)
	if !result.OK() {
		h.log.Warn("Feature support check got an error response",
			zap.String("feature", string(feature)),
			zap.Stringer("code", result.Code),
		)
	}
	return result.OK()
}

func (h *Helper) serviceConnectedRequest() Request {
	return func() {
		h.emit(ServiceConnected{Code: h.dispatcher.LastSetupCode()})
	}
}

func (h *Helper) onPurchasesUpdated(result Result, purchases []*Purchase) {
	h.emit(PurchasesUpdated{Code: result.Code, Purchases: purchases})
}

func (h *Helper) emit(e Event) {
	h.bus.OnEvent(e)
}

func (h *Helper) notifyStream(e Event) {
	err := h.stream.Notify(e, h.notifyTimeout)
	if errors.Is(err, event.ErrStreamClosed) {
		h.log.Debug("Dropping event for closed stream", zap.String("event", fmt.Sprintf("%T", e)))
	} else if err != nil {
		h.log.Warn("Failed to deliver event", zap.String("event", fmt.Sprintf("%T", e)), zap.Error(err))
	}
}
