package android

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/androidpublisher/v3"

	"github.com/voicegroup/purchasing/billing"
)

// Play purchase states for one-time products.
const (
	productPurchased = 0
	productCanceled  = 1
	productPending   = 2
)

// Play payment states for subscriptions.
const (
	paymentPending   = 0
	paymentReceived  = 1
	paymentFreeTrial = 2
	paymentDeferred  = 3
)

const (
	acknowledgedState  = 1
	defaultQuantityOne = 1
)

// verifier uses the Google Play Developer API to turn purchase tokens into
// verified purchases.
type verifier struct {
	svc         *androidpublisher.Service
	packageName string
}

// Verify looks the token up and returns the purchase it represents.
// Canceled purchases verify to (nil, nil).
func (v *verifier) Verify(ctx context.Context, productType billing.ProductType, productID, token string) (*billing.Purchase, error) {
	switch productType {
	case billing.ProductTypeInApp:
		call := v.svc.Purchases.Products.Get(v.packageName, productID, token)
		productPurchase, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get product purchase: %w", err)
		}
		return fromProductPurchase(productID, token, productPurchase), nil

	case billing.ProductTypeSubs:
		call := v.svc.Purchases.Subscriptions.Get(v.packageName, productID, token)
		subscriptionPurchase, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get subscription purchase: %w", err)
		}
		return fromSubscriptionPurchase(productID, token, subscriptionPurchase), nil

	default:
		return nil, billing.ErrInvalidProductType
	}
}

func fromProductPurchase(productID, token string, p *androidpublisher.ProductPurchase) *billing.Purchase {
	var state billing.PurchaseState
	switch p.PurchaseState {
	case productPurchased:
		state = billing.PurchaseStatePurchased
	case productPending:
		state = billing.PurchaseStatePending
	case productCanceled:
		return nil
	}

	quantity := int(p.Quantity)
	if quantity == 0 {
		quantity = defaultQuantityOne
	}

	return &billing.Purchase{
		OrderID:       p.OrderId,
		ProductIDs:    []string{productID},
		PurchaseToken: token,
		PurchaseTime:  time.UnixMilli(p.PurchaseTimeMillis),
		State:         state,
		Quantity:      quantity,
		Acknowledged:  p.AcknowledgementState == acknowledgedState,
	}
}

func fromSubscriptionPurchase(productID, token string, p *androidpublisher.SubscriptionPurchase) *billing.Purchase {
	state := billing.PurchaseStatePurchased
	if p.PaymentState != nil {
		switch *p.PaymentState {
		case paymentReceived, paymentFreeTrial:
			state = billing.PurchaseStatePurchased
		case paymentPending, paymentDeferred:
			state = billing.PurchaseStatePending
		}
	}

	return &billing.Purchase{
		OrderID:       p.OrderId,
		ProductIDs:    []string{productID},
		PurchaseToken: token,
		PurchaseTime:  time.UnixMilli(p.StartTimeMillis),
		State:         state,
		Quantity:      defaultQuantityOne,
		Acknowledged:  p.AcknowledgementState == acknowledgedState,
	}
}
