package billing

import "net/url"

const manageSubscriptionsURL = "https://play.google.com/store/account/subscriptions"

// ManageSubscriptionsURL deep links to the store's subscription management
// page for packageName.
func ManageSubscriptionsURL(packageName string) string {
	q := url.Values{}
	q.Set("package", packageName)
	return manageSubscriptionsURL + "?" + q.Encode()
}

// ManageSubscriptionURL deep links to the management page of a single
// subscription product.
func ManageSubscriptionURL(packageName, productID string) string {
	q := url.Values{}
	q.Set("package", packageName)
	q.Set("sku", productID)
	return manageSubscriptionsURL + "?" + q.Encode()
}
