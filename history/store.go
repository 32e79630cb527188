package history

import (
	"context"
	"errors"

	"github.com/voicegroup/purchasing/billing"
	"github.com/voicegroup/purchasing/query"
)

var (
	ErrExists   = errors.New("purchase already recorded")
	ErrNotFound = errors.New("purchase not found")
)

// Store persists the purchase history of accounts, keyed by purchase token.
type Store interface {
	Record(ctx context.Context, record *billing.PurchaseHistoryRecord) error

	Get(ctx context.Context, purchaseToken string) (*billing.PurchaseHistoryRecord, error)

	// List returns the account's records of productType, newest first
	// unless the options say otherwise.
	List(ctx context.Context, account string, productType billing.ProductType, opts ...query.Option) ([]*billing.PurchaseHistoryRecord, error)
}

// ListOptions applies opts over the history defaults: newest first.
func ListOptions(opts ...query.Option) query.Options {
	return query.ApplyOptions(append([]query.Option{query.WithDescending()}, opts...)...)
}
