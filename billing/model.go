package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type ResponseCode int

const (
	ServiceTimeout      ResponseCode = -3
	FeatureNotSupported ResponseCode = -2
	ServiceDisconnected ResponseCode = -1
	OK                  ResponseCode = 0
	UserCanceled        ResponseCode = 1
	ServiceUnavailable  ResponseCode = 2
	BillingUnavailable  ResponseCode = 3
	ItemUnavailable     ResponseCode = 4
	DeveloperError      ResponseCode = 5
	Error               ResponseCode = 6
	ItemAlreadyOwned    ResponseCode = 7
	ItemNotOwned        ResponseCode = 8
	NetworkError        ResponseCode = 12
)

func (c ResponseCode) String() string {
	switch c {
	case ServiceTimeout:
		return "SERVICE_TIMEOUT"
	case FeatureNotSupported:
		return "FEATURE_NOT_SUPPORTED"
	case ServiceDisconnected:
		return "SERVICE_DISCONNECTED"
	case OK:
		return "OK"
	case UserCanceled:
		return "USER_CANCELED"
	case ServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case BillingUnavailable:
		return "BILLING_UNAVAILABLE"
	case ItemUnavailable:
		return "ITEM_UNAVAILABLE"
	case DeveloperError:
		return "DEVELOPER_ERROR"
	case Error:
		return "ERROR"
	case ItemAlreadyOwned:
		return "ITEM_ALREADY_OWNED"
	case ItemNotOwned:
		return "ITEM_NOT_OWNED"
	case NetworkError:
		return "NETWORK_ERROR"
	default:
		return fmt.Sprintf("RESPONSE_CODE(%d)", int(c))
	}
}

// Result is the outcome of a call against the billing service. Callers only
// ever distinguish OK from everything else.
type Result struct {
	Code         ResponseCode
	DebugMessage string
}

func (r Result) OK() bool {
	return r.Code == OK
}

func ResultOf(code ResponseCode) Result {
	return Result{Code: code}
}

type ProductType string

const (
	ProductTypeInApp ProductType = "inapp"
	ProductTypeSubs  ProductType = "subs"
)

func (t ProductType) Valid() bool {
	return t == ProductTypeInApp || t == ProductTypeSubs
}

type Feature string

const (
	FeatureSubscriptions           Feature = "subscriptions"
	FeatureInApp                   Feature = "inapp"
	FeatureSubscriptionsUpdate     Feature = "subscriptionsUpdate"
	FeaturePriceChangeConfirmation Feature = "priceChangeConfirmation"
)

type PurchaseState uint8

const (
	PurchaseStateUnspecified PurchaseState = iota
	PurchaseStatePurchased
	PurchaseStatePending
)

type ProductDetails struct {
	ProductID    string
	Type         ProductType
	Title        string
	Description  string
	PriceMicros  int64
	CurrencyCode string
}

// Price is the product price in currency units.
func (d *ProductDetails) Price() decimal.Decimal {
	return decimal.New(d.PriceMicros, -6)
}

// FormattedPrice renders the price with its currency symbol. Unknown
// currency codes fall back to the bare amount followed by the code.
func (d *ProductDetails) FormattedPrice() string {
	amount, _ := d.Price().Float64()

	unit, err := currency.ParseISO(d.CurrencyCode)
	if err != nil {
		return d.Price().StringFixed(2) + " " + d.CurrencyCode
	}

	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(unit.Amount(amount)))
}

func (d *ProductDetails) Clone() *ProductDetails {
	cloned := *d
	return &cloned
}

type Purchase struct {
	OrderID       string
	ProductIDs    []string
	PurchaseToken string
	PurchaseTime  time.Time
	State         PurchaseState
	Quantity      int
	Acknowledged  bool
}

func (p *Purchase) Clone() *Purchase {
	cloned := *p
	cloned.ProductIDs = append([]string(nil), p.ProductIDs...)
	return &cloned
}

type PurchaseHistoryRecord struct {
	Account       string
	ProductIDs    []string
	ProductType   ProductType
	PurchaseToken string
	PurchaseTime  time.Time
	Quantity      int
}

func (r *PurchaseHistoryRecord) Clone() *PurchaseHistoryRecord {
	cloned := *r
	cloned.ProductIDs = append([]string(nil), r.ProductIDs...)
	return &cloned
}

// HistoryRecordOf derives the history entry recorded for a completed
// purchase.
func HistoryRecordOf(account string, productType ProductType, p *Purchase) *PurchaseHistoryRecord {
	return &PurchaseHistoryRecord{
		Account:       account,
		ProductIDs:    append([]string(nil), p.ProductIDs...),
		ProductType:   productType,
		PurchaseToken: p.PurchaseToken,
		PurchaseTime:  p.PurchaseTime,
		Quantity:      p.Quantity,
	}
}
