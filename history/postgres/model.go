package postgres

import (
	"strings"
	"time"

	"github.com/voicegroup/purchasing/billing"
)

const (
	historyTable = "purchasing_history"

	productIDSeparator = ","
)

// historyModel maps to the purchasing_history table
type historyModel struct {
	PurchaseToken string    `db:"purchaseToken"`
	Account       string    `db:"account"`
	ProductIDs    string    `db:"productIds"`
	ProductType   string    `db:"productType"`
	Quantity      int       `db:"quantity"`
	PurchaseTime  time.Time `db:"purchaseTime"`
	CreatedAt     time.Time `db:"createdAt"`
}

func toHistoryModel(r *billing.PurchaseHistoryRecord) *historyModel {
	return &historyModel{
		PurchaseToken: r.PurchaseToken,
		Account:       r.Account,
		ProductIDs:    strings.Join(r.ProductIDs, productIDSeparator),
		ProductType:   string(r.ProductType),
		Quantity:      r.Quantity,
		PurchaseTime:  r.PurchaseTime.UTC(),
		CreatedAt:     time.Now().UTC(),
	}
}

func fromHistoryModel(m *historyModel) *billing.PurchaseHistoryRecord {
	var productIDs []string
	if m.ProductIDs != "" {
		productIDs = strings.Split(m.ProductIDs, productIDSeparator)
	}

	return &billing.PurchaseHistoryRecord{
		Account:       m.Account,
		ProductIDs:    productIDs,
		ProductType:   billing.ProductType(m.ProductType),
		PurchaseToken: m.PurchaseToken,
		PurchaseTime:  m.PurchaseTime,
		Quantity:      m.Quantity,
	}
}
