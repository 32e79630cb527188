package billing

// Event is one of ServiceConnected, ProductDetailsReceived,
// PurchaseHistoryReceived or PurchasesUpdated.
type Event interface {
	isEvent()
}

type ServiceConnected struct {
	Code ResponseCode
}

type ProductDetailsReceived struct {
	Details []*ProductDetails
}

type PurchaseHistoryReceived struct {
	Records []*PurchaseHistoryRecord
}

type PurchasesUpdated struct {
	Code ResponseCode

	// Purchases is nil when the service reported no purchase list.
	Purchases []*Purchase
}

func (ServiceConnected) isEvent()        {}
func (ProductDetailsReceived) isEvent()  {}
func (PurchaseHistoryReceived) isEvent() {}
func (PurchasesUpdated) isEvent()        {}
