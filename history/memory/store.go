package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/voicegroup/purchasing/billing"
	"github.com/voicegroup/purchasing/history"
	"github.com/voicegroup/purchasing/query"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*billing.PurchaseHistoryRecord
}

func NewInMemory() history.Store {
	return &InMemoryStore{
		records: map[string]*billing.PurchaseHistoryRecord{},
	}
}

func (s *InMemoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*billing.PurchaseHistoryRecord)
}

func (s *InMemoryStore) Record(_ context.Context, record *billing.PurchaseHistoryRecord) error {
	if record.PurchaseToken == "" {
		return errors.New("purchase token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.PurchaseToken]; ok {
		return history.ErrExists
	}

	s.records[record.PurchaseToken] = record.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, purchaseToken string) (*billing.PurchaseHistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[purchaseToken]
	if !ok {
		return nil, history.ErrNotFound
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) List(_ context.Context, account string, productType billing.ProductType, opts ...query.Option) ([]*billing.PurchaseHistoryRecord, error) {
	options := history.ListOptions(opts...)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*billing.PurchaseHistoryRecord
	for _, r := range s.records {
		if r.Account == account && r.ProductType == productType {
			records = append(records, r.Clone())
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].PurchaseTime.Equal(records[j].PurchaseTime) {
			return records[i].PurchaseToken < records[j].PurchaseToken
		}
		if options.Order == query.Descending {
			return records[i].PurchaseTime.After(records[j].PurchaseTime)
		}
		return records[i].PurchaseTime.Before(records[j].PurchaseTime)
	})

	if len(records) > options.Limit {
		records = records[:options.Limit]
	}
	return records, nil
}
