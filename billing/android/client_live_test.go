//go:build android

package android

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voicegroup/purchasing/billing"
	historymemory "github.com/voicegroup/purchasing/history/memory"
)

// Runs against the real Google Play Developer API. Requires
// PURCHASING_SERVICE_ACCOUNT (path to a service account JSON file),
// PURCHASING_PACKAGE and PURCHASING_PRODUCT_ID.
func TestPlayClient_Live(t *testing.T) {
	serviceAccount, err := os.ReadFile(os.Getenv("PURCHASING_SERVICE_ACCOUNT"))
	require.NoError(t, err)

	c := NewClient(zap.Must(zap.NewDevelopment()), Config{
		ServiceAccountJSON: serviceAccount,
		PackageName:        os.Getenv("PURCHASING_PACKAGE"),
		Account:            "live-test",
	}, nil, historymemory.NewInMemory(), nil)
	defer c.EndConnection()

	connectClient(t, c)

	done := make(chan []*billing.ProductDetails, 1)
	c.QueryProductDetails(context.Background(), billing.ProductDetailsParams{
		ProductIDs: []string{os.Getenv("PURCHASING_PRODUCT_ID")},
		Type:       billing.ProductTypeInApp,
	}, func(result billing.Result, details []*billing.ProductDetails) {
		if !result.OK() {
			details = nil
		}
		done <- details
	})

	select {
	case details := <-done:
		require.Len(t, details, 1)
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for product details")
	}
}
