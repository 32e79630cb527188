package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voicegroup/purchasing/billing"
	"github.com/voicegroup/purchasing/billing/android"
)

var coins = &billing.ProductDetails{
	ProductID:    "coins_100",
	Type:         billing.ProductTypeInApp,
	Title:        "100 Coins",
	PriceMicros:  990_000,
	CurrencyCode: "USD",
}

func TestTerminalHost_Present(t *testing.T) {
	var out bytes.Buffer
	host := newTerminalHost("com.example.app", strings.NewReader("  token-1 \n"), &out)

	token, err := host.Present(context.Background(), host, coins)
	require.NoError(t, err)
	require.Equal(t, "token-1", token)
	require.Contains(t, out.String(), "coins_100")
	require.Contains(t, out.String(), "0.99")
}

func TestTerminalHost_EmptyTokenCancels(t *testing.T) {
	var out bytes.Buffer
	host := newTerminalHost("com.example.app", strings.NewReader("\n"), &out)

	_, err := host.Present(context.Background(), host, coins)
	require.ErrorIs(t, err, android.ErrUserCanceled)

	// EOF without input cancels too.
	host = newTerminalHost("com.example.app", strings.NewReader(""), &out)
	_, err = host.Present(context.Background(), host, coins)
	require.ErrorIs(t, err, android.ErrUserCanceled)
}

func TestTerminalHost_OpenURL(t *testing.T) {
	var out bytes.Buffer
	host := newTerminalHost("com.example.app", strings.NewReader(""), &out)

	require.Equal(t, "com.example.app", host.PackageName())
	require.NoError(t, host.OpenURL(context.Background(), billing.ManageSubscriptionsURL(host.PackageName())))
	require.Contains(t, out.String(), "package=com.example.app")
}
