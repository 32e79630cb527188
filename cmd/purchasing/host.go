package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/voicegroup/purchasing/billing"
	"github.com/voicegroup/purchasing/billing/android"
)

// terminalHost stands in for the foreground application: deep links are
// printed and purchase tokens are read back from the terminal.
type terminalHost struct {
	pkg string
	in  *bufio.Reader
	out io.Writer
}

func newTerminalHost(pkg string, in io.Reader, out io.Writer) *terminalHost {
	return &terminalHost{
		pkg: pkg,
		in:  bufio.NewReader(in),
		out: out,
	}
}

func (h *terminalHost) PackageName() string {
	return h.pkg
}

func (h *terminalHost) OpenURL(_ context.Context, rawURL string) error {
	_, err := fmt.Fprintf(h.out, "Open in a browser: %s\n", rawURL)
	return err
}

// Present implements android.PurchaseUI.
func (h *terminalHost) Present(_ context.Context, _ billing.Host, details *billing.ProductDetails) (string, error) {
	fmt.Fprintf(h.out, "Buy %s (%s) for %s\n", details.Title, details.ProductID, details.FormattedPrice())
	fmt.Fprint(h.out, "Purchase token (empty to cancel): ")

	line, err := h.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}

	token := strings.TrimSpace(line)
	if token == "" {
		return "", android.ErrUserCanceled
	}
	return token, nil
}
