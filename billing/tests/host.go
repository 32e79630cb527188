package tests

import (
	"context"
	"sync"
)

// Host is a billing.Host that records opened URLs.
type Host struct {
	Package string

	mu     sync.Mutex
	opened []string
}

func NewHost(pkg string) *Host {
	return &Host{Package: pkg}
}

func (h *Host) PackageName() string {
	return h.Package
}

func (h *Host) OpenURL(_ context.Context, rawURL string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.opened = append(h.opened, rawURL)
	return nil
}

func (h *Host) Opened() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.opened...)
}
