package inspector

import (
	"errors"
	"sort"
	"sync"
)

// Health collects remote failures for one scan so that they can be reported
// on the scan result instead of being raised to every practice.
type Health struct {
	mu            sync.Mutex
	authFailed    bool
	serviceErrors map[string]struct{}
}

// NewHealth returns an empty recorder.
func NewHealth() *Health {
	return &Health{serviceErrors: map[string]struct{}{}}
}

// Record classifies err. Not-found and not-supported errors are ordinary
// answers and are ignored.
func (h *Health) Record(err error) {
	if h == nil || err == nil {
		return
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotSupported) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if errors.Is(err, ErrUnauthorized) {
		h.authFailed = true
		return
	}
	h.serviceErrors[err.Error()] = struct{}{}
}

// AuthFailed reports whether any remote call was rejected for authentication.
func (h *Health) AuthFailed() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.authFailed
}

// ServiceErrors returns the distinct non-auth failures in sorted order.
func (h *Health) ServiceErrors() []string {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.serviceErrors))
	for msg := range h.serviceErrors {
		out = append(out, msg)
	}
	sort.Strings(out)
	return out
}
