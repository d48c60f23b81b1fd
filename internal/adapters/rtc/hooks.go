package rtc

import "sync"

// hooks runs registered callbacks once. Callbacks added after firing run
// immediately.
type hooks struct {
	mu    sync.Mutex
	fired bool
	fns   []func()
}

func (h *hooks) add(fn func()) {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		fn()
		return
	}
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *hooks) fire() {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return
	}
	h.fired = true
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
