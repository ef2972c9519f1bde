package rag

import "sync/atomic"

// Holder publishes the active System. An upload builds a fresh System and
// swaps it in only once it is ready, so readers never see a half-built one.
type Holder struct {
	current atomic.Pointer[System]
}

func NewHolder(s *System) *Holder {
	h := &Holder{}
	if s != nil {
		h.current.Store(s)
	}
	return h
}

// Current may return nil when no system has been set.
func (h *Holder) Current() *System {
	return h.current.Load()
}

// Replace installs s and returns the previous system.
func (h *Holder) Replace(s *System) *System {
	return h.current.Swap(s)
}
