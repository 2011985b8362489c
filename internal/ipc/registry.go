// Package ipc implements synchronous channel communication: a per-channel
// single-slot listener registry and the receive/send handoff.
//
// There is no buffering. A send succeeds only if a receiver is already
// waiting on the channel; otherwise it fails with NoReceiver.
package ipc

import "sync/atomic"

const noListener = -1

// Registry maps each channel to at most one waiting receiver.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	listeners []atomic.Int32
}

// NewRegistry creates a registry for channels [0, n).
func NewRegistry(n int) *Registry {
	r := &Registry{listeners: make([]atomic.Int32, n)}
	for i := range r.listeners {
		r.listeners[i].Store(noListener)
	}
	return r
}

// Len returns the number of channels.
func (r *Registry) Len() int { return len(r.listeners) }

// Listen registers pid as ch's receiver. Only one receiver can listen on a
// channel at a time.
func (r *Registry) Listen(ch uint16, pid int) bool {
	if int(ch) >= len(r.listeners) {
		return false
	}
	return r.listeners[ch].CompareAndSwap(noListener, int32(pid))
}

// Claim removes and returns ch's receiver. Exactly one sender can claim a
// given registration.
func (r *Registry) Claim(ch uint16) (int, bool) {
	if int(ch) >= len(r.listeners) {
		return 0, false
	}
	pid := r.listeners[ch].Swap(noListener)
	return int(pid), pid != noListener
}

// Unlisten withdraws pid's registration. It fails if a sender claimed it
// first.
func (r *Registry) Unlisten(ch uint16, pid int) bool {
	if int(ch) >= len(r.listeners) {
		return false
	}
	return r.listeners[ch].CompareAndSwap(int32(pid), noListener)
}

// Listener returns ch's receiver, or -1.
func (r *Registry) Listener(ch uint16) int {
	if int(ch) >= len(r.listeners) {
		return noListener
	}
	return int(r.listeners[ch].Load())
}
