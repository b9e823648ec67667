// Package capi flattens the sftp library behind numeric session handles and
// numeric status codes, the calling convention host-language bindings (C,
// MATLAB, Python FFI) consume. Callers branch on the returned status code;
// the accompanying message is diagnostic text, never to be parsed.
package capi

import (
	"sync"

	"github.com/socib/go-sftp"
)

// Handle identifies a registered session. It packs a slot index in the low
// 32 bits and a generation counter in the high 32 bits, so a handle kept
// around after CloseSession can never reach a slot that was since recycled
// for another session.
type Handle uint64

// InvalidHandle is never returned for a successfully opened session.
const InvalidHandle Handle = 0

type slot struct {
	gen uint32
	s   *sftp.Session
}

// Registry owns the handle table. All methods are safe for concurrent use;
// operations on any one session must still be serialized by the caller, as
// a session supports one operation at a time.
type Registry struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Adopt registers an already-established session and returns its handle.
// OpenSession uses it internally; embedders with their own transport
// (NewSessionPipe) can use it directly.
func (r *Registry) Adopt(s *sftp.Session) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]

		r.slots[idx].s = s

		return mkHandle(idx, r.slots[idx].gen)
	}

	// Generations start at one, so the zero Handle is never valid.
	r.slots = append(r.slots, slot{gen: 1, s: s})

	return mkHandle(uint32(len(r.slots)-1), 1)
}

func mkHandle(idx, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(idx))
}

// session resolves h, reporting StatusStateError for stale, foreign or
// already-closed handles.
func (r *Registry) session(h Handle) (*sftp.Session, Status, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, gen := uint32(h), uint32(h>>32)

	if idx >= uint32(len(r.slots)) || r.slots[idx].gen != gen || r.slots[idx].s == nil {
		return nil, StatusStateError, "invalid or stale session handle"
	}

	return r.slots[idx].s, StatusOK, ""
}

// retire frees h's slot for reuse and returns the session it held.
// The generation bump invalidates every copy of h still in the wild.
func (r *Registry) retire(h Handle) (*sftp.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, gen := uint32(h), uint32(h>>32)

	if idx >= uint32(len(r.slots)) || r.slots[idx].gen != gen || r.slots[idx].s == nil {
		return nil, false
	}

	s := r.slots[idx].s

	r.slots[idx].s = nil
	r.slots[idx].gen++
	r.free = append(r.free, idx)

	return s, true
}

// Len reports the number of live sessions in the table.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for i := range r.slots {
		if r.slots[i].s != nil {
			n++
		}
	}

	return n
}
