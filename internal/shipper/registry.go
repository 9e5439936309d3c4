// Package shipper is the call-dispatch layer: a registry of operations keyed
// by hashed name, a per-call handle, and the dispatcher that drives an
// inbound call from unexpected receive through execute and complete.
package shipper

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/tagrpc/internal/opid"
	"github.com/danmuck/tagrpc/internal/wire"
)

var ErrDuplicateOperation = errors.New("shipper: operation id already registered")

// Handler is one registered operation. Execute runs user logic for an
// inbound call; DecodeRequest and EncodeResponse translate the request and
// response structs over the bounded cursors; ResponseSize reports the exact
// encoded size of a response so the dispatcher can allocate the reply buffer
// up front and reject responses that cannot fit one message.
type Handler interface {
	Execute(h *CallHandle) error
	DecodeRequest(d *wire.Decoder, in any) error
	ResponseSize(out any) (int, error)
	EncodeResponse(e *wire.Encoder, out any) error
}

// Registry maps operation ids to handlers. It is append-only: operations
// register once at startup and are never removed. Lookup is safe for
// concurrent readers; Register is not meant to race with dispatch.
type Registry struct {
	mu    sync.RWMutex
	procs map[uint32]Handler
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[uint32]Handler)}
}

// Register hashes name to an operation id and stores h under it. A second
// registration under a colliding id fails rather than overwriting; callers
// pick collision-free names or fail fast at startup.
func (r *Registry) Register(name string, h Handler) (uint32, error) {
	id := opid.ForName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.procs[id]; exists {
		return 0, fmt.Errorf("%w: %q -> %#08x", ErrDuplicateOperation, name, id)
	}
	r.procs[id] = h
	return id, nil
}

// Lookup returns the handler registered under id.
func (r *Registry) Lookup(id uint32) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.procs[id]
	return h, ok
}
