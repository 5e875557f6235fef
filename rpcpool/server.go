// Package rpcpool exposes a gomalloc.Heap over net/rpc: a small
// allocate/free service a separate process can drive without linking
// the allocator itself. This is the external-collaborator surface
// spec.md §1 calls out as out of scope for the core; it's kept here,
// adapted from the teacher's own mpool/rpc pair, as a companion package
// rather than part of the core.
//
// Addresses never cross the wire: the server hands back an opaque
// handle (an internal map key) instead of the raw pointer, since a
// pointer from one process's address space is meaningless — and unsafe
// to smuggle — in another's.
package rpcpool

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"unsafe"

	"github.com/shenjiangwei/gomalloc"
	"github.com/shenjiangwei/gomalloc/internal/obslog"
)

// AllocRequest is a remote allocation request.
type AllocRequest struct {
	Size uint64
}

// AllocResponse carries back an opaque handle, not a pointer.
type AllocResponse struct {
	Handle uint64
	Error  string
}

// FreeRequest releases a previously allocated handle.
type FreeRequest struct {
	Handle uint64
}

// FreeResponse reports the freed block's nominal size.
type FreeResponse struct {
	Size  uint64
	Error string
}

// StatusResponse is the RPC-serializable projection of gomalloc.HeapStatus.
type StatusResponse struct {
	Status gomalloc.HeapStatus
}

// Server is the RPC-exposed side of one gomalloc.Heap.
type Server struct {
	heap *gomalloc.Heap

	mu      sync.Mutex
	handles map[uint64]unsafe.Pointer
	next    uint64
}

// NewServer builds a server around a fresh Heap configured by cfg.
func NewServer(cfg gomalloc.Config) *Server {
	return &Server{
		heap:    gomalloc.New(cfg),
		handles: make(map[uint64]unsafe.Pointer),
	}
}

// Serve registers the server's RPC methods and accepts connections on
// address until the listener errors or the process exits.
func (s *Server) Serve(address string) error {
	srv := rpc.NewServer()
	if err := srv.Register(s); err != nil {
		return fmt.Errorf("rpcpool: register: %w", err)
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("rpcpool: listen: %w", err)
	}
	defer listener.Close()

	obslog.Info("rpcpool: serving on %s", address)
	for {
		conn, err := listener.Accept()
		if err != nil {
			obslog.Error("rpcpool: accept: %v", err)
			return fmt.Errorf("rpcpool: accept: %w", err)
		}
		go srv.ServeConn(conn)
	}
}

// Allocate is the RPC-exposed allocate call.
func (s *Server) Allocate(req *AllocRequest, resp *AllocResponse) error {
	p := s.heap.Alloc(req.Size)
	if p == nil {
		resp.Error = "allocation failed"
		return nil
	}
	s.mu.Lock()
	s.next++
	h := s.next
	s.handles[h] = p
	s.mu.Unlock()
	resp.Handle = h
	return nil
}

// Free is the RPC-exposed free call.
func (s *Server) Free(req *FreeRequest, resp *FreeResponse) error {
	s.mu.Lock()
	p, ok := s.handles[req.Handle]
	if ok {
		delete(s.handles, req.Handle)
	}
	s.mu.Unlock()
	if !ok {
		resp.Error = "unknown handle"
		return nil
	}
	resp.Size = s.heap.Free(p)
	return nil
}

// Status is the RPC-exposed current_heap_status call.
func (s *Server) Status(_ *struct{}, resp *StatusResponse) error {
	resp.Status = s.heap.CurrentHeapStatus()
	return nil
}

// Close frees every outstanding handle, for a clean-ish shutdown in
// tests; a long-running server process normally just exits instead.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, p := range s.handles {
		s.heap.Free(p)
		delete(s.handles, h)
	}
}
