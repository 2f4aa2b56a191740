package dsmalloc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dreamware/torua-dsm/internal/cluster"
	"github.com/dreamware/torua-dsm/internal/dsmerr"
)

// AllocRequest is POSTed to the manager's /alloc endpoint by any node
// issuing a collective dsm_alloc call.
type AllocRequest struct {
	NBytes int `json:"n_bytes"`
}

// AllocResponse is the manager's reply: the base page index and page
// count granted.
type AllocResponse struct {
	Base     uint64 `json:"base"`
	NumPages uint64 `json:"num_pages"`
}

// FreeRequest is POSTed to the manager's /free endpoint for a collective
// dsm_free call.
type FreeRequest struct {
	Base uint64 `json:"base"`
}

// Service exposes an Allocator over HTTP, the same request/response JSON
// style internal/cluster uses for registration, so dsm_alloc/dsm_free ride
// the existing control plane instead of a second transport.
type Service struct {
	alloc *Allocator
}

// NewService wraps alloc for HTTP handling.
func NewService(alloc *Allocator) *Service {
	return &Service{alloc: alloc}
}

// RegisterHandlers attaches /alloc and /free to mux.
func (s *Service) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/alloc", s.handleAlloc)
	mux.HandleFunc("/free", s.handleFree)
}

func (s *Service) handleAlloc(w http.ResponseWriter, r *http.Request) {
	var req AllocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a, err := s.alloc.Alloc(req.NBytes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, AllocResponse{Base: a.Base, NumPages: a.NumPages})
}

func (s *Service) handleFree(w http.ResponseWriter, r *http.Request) {
	var req FreeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.alloc.Free(req.Base); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Client is the node-side handle used to issue collective alloc/free
// calls against the manager's Service over HTTP.
type Client struct {
	managerAddr string
}

// NewClient constructs a Client targeting the manager's control-plane
// address (the same host:port internal/cluster registration uses).
func NewClient(managerAddr string) *Client {
	return &Client{managerAddr: managerAddr}
}

// Alloc requests nBytes worth of pages from the manager.
func (c *Client) Alloc(ctx context.Context, nBytes int) (Allocation, error) {
	var resp AllocResponse
	url := fmt.Sprintf("http://%s/alloc", c.managerAddr)
	if err := cluster.PostJSON(ctx, url, AllocRequest{NBytes: nBytes}, &resp); err != nil {
		return Allocation{}, dsmerr.Wrap(dsmerr.KindAlloc, fmt.Sprintf("alloc %d bytes", nBytes), err)
	}
	return Allocation{Base: resp.Base, NumPages: resp.NumPages}, nil
}

// Free releases the allocation based at base.
func (c *Client) Free(ctx context.Context, base uint64) error {
	url := fmt.Sprintf("http://%s/free", c.managerAddr)
	if err := cluster.PostJSON(ctx, url, FreeRequest{Base: base}, nil); err != nil {
		return dsmerr.Wrap(dsmerr.KindAlloc, fmt.Sprintf("free base=%d", base), err)
	}
	return nil
}
